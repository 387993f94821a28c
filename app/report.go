package app

import (
	"fmt"

	"arvis/domain/stage"
	"arvis/internal/markdown"
)

// BuildReport renders the run as Markdown: one section per study with its
// key tables, then the decision ledger
func BuildReport(title string, out *PipelineOutcome) []byte {
	doc := markdown.New(title)
	doc.Paragraph("Run `%s`. %d stages, %d failed, %d decisions recorded.",
		out.RunID, out.Stages.Overall.TotalStages, out.Stages.Overall.Failed, out.Stages.Overall.Decisions)
	if final := out.FinalItems(); final.Len() > 0 {
		doc.Paragraph("Final item set (%d items): %s", final.Len(), final)
		var removed []string
		for _, r := range final.Removals() {
			removed = append(removed, fmt.Sprintf("%s removed at %s: %s", r.Item, r.Stage, r.Reason))
		}
		doc.Bullets(removed...)
	}

	if dev := out.Development; dev != nil {
		doc.Heading(2, "Study 1: development")
		if dev.Profile != nil {
			doc.Heading(3, "Item distributions").Table(distributionTable("", dev.Profile, nil))
		}
		if dev.Parallel.Rows != nil {
			doc.Heading(3, "Parallel analysis").
				Paragraph("%d iterations, %.0fth percentile, seed %d: retain %d factors.",
					dev.Parallel.Iterations, dev.Parallel.Quantile*100, dev.Parallel.Seed, dev.Parallel.Recommended).
				Table(parallelTable("", dev.Parallel))
		}
		if dev.FactorCount.Table != nil {
			doc.Heading(3, "Factor count").Paragraph("%s", dev.FactorCount.Rationale).Table(factorCountTable("", dev.FactorCount))
		}
		if dev.Model.Items != nil {
			doc.Heading(3, "Final loadings").Table(loadingsTable("", dev.Model))
		}
		if dev.Reliability != nil {
			doc.Heading(3, "Reliability").Table(reliabilityTable("", dev.Reliability))
		}
	}

	if conf := out.Confirmation; conf != nil {
		doc.Heading(2, "Study 2: confirmation")
		if conf.Respecification != nil {
			doc.Heading(3, "Respecification").Paragraph("%s", conf.Respecification.Rationale)
		}
		if conf.Ranking != nil {
			doc.Heading(3, "Model comparison").Table(modelComparisonTable("", conf.Ranking))
		}
		if conf.LikelihoodRatios != nil {
			doc.Table(lrtTable("", conf.LikelihoodRatios, conf.LRTAlpha))
		}
		if conf.Selection.Rationale != "" {
			doc.Paragraph("%s", conf.Selection.Rationale).Table(loadingsTable("", conf.Selection.Chosen))
		}
		if conf.Reliability != nil {
			doc.Heading(3, "Reliability").Table(reliabilityTable("", conf.Reliability))
		}
		if conf.Correlations != nil {
			doc.Heading(3, "Validity").Table(correlationsTable("", conf.Correlations))
		}
		if conf.Comparisons != nil {
			doc.Table(comparisonsTable("", conf.Comparisons, conf.ValidityAlpha))
		}
	}

	if rt := out.Retest; rt != nil {
		doc.Heading(2, "Study 3: test-retest")
		for _, scale := range sortedKeys(rt.Reports) {
			r := rt.Reports[scale]
			doc.Heading(3, scale).
				Paragraph("%d of %d first-wave subjects matched the retest wave.", r.Join.Matched, r.Join.LeftRows).
				Table(retestTable("", r))
		}
	}

	doc.Heading(2, "Decision ledger").Table(ledgerTable(out.Stages))
	if failed := failedStages(out.Stages); len(failed) > 0 {
		doc.Heading(2, "Failed stages").Bullets(failed...)
	}
	return doc.Bytes()
}

func failedStages(result *stage.PipelineResult) []string {
	var out []string
	for _, r := range result.Results {
		if !r.Success {
			out = append(out, fmt.Sprintf("%s/%s: %s", r.Study, r.StageName, r.Error))
		}
	}
	return out
}
