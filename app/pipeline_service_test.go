package app

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"arvis/adapters/report"
	"arvis/adapters/rng"
	"arvis/adapters/stats/cfa"
	"arvis/adapters/stats/efa"
	"arvis/domain/dataset"
	"arvis/domain/run"
	"arvis/domain/stage"
	"arvis/internal/config"
	"arvis/internal/testkit"
)

type fixture struct {
	cfg       *config.Config
	reader    *testkit.MemoryReader
	writer    *testkit.MemoryWriter
	artifacts *testkit.MemoryArtifacts
	survey    *testkit.SurveyGenerator
}

// newFixture registers the four inputs of a run: a 242-subject first sample
// with six failed attention checks, a second sample, external measures for
// the second sample and a retest wave of 202 attentive first-wave subjects
func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := testkit.DefaultSurveyConfig()
	sc.Subjects = 242
	sc.AttentionColumn = "attention_check"
	sc.AttentionFailures = 6
	survey := testkit.NewSurveyGenerator(sc)
	first, err := survey.Generate()
	require.NoError(t, err)
	attentive := make([]int, 0, sc.Subjects-sc.AttentionFailures)
	for r := sc.AttentionFailures; r < sc.Subjects; r++ {
		attentive = append(attentive, r)
	}
	second, err := survey.Retest(first.SelectRows(attentive), 202, 0.9)
	require.NoError(t, err)

	sc2 := testkit.DefaultSurveyConfig()
	sc2.Name = "arvis_wide_sample2"
	sc2.Subjects = 300
	sc2.Seed = 7
	sample2, err := testkit.NewSurveyGenerator(sc2).Generate()
	require.NoError(t, err)

	reader := testkit.NewMemoryReader()
	reader.Put("study1", first)
	reader.Put("study2", sample2)
	reader.Put("other", otherMeasures(t, sample2, survey.Items()))
	reader.Put("retest", second)

	cfg := config.Default()
	cfg.Inputs.Study1 = "study1"
	cfg.Inputs.Study2 = "study2"
	cfg.Inputs.OtherMeasures = "other"
	cfg.Inputs.Retest = "retest"
	cfg.Screening.MinInterItemR = 0.2
	cfg.Factor.PAIterations = 60
	cfg.Seed = 42
	cfg.Validity.Convergent = []string{"fear"}
	cfg.Validity.Divergent = []string{"unrelated"}

	return &fixture{
		cfg:       cfg,
		reader:    reader,
		writer:    testkit.NewMemoryWriter(),
		artifacts: testkit.NewMemoryArtifacts(),
		survey:    survey,
	}
}

// otherMeasures builds a convergent measure tracking the item sum and an
// unrelated one
func otherMeasures(t *testing.T, ds *dataset.Dataset, items []string) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewSource(11))
	m, err := ds.Matrix(items)
	require.NoError(t, err)
	values := make([][]float64, ds.Rows())
	for i := range values {
		sum := 0.0
		for j := range items {
			sum += m.At(i, j)
		}
		values[i] = []float64{sum + 3*r.NormFloat64(), r.NormFloat64()}
	}
	out, err := dataset.New("arvis_other_measures", ds.IDColumn, append([]string(nil), ds.SubjectIDs...),
		[]string{"fear", "unrelated"}, values)
	require.NoError(t, err)
	return out
}

func (f *fixture) service() *PipelineService {
	return NewPipelineService(f.cfg, PipelineDeps{
		Reader:    f.reader,
		Writer:    f.writer,
		Artifacts: f.artifacts,
		RNG:       rng.NewAdapter(),
		EFA:       efa.NewEstimator(),
		SEM:       cfa.NewEstimator(),
		Renderer:  report.NewHTMLRenderer(),
	}, "test", quietLogger())
}

func TestDevelopmentStudy(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Study2, f.cfg.Inputs.Retest = "", ""
	svc := f.service()

	res, err := svc.Development().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 236, res.Cleaned.Rows(), "six failed attention checks removed")
	assert.True(t, res.Items.Frozen())
	assert.Equal(t, 2, res.Parallel.Recommended)
	assert.Equal(t, 2, res.FactorCount.Chosen)
	assert.LessOrEqual(t, res.Items.Len(), 2*f.cfg.Factor.ItemsPerFactor)
	assert.Len(t, res.Subscales, 2)

	total := res.Reliability[TotalScale]
	assert.Greater(t, total.Alpha, 0.6)
	assert.LessOrEqual(t, total.OmegaHierarchical, total.OmegaTotal+1e-9)

	attention, ok := svc.Runner().Result().Find(stage.StudyDevelopment, stage.StageAttentionCheck)
	require.True(t, ok)
	require.Len(t, attention.Decisions, 1)
	assert.Contains(t, attention.Decisions[0].Outcome, "6 of 242 rows removed, 236 remain")

	for _, name := range []string{"study1_cleaned", "study1_distribution", "study1_parallel_analysis", "study1_factor_count", "study1_loadings_final", "study1_reliability"} {
		_, ok := f.writer.Table(name)
		assert.True(t, ok, name)
	}
	assert.NoError(t, svc.Runner().Result().Validate())
}

func TestDevelopmentStudyIsDeterministic(t *testing.T) {
	f1, f2 := newFixture(t), newFixture(t)
	a, err := f1.service().Development().Run(context.Background())
	require.NoError(t, err)
	b, err := f2.service().Development().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Items.Items(), b.Items.Items())
	assert.Equal(t, a.Parallel.Rows, b.Parallel.Rows)
	assert.Equal(t, a.Reliability[TotalScale].OmegaHierarchical, b.Reliability[TotalScale].OmegaHierarchical)
}

func TestFullRun(t *testing.T) {
	f := newFixture(t)
	out, err := f.service().Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, out.Confirmation)
	assert.NotEmpty(t, out.Confirmation.Selection.Chosen.Label)
	assert.NotEmpty(t, out.Confirmation.Ranking)
	assert.NotEmpty(t, out.Confirmation.Comparisons)
	assert.True(t, out.FinalItems().Frozen())

	require.NotNil(t, out.Retest)
	total := out.Retest.Reports[TotalScale]
	assert.Equal(t, 236, total.Join.LeftRows)
	assert.Equal(t, 202, total.Join.RightRows)
	assert.Equal(t, 202, total.Join.Matched)
	assert.Equal(t, 202, total.N)
	for _, icc := range total.ICC {
		assert.GreaterOrEqual(t, icc.Value, -1.0, icc.Label())
		assert.LessOrEqual(t, icc.Value, 1.0, icc.Label())
	}

	assert.True(t, f.writer.Closed())
	_, ok := f.writer.Table("decision_ledger")
	assert.True(t, ok)

	raw, ok := f.artifacts.Get(ManifestKey)
	require.True(t, ok)
	var manifest run.RunManifest
	require.NoError(t, yaml.Unmarshal(raw, &manifest))
	assert.Equal(t, out.FinalItems().Items(), manifest.FinalItems)
	assert.Equal(t, out.Stages.Hash(), manifest.DecisionHash)

	md, ok := f.artifacts.Get(ReportKey)
	require.True(t, ok)
	for _, section := range []string{"Study 1: development", "Study 2: confirmation", "Study 3: test-retest", "Decision ledger"} {
		assert.True(t, strings.Contains(string(md), section), section)
	}
	page, ok := f.artifacts.Get(ReportHTMLKey)
	require.True(t, ok)
	assert.Contains(t, string(page), "<table>")
}

func TestRunFailsOnMissingInput(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Study1 = "nowhere"
	out, err := f.service().Run(context.Background())
	require.Error(t, err)

	load, ok := out.Stages.Find(stage.StudyDevelopment, stage.StageLoad)
	require.True(t, ok)
	assert.False(t, load.Success)
	_, saved := f.artifacts.Get(ManifestKey)
	assert.False(t, saved, "no manifest without a final item set")
	assert.True(t, f.writer.Closed())
}

func TestConfirmationNeedsFrozenItems(t *testing.T) {
	f := newFixture(t)
	open := dataset.NewItemSet(f.survey.Items())
	_, err := f.service().Confirmation().Run(context.Background(), open, map[string][]string{"f1": f.survey.Items()})
	assert.Error(t, err)
}

func TestSpecificationOf(t *testing.T) {
	spec := SpecificationOf(map[string][]string{
		"f2": {"arvis_7", "arvis_6"},
		"f1": {"arvis_1", "arvis_2"},
	})
	assert.Equal(t, "two_factor", spec.Name)
	require.Len(t, spec.Factors, 2)
	assert.Equal(t, "f1", spec.Factors[0].Name)
	assert.Equal(t, []string{"arvis_6", "arvis_7"}, spec.Factors[1].Indicators)
	assert.Equal(t, "four", countWord(4))
	assert.Equal(t, "12", countWord(12))
}
