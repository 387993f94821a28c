package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"arvis/domain/dataset"

	"gonum.org/v1/gonum/mat"
)

// FactorSpec is one latent factor and the standardized loadings of its items
type FactorSpec struct {
	Name     string
	Loadings []float64
}

// SurveyConfig configures the synthetic Likert survey generator
type SurveyConfig struct {
	Name              string
	IDColumn          string
	ItemPrefix        string
	Subjects          int
	Factors           []FactorSpec
	FactorCorrelation float64
	// Thresholds cut the continuous response into len+1 ordered categories starting at 1
	Thresholds []float64
	// AttentionColumn, when set, adds a check column; AttentionFailures rows get 1, the rest 0
	AttentionColumn   string
	AttentionFailures int
	Seed              int64
}

// DefaultSurveyConfig returns a two-factor, nine-item, five-point survey
func DefaultSurveyConfig() SurveyConfig {
	return SurveyConfig{
		Name:       "arvis_wide",
		IDColumn:   "id",
		ItemPrefix: "arvis_",
		Subjects:   400,
		Factors: []FactorSpec{
			{Name: "avoidance", Loadings: []float64{0.80, 0.75, 0.70, 0.70, 0.65}},
			{Name: "vigilance", Loadings: []float64{0.75, 0.70, 0.65, 0.60}},
		},
		FactorCorrelation: 0.4,
		Thresholds:        []float64{-1.5, -0.5, 0.5, 1.5},
		Seed:              42,
	}
}

// SurveyGenerator produces response tables with a known factor structure
type SurveyGenerator struct {
	config SurveyConfig
	rng    *rand.Rand
}

// NewSurveyGenerator creates a generator seeded from the config
func NewSurveyGenerator(config SurveyConfig) *SurveyGenerator {
	return &SurveyGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Items returns the generated item names in factor order
func (g *SurveyGenerator) Items() []string {
	var out []string
	n := 0
	for _, f := range g.config.Factors {
		for range f.Loadings {
			n++
			out = append(out, fmt.Sprintf("%s%d", g.config.ItemPrefix, n))
		}
	}
	return out
}

// ItemsOf returns the item names belonging to one factor
func (g *SurveyGenerator) ItemsOf(factor string) []string {
	var out []string
	n := 0
	for _, f := range g.config.Factors {
		for range f.Loadings {
			n++
			if f.Name == factor {
				out = append(out, fmt.Sprintf("%s%d", g.config.ItemPrefix, n))
			}
		}
	}
	return out
}

// Generate draws one response table. Latent scores come from a multivariate
// normal with the configured factor correlation.
func (g *SurveyGenerator) Generate() (*dataset.Dataset, error) {
	scores, err := g.latentScores()
	if err != nil {
		return nil, err
	}
	items := g.Items()
	columns := append([]string(nil), items...)
	if g.config.AttentionColumn != "" {
		columns = append(columns, g.config.AttentionColumn)
	}

	ids := make([]string, g.config.Subjects)
	values := make([][]float64, g.config.Subjects)
	for s := 0; s < g.config.Subjects; s++ {
		ids[s] = fmt.Sprintf("S%04d", s+1)
		row := make([]float64, 0, len(columns))
		for f, fs := range g.config.Factors {
			for _, l := range fs.Loadings {
				x := l*scores[s][f] + math.Sqrt(1-l*l)*g.rng.NormFloat64()
				row = append(row, g.categorize(x))
			}
		}
		if g.config.AttentionColumn != "" {
			check := 0.0
			if s < g.config.AttentionFailures {
				check = 1
			}
			row = append(row, check)
		}
		values[s] = row
	}
	return dataset.New(g.config.Name, g.config.IDColumn, ids, columns, values)
}

// Retest draws a second wave for a subset of subjects: each continuous item
// response keeps the given correlation with the first wave's latent response
func (g *SurveyGenerator) Retest(first *dataset.Dataset, subjects int, stability float64) (*dataset.Dataset, error) {
	if subjects > first.Rows() {
		subjects = first.Rows()
	}
	items := g.Items()
	ids := make([]string, subjects)
	values := make([][]float64, subjects)
	for s := 0; s < subjects; s++ {
		ids[s] = first.SubjectIDs[s]
		row := make([]float64, len(items))
		for j, item := range items {
			col, ok := first.ColumnIndex(item)
			if !ok {
				return nil, fmt.Errorf("retest: %s missing from first wave", item)
			}
			// recentre the category on the latent scale before perturbing it
			base := (first.Values[s][col] - 3) / 1.2
			x := stability*base + math.Sqrt(1-stability*stability)*g.rng.NormFloat64()
			row[j] = g.categorize(x)
		}
		values[s] = row
	}
	return dataset.New(g.config.Name+"_retest", g.config.IDColumn, ids, items, values)
}

func (g *SurveyGenerator) latentScores() ([][]float64, error) {
	k := len(g.config.Factors)
	phi := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			if a == b {
				phi.SetSym(a, a, 1)
			} else {
				phi.SetSym(a, b, g.config.FactorCorrelation)
			}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(phi) {
		return nil, fmt.Errorf("factor correlation %.2f is not positive definite for %d factors", g.config.FactorCorrelation, k)
	}
	var l mat.TriDense
	chol.LTo(&l)

	out := make([][]float64, g.config.Subjects)
	z := make([]float64, k)
	for s := range out {
		for a := range z {
			z[a] = g.rng.NormFloat64()
		}
		out[s] = make([]float64, k)
		for a := 0; a < k; a++ {
			for b := 0; b <= a; b++ {
				out[s][a] += l.At(a, b) * z[b]
			}
		}
	}
	return out, nil
}

func (g *SurveyGenerator) categorize(x float64) float64 {
	cat := 1.0
	for _, t := range g.config.Thresholds {
		if x > t {
			cat++
		}
	}
	return cat
}
