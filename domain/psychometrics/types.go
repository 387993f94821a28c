package psychometrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// CORRELATION
// ============================================================================

// CorrelationMatrix is a symmetric item × item matrix with a unit diagonal
type CorrelationMatrix struct {
	Items  []string      `json:"items"`
	Values *mat.SymDense `json:"-"`
	N      int           `json:"n"`
}

// At returns the correlation between two named items
func (c CorrelationMatrix) At(a, b string) (float64, error) {
	i, j := indexOf(c.Items, a), indexOf(c.Items, b)
	if i < 0 || j < 0 {
		return 0, fmt.Errorf("correlation between %s and %s: item not in matrix", a, b)
	}
	return c.Values.At(i, j), nil
}

// ZeroedDiagonal returns a copy with the diagonal set to zero, the form used
// before averaging each item's correlation with the others
func (c CorrelationMatrix) ZeroedDiagonal() *mat.SymDense {
	n := len(c.Items)
	out := mat.NewSymDense(n, nil)
	out.CopySym(c.Values)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 0)
	}
	return out
}

// MeanInterItem returns each item's mean correlation with all other items
func (c CorrelationMatrix) MeanInterItem() map[string]float64 {
	n := len(c.Items)
	out := make(map[string]float64, n)
	if n < 2 {
		for _, it := range c.Items {
			out[it] = 0
		}
		return out
	}
	z := c.ZeroedDiagonal()
	for i, it := range c.Items {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += z.At(i, j)
		}
		out[it] = sum / float64(n-1)
	}
	return out
}

// ============================================================================
// FACTOR MODELS
// ============================================================================

// Rotation names an EFA rotation criterion
type Rotation string

const (
	RotationNone      Rotation = "none"
	RotationOblimin   Rotation = "oblimin"
	RotationVarimax   Rotation = "varimax"
	RotationGeomin    Rotation = "geomin"
	RotationQuartimin Rotation = "quartimin"
)

// Oblique reports whether factors are allowed to correlate
func (r Rotation) Oblique() bool {
	return r == RotationOblimin || r == RotationQuartimin || r == RotationGeomin
}

// FitIndices carries the fit statistics common to EFA and CFA solutions.
// Indices that do not apply to an estimator are left at zero.
type FitIndices struct {
	N              int     `json:"n" yaml:"n"`
	ChiSquare      float64 `json:"chi_square" yaml:"chi_square"`
	DF             int     `json:"df" yaml:"df"`
	PValue         float64 `json:"p_value" yaml:"p_value"`
	RMSEA          float64 `json:"rmsea" yaml:"rmsea"`
	RMSEALower     float64 `json:"rmsea_lower" yaml:"rmsea_lower"`
	RMSEAUpper     float64 `json:"rmsea_upper" yaml:"rmsea_upper"`
	CFI            float64 `json:"cfi" yaml:"cfi"`
	TLI            float64 `json:"tli" yaml:"tli"`
	SRMR           float64 `json:"srmr" yaml:"srmr"`
	AIC            float64 `json:"aic" yaml:"aic"`
	BIC            float64 `json:"bic" yaml:"bic"`
	FreeParameters int     `json:"free_parameters" yaml:"free_parameters"`
	NullChiSquare  float64 `json:"null_chi_square" yaml:"null_chi_square"`
	NullDF         int     `json:"null_df" yaml:"null_df"`
	Objective      float64 `json:"objective" yaml:"objective"`
}

// DegenerateSolutionWarning flags a Heywood-type or otherwise unstable solution.
// It is surfaced on results and never aborts the pipeline.
type DegenerateSolutionWarning struct {
	Item    string  `json:"item,omitempty" yaml:"item,omitempty"`
	Kind    string  `json:"kind" yaml:"kind"`
	Value   float64 `json:"value" yaml:"value"`
	Message string  `json:"message" yaml:"message"`
}

func (w DegenerateSolutionWarning) Error() string {
	return w.Message
}

// Warning kinds
const (
	WarningHeywood          = "heywood"
	WarningUltraHeywood     = "ultra_heywood"
	WarningNegativeVariance = "negative_variance"
	WarningGeneralLoading   = "general_loading_out_of_range"
	WarningTwoGroupFactors  = "two_group_factors"
	WarningRotation         = "rotation_not_converged"
)

// FactorModel is one fitted factor solution. A new fit is a new value.
type FactorModel struct {
	Label              string                      `json:"label"`
	Method             string                      `json:"method"`
	Rotation           Rotation                    `json:"rotation,omitempty"`
	Items              []string                    `json:"items"`
	Factors            []string                    `json:"factors"`
	Loadings           [][]float64                 `json:"loadings"`
	FactorCorrelations [][]float64                 `json:"factor_correlations"`
	Uniquenesses       []float64                   `json:"uniquenesses"`
	Fit                FitIndices                  `json:"fit"`
	Warnings           []DegenerateSolutionWarning `json:"warnings,omitempty"`
	Iterations         int                         `json:"iterations"`

	// Confirmatory solutions also carry their specification and parameter table
	Specification *CFASpecification `json:"specification,omitempty"`
	Parameters    []Parameter       `json:"parameters,omitempty"`
}

// FactorCount returns the number of factors in the solution
func (m FactorModel) FactorCount() int {
	return len(m.Factors)
}

// ItemLoadings returns the loading row for a named item
func (m FactorModel) ItemLoadings(item string) ([]float64, bool) {
	i := indexOf(m.Items, item)
	if i < 0 {
		return nil, false
	}
	return m.Loadings[i], true
}

// PrimaryFactor returns the factor index with the largest absolute loading.
// Ties resolve to the lower index.
func (m FactorModel) PrimaryFactor(item string) (int, bool) {
	row, ok := m.ItemLoadings(item)
	if !ok || len(row) == 0 {
		return 0, false
	}
	best := 0
	for f := 1; f < len(row); f++ {
		if math.Abs(row[f]) > math.Abs(row[best]) {
			best = f
		}
	}
	return best, true
}

// MaxFactorCorrelation returns the largest absolute off-diagonal inter-factor correlation
func (m FactorModel) MaxFactorCorrelation() float64 {
	maxR := 0.0
	for i := range m.FactorCorrelations {
		for j := range m.FactorCorrelations[i] {
			if i != j && math.Abs(m.FactorCorrelations[i][j]) > maxR {
				maxR = math.Abs(m.FactorCorrelations[i][j])
			}
		}
	}
	return maxR
}

// ParameterKind classifies a CFA parameter
type ParameterKind string

const (
	ParamLoading            ParameterKind = "loading"
	ParamFactorCorrelation  ParameterKind = "factor_correlation"
	ParamResidualVariance   ParameterKind = "residual_variance"
	ParamResidualCovariance ParameterKind = "residual_covariance"
)

// Parameter is one row of a CFA parameter table
type Parameter struct {
	Kind         ParameterKind `json:"kind"`
	Left         string        `json:"left"`
	Right        string        `json:"right"`
	Estimate     float64       `json:"estimate"`
	StdError     float64       `json:"std_error"`
	Standardized float64       `json:"standardized"`
	Free         bool          `json:"free"`
}

// Label renders the parameter in lavaan-like operator syntax
func (p Parameter) Label() string {
	switch p.Kind {
	case ParamLoading:
		return p.Left + " =~ " + p.Right
	default:
		return p.Left + " ~~ " + p.Right
	}
}

// ============================================================================
// CFA SPECIFICATIONS
// ============================================================================

// LatentFactor names a latent variable and its indicators
type LatentFactor struct {
	Name       string   `json:"name" yaml:"name"`
	Indicators []string `json:"indicators" yaml:"indicators"`
}

// ItemPair is an unordered pair of items, stored with A < B
type ItemPair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// NewItemPair orders the pair canonically
func NewItemPair(a, b string) ItemPair {
	if b < a {
		a, b = b, a
	}
	return ItemPair{A: a, B: b}
}

func (p ItemPair) String() string {
	return p.A + " ~~ " + p.B
}

// CFASpecification is a named, versioned confirmatory model. Revisions are new
// values produced by the With*/Without* methods; nothing edits a spec in place.
type CFASpecification struct {
	Name                string         `json:"name" yaml:"name"`
	Version             int            `json:"version" yaml:"version"`
	Factors             []LatentFactor `json:"factors" yaml:"factors"`
	ResidualCovariances []ItemPair     `json:"residual_covariances,omitempty" yaml:"residual_covariances,omitempty"`
}

// NewCFASpecification copies and canonicalizes factors and covariance pairs
func NewCFASpecification(name string, factors []LatentFactor, covariances []ItemPair) CFASpecification {
	spec := CFASpecification{Name: name, Version: 1}
	for _, f := range factors {
		ind := append([]string(nil), f.Indicators...)
		sort.Strings(ind)
		spec.Factors = append(spec.Factors, LatentFactor{Name: f.Name, Indicators: ind})
	}
	for _, p := range covariances {
		spec.ResidualCovariances = append(spec.ResidualCovariances, NewItemPair(p.A, p.B))
	}
	sortPairs(spec.ResidualCovariances)
	return spec
}

// ID renders name and version, e.g. "two_factor_cov@v2"
func (s CFASpecification) ID() string {
	return fmt.Sprintf("%s@v%d", s.Name, s.Version)
}

// Items returns every indicator in sorted order
func (s CFASpecification) Items() []string {
	var items []string
	seen := map[string]bool{}
	for _, f := range s.Factors {
		for _, it := range f.Indicators {
			if !seen[it] {
				seen[it] = true
				items = append(items, it)
			}
		}
	}
	sort.Strings(items)
	return items
}

// FactorOf returns the factor an indicator loads on
func (s CFASpecification) FactorOf(item string) (string, bool) {
	for _, f := range s.Factors {
		for _, it := range f.Indicators {
			if it == item {
				return f.Name, true
			}
		}
	}
	return "", false
}

// HasResidualCovariance reports whether a pair is freely estimated
func (s CFASpecification) HasResidualCovariance(p ItemPair) bool {
	p = NewItemPair(p.A, p.B)
	for _, q := range s.ResidualCovariances {
		if q == p {
			return true
		}
	}
	return false
}

// FreeParameterCount counts loadings, factor correlations, residual variances and covariances
func (s CFASpecification) FreeParameterCount() int {
	k := len(s.Factors)
	return len(s.Items())*2 + k*(k-1)/2 + len(s.ResidualCovariances)
}

// WithResidualCovariance returns the next version with one more covariance term
func (s CFASpecification) WithResidualCovariance(name string, p ItemPair) CFASpecification {
	out := s.clone()
	out.Name = name
	out.Version = s.Version + 1
	if !s.HasResidualCovariance(p) {
		out.ResidualCovariances = append(out.ResidualCovariances, NewItemPair(p.A, p.B))
		sortPairs(out.ResidualCovariances)
	}
	return out
}

// WithoutItem returns the next version with an indicator and its covariance terms removed
func (s CFASpecification) WithoutItem(name, item string) CFASpecification {
	out := CFASpecification{Name: name, Version: s.Version + 1}
	for _, f := range s.Factors {
		var ind []string
		for _, it := range f.Indicators {
			if it != item {
				ind = append(ind, it)
			}
		}
		if len(ind) > 0 {
			out.Factors = append(out.Factors, LatentFactor{Name: f.Name, Indicators: ind})
		}
	}
	for _, p := range s.ResidualCovariances {
		if p.A != item && p.B != item {
			out.ResidualCovariances = append(out.ResidualCovariances, p)
		}
	}
	return out
}

// Collapse returns a one-factor version carrying every indicator and covariance
func (s CFASpecification) Collapse(name, factor string) CFASpecification {
	out := CFASpecification{
		Name:                name,
		Version:             1,
		Factors:             []LatentFactor{{Name: factor, Indicators: s.Items()}},
		ResidualCovariances: append([]ItemPair(nil), s.ResidualCovariances...),
	}
	return out
}

// WithoutResidualCovariances returns a version with every covariance term dropped
func (s CFASpecification) WithoutResidualCovariances(name string) CFASpecification {
	out := s.clone()
	out.Name = name
	out.Version = 1
	out.ResidualCovariances = nil
	return out
}

func (s CFASpecification) clone() CFASpecification {
	out := CFASpecification{Name: s.Name, Version: s.Version}
	for _, f := range s.Factors {
		out.Factors = append(out.Factors, LatentFactor{Name: f.Name, Indicators: append([]string(nil), f.Indicators...)})
	}
	out.ResidualCovariances = append([]ItemPair(nil), s.ResidualCovariances...)
	return out
}

func sortPairs(pairs []ItemPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
}

func indexOf(items []string, item string) int {
	for i, it := range items {
		if it == item {
			return i
		}
	}
	return -1
}
