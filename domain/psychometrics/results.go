package psychometrics

// ReliabilityReport holds internal-consistency coefficients for one item set
type ReliabilityReport struct {
	Items             []string                    `json:"items" yaml:"items"`
	N                 int                         `json:"n" yaml:"n"`
	Alpha             float64                     `json:"alpha" yaml:"alpha"`
	StandardizedAlpha float64                     `json:"standardized_alpha" yaml:"standardized_alpha"`
	AlphaIfDropped    map[string]float64          `json:"alpha_if_dropped" yaml:"alpha_if_dropped"`
	OmegaHierarchical float64                     `json:"omega_hierarchical" yaml:"omega_hierarchical"`
	OmegaTotal        float64                     `json:"omega_total" yaml:"omega_total"`
	GroupFactors      int                         `json:"group_factors" yaml:"group_factors"`
	GeneralLoadings   map[string]float64          `json:"general_loadings" yaml:"general_loadings"`
	Warnings          []DegenerateSolutionWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Degenerate reports whether the decomposition raised a warning other than
// the advisory one about two group factors
func (r ReliabilityReport) Degenerate() bool {
	for _, w := range r.Warnings {
		if w.Kind != WarningTwoGroupFactors {
			return true
		}
	}
	return false
}

// CompositeScore is a per-subject sum over an item set
type CompositeScore struct {
	Name       string    `json:"name"`
	Items      []string  `json:"items"`
	SubjectIDs []string  `json:"subject_ids"`
	Values     []float64 `json:"values"`
}

// CorrelationMethod selects the bivariate coefficient
type CorrelationMethod string

const (
	Pearson  CorrelationMethod = "pearson"
	Spearman CorrelationMethod = "spearman"
)

// CorrelationResult is one pairwise coefficient with its significance test
type CorrelationResult struct {
	X      string            `json:"x"`
	Y      string            `json:"y"`
	Method CorrelationMethod `json:"method"`
	R      float64           `json:"r"`
	PValue float64           `json:"p_value"`
	N      int               `json:"n"`
}

// OverlapMethod names the dependent-correlation test
type OverlapMethod string

const (
	OverlapSteiger            OverlapMethod = "steiger_1980"
	OverlapMengRosenthalRubin OverlapMethod = "meng_rosenthal_rubin_1992"
)

// ValidityComparison tests r(j,k) against r(j,h) where both share variable j
type ValidityComparison struct {
	Target     string        `json:"target"`
	Convergent string        `json:"convergent"`
	Divergent  string        `json:"divergent"`
	RJK        float64       `json:"r_jk"`
	RJH        float64       `json:"r_jh"`
	RKH        float64       `json:"r_kh"`
	N          int           `json:"n"`
	Z          float64       `json:"z"`
	PValue     float64       `json:"p_value"`
	Method     OverlapMethod `json:"method"`
}

// Significant reports p below alpha
func (v ValidityComparison) Significant(alpha float64) bool {
	return v.PValue < alpha
}

// ModificationIndex scores one fixed parameter by the expected chi-square
// decrease of freeing it, with the expected parameter change
type ModificationIndex struct {
	Kind  ParameterKind `json:"kind"`
	Left  string        `json:"left"`
	Right string        `json:"right"`
	MI    float64       `json:"mi"`
	EPC   float64       `json:"epc"`
}

// Label renders the parameter in lavaan-like operator syntax
func (m ModificationIndex) Label() string {
	return Parameter{Kind: m.Kind, Left: m.Left, Right: m.Right}.Label()
}
