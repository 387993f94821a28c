package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arvis/domain/core"
	"arvis/internal/errors"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete pipeline configuration. Every decision
// threshold used by a stage lives here rather than in stage code.
type Config struct {
	LogLevel     string             `mapstructure:"log_level" yaml:"log_level"`
	Seed         int64              `mapstructure:"seed" yaml:"seed"`
	Inputs       InputConfig        `mapstructure:"inputs" yaml:"inputs"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output"`
	Cleaning     CleaningConfig     `mapstructure:"cleaning" yaml:"cleaning"`
	Screening    ScreeningConfig    `mapstructure:"screening" yaml:"screening"`
	Factor       FactorConfig       `mapstructure:"factor" yaml:"factor"`
	Reliability  ReliabilityConfig  `mapstructure:"reliability" yaml:"reliability"`
	Confirmatory ConfirmatoryConfig `mapstructure:"confirmatory" yaml:"confirmatory"`
	Validity     ValidityConfig     `mapstructure:"validity" yaml:"validity"`
	Retest       RetestConfig       `mapstructure:"retest" yaml:"retest"`
}

// InputConfig names the four input tables and their shared schema conventions
type InputConfig struct {
	Study1        string `mapstructure:"study1" yaml:"study1"`
	Study2        string `mapstructure:"study2" yaml:"study2"`
	OtherMeasures string `mapstructure:"other_measures" yaml:"other_measures"`
	Retest        string `mapstructure:"retest" yaml:"retest"`
	IDColumn      string `mapstructure:"id_column" yaml:"id_column"`
	ItemPrefix    string `mapstructure:"item_prefix" yaml:"item_prefix"`
}

// OutputConfig controls where result tables go
type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Format string `mapstructure:"format" yaml:"format"` // csv | xlsx
	Report bool   `mapstructure:"report" yaml:"report"`
}

// CleaningConfig holds the attention-check rule
type CleaningConfig struct {
	AttentionColumn string  `mapstructure:"attention_column" yaml:"attention_column"`
	AttentionValue  float64 `mapstructure:"attention_value" yaml:"attention_value"`
}

// ScreeningConfig holds distribution and inter-item correlation rules
type ScreeningConfig struct {
	SkewMetric    string  `mapstructure:"skew_metric" yaml:"skew_metric"`
	SkewThreshold float64 `mapstructure:"skew_threshold" yaml:"skew_threshold"`
	MinInterItemR float64 `mapstructure:"min_inter_item_r" yaml:"min_inter_item_r"`
}

// FactorConfig holds EFA gates, parallel analysis and pruning rules
type FactorConfig struct {
	SphericityAlpha float64 `mapstructure:"sphericity_alpha" yaml:"sphericity_alpha"`
	// RequireSphericity aborts Study 1 on a non-significant Bartlett test;
	// when false the violation is recorded as a warning
	RequireSphericity bool    `mapstructure:"require_sphericity" yaml:"require_sphericity"`
	KMOMinimum        float64 `mapstructure:"kmo_minimum" yaml:"kmo_minimum"`
	PAIterations      int     `mapstructure:"pa_iterations" yaml:"pa_iterations"`
	PAQuantile        float64 `mapstructure:"pa_quantile" yaml:"pa_quantile"`
	MaxFactors        int     `mapstructure:"max_factors" yaml:"max_factors"`
	Rotation          string  `mapstructure:"rotation" yaml:"rotation"`
	MinLoadingGap     float64 `mapstructure:"min_loading_gap" yaml:"min_loading_gap"`
	MaxPruneRounds    int     `mapstructure:"max_prune_rounds" yaml:"max_prune_rounds"`
	ItemsPerFactor    int     `mapstructure:"items_per_factor" yaml:"items_per_factor"`
	MaxIterations     int     `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// ReliabilityConfig holds the omega decomposition setting
type ReliabilityConfig struct {
	GroupFactors int `mapstructure:"group_factors" yaml:"group_factors"`
}

// ConfirmatoryConfig holds fit thresholds and respecification policy
type ConfirmatoryConfig struct {
	RMSEAAcceptable      float64  `mapstructure:"rmsea_acceptable" yaml:"rmsea_acceptable"`
	RMSEAExcellent       float64  `mapstructure:"rmsea_excellent" yaml:"rmsea_excellent"`
	CFIAcceptable        float64  `mapstructure:"cfi_acceptable" yaml:"cfi_acceptable"`
	CFIExcellent         float64  `mapstructure:"cfi_excellent" yaml:"cfi_excellent"`
	SRMRAcceptable       float64  `mapstructure:"srmr_acceptable" yaml:"srmr_acceptable"`
	SRMRExcellent        float64  `mapstructure:"srmr_excellent" yaml:"srmr_excellent"`
	RedundantFactorR     float64  `mapstructure:"redundant_factor_r" yaml:"redundant_factor_r"`
	MinModificationIndex float64  `mapstructure:"min_modification_index" yaml:"min_modification_index"`
	RespecTolerance      float64  `mapstructure:"respec_tolerance" yaml:"respec_tolerance"`
	LRTAlpha             float64  `mapstructure:"lrt_alpha" yaml:"lrt_alpha"`
	ResidualCovariance   []string `mapstructure:"residual_covariance" yaml:"residual_covariance"`
	MaxIterations        int      `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// ValidityConfig names the external measures and the test used to compare correlations
type ValidityConfig struct {
	Convergent []string `mapstructure:"convergent" yaml:"convergent"`
	Divergent  []string `mapstructure:"divergent" yaml:"divergent"`
	Ordinal    []string `mapstructure:"ordinal" yaml:"ordinal"`
	Method     string   `mapstructure:"method" yaml:"method"`
	Alpha      float64  `mapstructure:"alpha" yaml:"alpha"`
}

// RetestConfig holds the confidence level for retest intervals
type RetestConfig struct {
	Confidence float64 `mapstructure:"confidence" yaml:"confidence"`
}

// Default returns the configuration used when no file or env overrides exist
func Default() *Config {
	v := newViper()
	c, _ := unmarshal(v)
	return c
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", cfgFile)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("arvis")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	c, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return c, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ARVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "INFO")
	v.SetDefault("seed", 20200415)

	v.SetDefault("inputs.study1", "data/arvis_wide.csv")
	v.SetDefault("inputs.study2", "data/arvis_wide_sample2.csv")
	v.SetDefault("inputs.other_measures", "data/arvis_other_measures.csv")
	v.SetDefault("inputs.retest", "data/arvis_wide_retest.csv")
	v.SetDefault("inputs.id_column", "id")
	v.SetDefault("inputs.item_prefix", "arvis_")

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.format", "csv")
	v.SetDefault("output.report", true)

	v.SetDefault("cleaning.attention_column", "attention_check")
	v.SetDefault("cleaning.attention_value", 0)

	v.SetDefault("screening.skew_metric", "endpoint_proportion")
	v.SetDefault("screening.skew_threshold", 0.90)
	v.SetDefault("screening.min_inter_item_r", 0.40)

	v.SetDefault("factor.sphericity_alpha", 0.05)
	v.SetDefault("factor.require_sphericity", true)
	v.SetDefault("factor.kmo_minimum", 0.60)
	v.SetDefault("factor.pa_iterations", 500)
	v.SetDefault("factor.pa_quantile", 0.95)
	v.SetDefault("factor.max_factors", 3)
	v.SetDefault("factor.rotation", "oblimin")
	v.SetDefault("factor.min_loading_gap", 0.30)
	v.SetDefault("factor.max_prune_rounds", 10)
	v.SetDefault("factor.items_per_factor", 4)
	v.SetDefault("factor.max_iterations", 1000)

	v.SetDefault("reliability.group_factors", 2)

	v.SetDefault("confirmatory.rmsea_acceptable", 0.08)
	v.SetDefault("confirmatory.rmsea_excellent", 0.05)
	v.SetDefault("confirmatory.cfi_acceptable", 0.90)
	v.SetDefault("confirmatory.cfi_excellent", 0.95)
	v.SetDefault("confirmatory.srmr_acceptable", 0.08)
	v.SetDefault("confirmatory.srmr_excellent", 0.05)
	v.SetDefault("confirmatory.redundant_factor_r", 0.85)
	v.SetDefault("confirmatory.min_modification_index", 10.0)
	v.SetDefault("confirmatory.respec_tolerance", 0.01)
	v.SetDefault("confirmatory.lrt_alpha", 0.05)
	v.SetDefault("confirmatory.residual_covariance", []string{})
	v.SetDefault("confirmatory.max_iterations", 2000)

	v.SetDefault("validity.convergent", []string{})
	v.SetDefault("validity.divergent", []string{})
	v.SetDefault("validity.ordinal", []string{})
	v.SetDefault("validity.method", "steiger_1980")
	v.SetDefault("validity.alpha", 0.05)

	v.SetDefault("retest.confidence", 0.95)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return &c, nil
}

// Validate rejects thresholds outside their meaningful ranges
func (c *Config) Validate() error {
	if c.Inputs.IDColumn == "" {
		return errors.ConfigInvalid("inputs.id_column is required")
	}
	if c.Inputs.ItemPrefix == "" {
		return errors.ConfigInvalid("inputs.item_prefix is required")
	}
	switch c.Output.Format {
	case "csv", "xlsx":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("output.format must be csv or xlsx, got %q", c.Output.Format))
	}
	switch c.Screening.SkewMetric {
	case "modal_proportion", "endpoint_proportion", "abs_skewness":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("screening.skew_metric %q is not supported", c.Screening.SkewMetric))
	}
	if c.Factor.PAQuantile <= 0 || c.Factor.PAQuantile >= 1 {
		return errors.ConfigInvalid("factor.pa_quantile must lie in (0, 1)")
	}
	if c.Factor.PAIterations < 1 {
		return errors.ConfigInvalid("factor.pa_iterations must be positive")
	}
	if c.Factor.MaxFactors < 1 {
		return errors.ConfigInvalid("factor.max_factors must be at least 1")
	}
	if c.Factor.MinLoadingGap < 0 || c.Factor.MinLoadingGap > 1 {
		return errors.ConfigInvalid("factor.min_loading_gap must lie in [0, 1]")
	}
	if n := len(c.Confirmatory.ResidualCovariance); n != 0 && n != 2 {
		return errors.ConfigInvalid("confirmatory.residual_covariance must name exactly two items")
	}
	if c.Retest.Confidence <= 0 || c.Retest.Confidence >= 1 {
		return errors.ConfigInvalid("retest.confidence must lie in (0, 1)")
	}
	switch c.Validity.Method {
	case "steiger_1980", "meng_rosenthal_rubin_1992":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("validity.method %q is not supported", c.Validity.Method))
	}
	return nil
}

// Hash fingerprints the effective configuration for the run manifest
func (c *Config) Hash() core.Hash {
	b, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return core.NewHash(b)
}

// Save writes the given configuration as YAML, creating the directory if necessary
func Save(c *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
