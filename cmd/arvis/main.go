package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"arvis/adapters/artifacts"
	"arvis/adapters/excel"
	"arvis/adapters/report"
	"arvis/adapters/rng"
	"arvis/adapters/stats/cfa"
	"arvis/adapters/stats/efa"
	"arvis/app"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/config"
	"arvis/internal/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type globalFlags struct {
	configFile string
	seed       int64
	outputDir  string
	format     string
	logLevel   string
}

func main() {
	_ = godotenv.Load()

	rootCmd := newRootCmd(&globalFlags{})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arvis: %v (%s)\n", err, errors.Classify(err))
		os.Exit(errors.ExitCode(err))
	}
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "arvis",
		Short:         "Develop and validate the ARVIS scale across three studies",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Config file (default ./arvis.yaml)")
	rootCmd.PersistentFlags().Int64Var(&flags.seed, "seed", 0, "Override the configured random seed (default from config)")
	rootCmd.PersistentFlags().StringVar(&flags.outputDir, "output", "", "Override the output directory")
	rootCmd.PersistentFlags().StringVar(&flags.format, "format", "", "Override the table format: csv|xlsx")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the log level")

	rootCmd.AddCommand(
		newCleanCmd(flags),
		newScreenCmd(flags),
		newEFACmd(flags),
		newCFACmd(flags),
		newValidityCmd(flags),
		newRetestCmd(flags),
		newRunCmd(flags),
		newConfigCmd(),
	)
	return rootCmd
}

// session is one configured invocation: the pipeline over the file adapters
type session struct {
	cfg    *config.Config
	svc    *app.PipelineService
	logger *internal.Logger
}

func openSession(cmd *cobra.Command, flags *globalFlags) (*session, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, cmd, flags)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	writer, err := excel.NewTableWriter(cfg.Output.Dir, cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	svc := app.NewPipelineService(cfg, app.PipelineDeps{
		Reader:    excel.NewDataReader(excel.DefaultReaderConfig()),
		Writer:    writer,
		Artifacts: artifacts.NewFileStore(cfg.Output.Dir),
		RNG:       rng.NewAdapter(),
		EFA:       efa.NewEstimator(),
		SEM:       cfa.NewEstimator(),
		Renderer:  report.NewHTMLRenderer(),
	}, version, logger)
	return &session{cfg: cfg, svc: svc, logger: logger}, nil
}

// applyOverrides copies command-line flags over the loaded config. The seed
// counts as set whenever --seed was given, including --seed 0.
func applyOverrides(cfg *config.Config, cmd *cobra.Command, flags *globalFlags) {
	if cmd.Flags().Changed("seed") {
		cfg.Seed = flags.seed
	}
	if flags.outputDir != "" {
		cfg.Output.Dir = flags.outputDir
	}
	if flags.format != "" {
		cfg.Output.Format = flags.format
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
}

// finish flushes the ledger whatever happened and prints the stage summary
func (s *session) finish(ctx context.Context, runErr error) error {
	if err := s.svc.Flush(ctx); err != nil && runErr == nil {
		runErr = err
	}
	printSummary(s.svc.Runner().Result())
	if runErr != nil {
		return errors.Wrap(runErr, "pipeline stopped")
	}
	fmt.Printf("tables written to %s\n", s.cfg.Output.Dir)
	return nil
}

// studyCmd builds a command that runs part of the pipeline through one session
func studyCmd(flags *globalFlags, use, short, long string, fn func(ctx context.Context, s *session) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			return s.finish(cmd.Context(), fn(cmd.Context(), s))
		},
	}
}

func newCleanCmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "clean", "Load Study 1 and apply the attention check and complete-case rules",
		`Load the Study 1 responses, drop subjects who failed the attention check and
subjects with any missing item response, and write the cleaned dataset.

Example: arvis clean --config arvis.yaml`,
		func(ctx context.Context, s *session) error {
			ds, items, err := s.svc.Development().Clean(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d subjects, %d items: %s\n", ds.Rows(), items.Len(), items)
			return nil
		})
}

func newScreenCmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "screen", "Clean Study 1 and screen items on distribution and inter-item correlation",
		`Run the Study 1 cleaning stages, then remove skewed items and items whose mean
inter-item correlation falls below the configured minimum.

Example: arvis screen --format xlsx`,
		func(ctx context.Context, s *session) error {
			dev := s.svc.Development()
			ds, items, err := dev.Clean(ctx)
			if err != nil {
				return err
			}
			screened, _, err := dev.Screen(ctx, ds, items)
			if err != nil {
				return err
			}
			printItems("screened items", screened.Items())
			return nil
		})
}

func newEFACmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "efa", "Run Study 1: screening, exploratory factor analysis and reliability",
		`Run all of Study 1: cleaning, screening, Bartlett and KMO checks, parallel
analysis, factor-count selection, cross-loading pruning, top-loading item
selection and reliability of the final item set.

Example: arvis efa --seed 20200415`,
		func(ctx context.Context, s *session) error {
			res, err := s.svc.Development().Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d factors (parallel analysis %d)\n", res.FactorCount.Chosen, res.Parallel.Recommended)
			printItems("final items", res.Items.Items())
			for _, scale := range sortedScales(res.Reliability) {
				r := res.Reliability[scale]
				fmt.Printf("  %-8s alpha=%.3f omega_h=%.3f omega_t=%.3f\n", scale, r.Alpha, r.OmegaHierarchical, r.OmegaTotal)
			}
			return nil
		})
}

func newCFACmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "cfa", "Run Study 1, then compare confirmatory models on Study 2",
		`Run Study 1, then fit the confirmatory candidates on the Study 2 sample,
apply at most one respecification and select a model by fit and
likelihood-ratio tests.

Example: arvis cfa --config arvis.yaml`,
		func(ctx context.Context, s *session) error {
			dev, err := s.svc.Development().Run(ctx)
			if err != nil {
				return err
			}
			conf := s.svc.Confirmation()
			ds, err := conf.Clean(ctx, dev.Items)
			if err != nil {
				return err
			}
			res, err := conf.Compare(ctx, ds, dev.Items, dev.Subscales)
			if err != nil {
				return err
			}
			fmt.Printf("selected %s: %s\n", res.Selection.Chosen.Label, res.Selection.Rationale)
			return nil
		})
}

func newValidityCmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "validity", "Run Studies 1 and 2 including convergent and divergent validity",
		`Run Study 1 and all of Study 2: the confirmatory comparison followed by
scale scores, correlations with the other measures and dependent-correlation
comparisons of convergent against divergent measures.

Example: arvis validity`,
		func(ctx context.Context, s *session) error {
			dev, err := s.svc.Development().Run(ctx)
			if err != nil {
				return err
			}
			res, err := s.svc.Confirmation().Run(ctx, dev.Items, dev.Subscales)
			if err != nil {
				return err
			}
			for _, c := range res.Comparisons {
				fmt.Printf("  %s: %s (r=%.3f) vs %s (r=%.3f), z=%.3f p=%.4f\n", c.Target, c.Convergent, c.RJK, c.Divergent, c.RJH, c.Z, c.PValue)
			}
			return nil
		})
}

func newRetestCmd(flags *globalFlags) *cobra.Command {
	return studyCmd(flags, "retest", "Run Study 1, then test-retest reliability against the retest wave",
		`Run Study 1 and score its final item set at both waves, then report the
retest correlation and intraclass correlations for the total scale and each
subscale.

Example: arvis retest`,
		func(ctx context.Context, s *session) error {
			dev, err := s.svc.Development().Run(ctx)
			if err != nil {
				return err
			}
			res, err := s.svc.Retest().Run(ctx, dev.Cleaned, dev.Items, dev.Subscales)
			if err != nil {
				return err
			}
			for _, scale := range sortedScales(res.Reports) {
				fmt.Printf("  %-8s %s\n", scale, res.Reports[scale].Decision().Outcome)
			}
			return nil
		})
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every configured study and write the manifest and report",
		Long: `Run Study 1, then Study 2 and Study 3 when their inputs are configured.
Writes every table, the decision ledger, a YAML run manifest and a Markdown
and HTML report to the output directory.

Example: ARVIS_INPUTS_STUDY1=data/arvis_wide.csv arvis run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			out, err := s.svc.Run(cmd.Context())
			printSummary(out.Stages)
			if err != nil {
				return errors.Wrap(err, "pipeline stopped")
			}
			printItems("final items", out.FinalItems().Items())
			if out.Manifest != nil {
				fmt.Printf("run %s, fingerprint %s\n", out.RunID, out.Manifest.Fingerprint.Fingerprint.Short())
			}
			fmt.Printf("results in %s (%dms)\n", s.cfg.Output.Dir, out.RuntimeMs)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "arvis.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.InvalidInput(fmt.Sprintf("%s exists; pass --force to overwrite", path))
			}
			if err := config.Save(config.Default(), path); err != nil {
				return errors.IOError("write config", err)
			}
			fmt.Printf("default configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func printSummary(result *stage.PipelineResult) {
	if result == nil {
		return
	}
	for _, r := range result.Results {
		status := "ok"
		if !r.Success {
			status = "FAILED: " + r.Error
		}
		fmt.Printf("%-20s %-22s %3d -> %-3d %s\n", r.Study, r.StageName, r.ItemsBefore, r.ItemsAfter, status)
		for _, w := range r.Warnings {
			fmt.Printf("%-20s %-22s warning: %s\n", "", "", w)
		}
	}
	fmt.Printf("%d stages, %d failed, %d decisions\n",
		result.Overall.TotalStages, result.Overall.Failed, result.Overall.Decisions)
}

func printItems(label string, items []string) {
	fmt.Printf("%s (%d): %v\n", label, len(items), items)
}

func sortedScales[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
