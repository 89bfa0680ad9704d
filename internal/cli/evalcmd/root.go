package evalcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/eval"
	historypostgres "github.com/querygate/querygate/internal/history/postgres"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/validate"
)

// Options carries the process environment into the command tree.
type Options struct {
	Lookup config.LookupFunc
	Stdout io.Writer
	Stderr io.Writer
	// Runtime overrides pieces of the assembled runtime, mostly for tests.
	Runtime app.Options
}

type globalFlags struct {
	overrides []string
	fixtures  string
	schema    string
}

func NewRootCommand(opts Options) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "querygate-eval",
		Short:         "Evaluate and inspect the natural language to SQL pipeline",
		Long:          `Runs fixture evaluations against the configured generator and store, and prints the statement grammar.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.PersistentFlags().StringArrayVar(&flags.overrides, "set", nil, "config override key=value (repeatable)")
	root.PersistentFlags().StringVar(&flags.fixtures, "fixtures", "", "fixtures YAML file (default: built-in fixtures)")
	root.PersistentFlags().StringVar(&flags.schema, "schema", "", "schema YAML file (default: built-in schema)")

	root.AddCommand(
		newRunCommand(opts, flags),
		newGrammarCommand(opts, flags),
		newValidateCommand(opts, flags),
		newFixturesCommand(opts, flags),
	)
	return root
}

func (f *globalFlags) load(opts Options) (config.Config, error) {
	cfg, err := config.Load("querygate-eval", opts.Lookup)
	if err != nil {
		return config.Config{}, err
	}
	overrides := map[string]string{}
	for _, raw := range f.overrides {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return config.Config{}, fmt.Errorf("override %q must be key=value", raw)
		}
		overrides[strings.TrimSpace(key)] = value
	}
	if f.fixtures != "" {
		overrides["eval.fixtures_path"] = f.fixtures
	}
	if f.schema != "" {
		overrides["schema.path"] = f.schema
	}
	if len(overrides) == 0 {
		return cfg, nil
	}
	return config.ApplyOverrides(cfg, overrides)
}

func newRunCommand(opts Options, flags *globalFlags) *cobra.Command {
	var asJSON bool
	var minAccuracy float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the evaluation fixtures and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(opts)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg, cmd.ErrOrStderr())
			runtimeOpts := opts.Runtime
			runtimeOpts.Logger = logger
			if runtimeOpts.History == nil && cfg.History.DSN != "" {
				db, err := historypostgres.Open(cmd.Context(), historypostgres.DBConfig{DSN: cfg.History.DSN, ApplicationName: cfg.Service.Name})
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				runtimeOpts.History = historypostgres.NewRepository(db)
			}

			rt, err := app.Build(cmd.Context(), cfg, runtimeOpts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			report, err := rt.Evaluate(cmd.Context(), nil, func(p eval.Progress) {
				logger.Debug("case finished", slog.Int("current", p.Current), slog.Int("total", p.Total), slog.String("case_id", p.CaseID))
			})
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(report); err != nil {
					return err
				}
			} else {
				writeReport(cmd.OutOrStdout(), report)
			}
			if report.Totals.ExecutionAccuracy < minAccuracy {
				return fmt.Errorf("execution accuracy %.3f is below the required %.3f", report.Totals.ExecutionAccuracy, minAccuracy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "fail when execution accuracy is below this fraction")
	return cmd
}

func writeReport(w io.Writer, report eval.Report) {
	_, _ = fmt.Fprintf(w, "run %s\n\n", report.RunID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CASE\tCATEGORY\tMATCHED\tEXECUTED\tOUTCOME")
	for _, outcome := range report.Outcomes {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", outcome.CaseID, outcome.Category, outcome.Matched, outcome.Executed, outcome.Outcome)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tTOTAL\tMATCH\tEXECUTION")
	for _, category := range eval.Categories {
		stats := report.Categories[category]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\n", category, stats.Total, stats.MatchAccuracy, stats.ExecutionAccuracy)
	}
	totals := report.Totals
	_, _ = fmt.Fprintf(tw, "overall\t%d\t%.3f\t%.3f\n", totals.Total, totals.MatchAccuracy, totals.ExecutionAccuracy)
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\nfailed: %d  mean generation latency: %.1fms\n", totals.Failed, totals.MeanGenerationLatencyMS)
}

func newGrammarCommand(opts Options, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "grammar",
		Short: "Print the statement grammar in Lark notation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := loadValidator(opts, flags)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), v.Grammar().Lark())
			return err
		},
	}
}

func newValidateCommand(opts Options, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <statement>",
		Short: "Check a statement against the grammar and print its normalized form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadValidator(opts, flags)
			if err != nil {
				return err
			}
			result := v.ValidateText(strings.Join(args, " "))
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
			return result.Err()
		},
	}
}

func newFixturesCommand(opts Options, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fixtures",
		Short: "Load and check the fixtures file and print counts per category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(opts)
			if err != nil {
				return err
			}
			cases, err := eval.LoadFixturesOrDefault(cfg.Eval.FixturesPath)
			if err != nil {
				return err
			}
			counts := map[string]int{}
			for _, tc := range cases {
				counts[tc.Category.String()]++
			}
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, counts[name])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "total\t%d\n", len(cases))
			return err
		},
	}
}

func loadValidator(opts Options, flags *globalFlags) (*validate.Validator, error) {
	cfg, err := flags.load(opts)
	if err != nil {
		return nil, err
	}
	sch, err := schema.LoadOrDefault(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}
	g, err := sch.Grammar()
	if err != nil {
		return nil, err
	}
	return validate.New(g)
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, opts Options) int {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(root.ErrOrStderr(), "error: %v\n", err)
		return 1
	}
	return 0
}
