// FraudLens screens financial statements for earnings manipulation with the
// Beneish M-Score.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/config"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/report"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what PersistentPreRunE loads for every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "fraudlens",
		Short: "FraudLens: Beneish M-Score earnings manipulation screening",
		Long: `FraudLens scores two consecutive years of financial statements with the
eight-variable Beneish M-Score, flags the index ratios that cross their
red-flag thresholds, keeps a history of screenings, and renders reports.

The score is a statistical screen, not proof of manipulation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newScoreCmd(a))
	root.AddCommand(newBatchCmd(a))
	root.AddCommand(newExtractCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newReportCmd(a))
	root.AddCommand(newFilingsCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newStatusCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	var err error
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		a.cfg, err = config.LoadFromFile(configFile)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		a.cfg.Logging.Level = level
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.logger = infra.InitLogger(infra.LogConfig{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
	})
	return nil
}

// engine builds the scoring engine from config, with flag overrides.
func (a *app) engine(cmd *cobra.Command) (*mscore.Engine, error) {
	formulaName := a.cfg.Scoring.Formula
	if cmd.Flags().Lookup("formula") != nil && cmd.Flags().Changed("formula") {
		formulaName, _ = cmd.Flags().GetString("formula")
	}
	formula, err := mscore.ParseFormula(formulaName)
	if err != nil {
		return nil, err
	}
	permissive := a.cfg.Scoring.Permissive
	if cmd.Flags().Lookup("permissive") != nil && cmd.Flags().Changed("permissive") {
		permissive, _ = cmd.Flags().GetBool("permissive")
	}
	return mscore.New(mscore.WithFormula(formula), mscore.WithPermissive(permissive)), nil
}

func (a *app) openStore() (store.Store, error) {
	st, err := store.Open(a.cfg.Store.Driver, a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	return st, nil
}

func (a *app) service(engine *mscore.Engine, st store.Store, opts ...screening.Option) *screening.Service {
	opts = append([]screening.Option{
		screening.WithLogger(a.logger),
		screening.WithWorkers(a.cfg.Screening.Workers),
	}, opts...)
	return screening.NewService(engine, st, opts...)
}

// --- Version Command ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "FraudLens %s\n", version)
			fmt.Fprintf(out, "  commit:  %s\n", commit)
			fmt.Fprintf(out, "  built:   %s\n", date)
		},
	}
}

// --- Status Command ---

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := a.cfg
			rule := "═══════════════════════════════════════"

			fmt.Fprintln(out, rule)
			fmt.Fprintln(out, "  FraudLens — System Status")
			fmt.Fprintln(out, rule)
			fmt.Fprintf(out, "  Version:       %s (%s)\n", version, commit)
			configFile := cfg.File
			if configFile == "" {
				configFile = "(defaults)"
			}
			fmt.Fprintf(out, "  Config file:   %s\n", configFile)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "  Configuration:")
			fmt.Fprintf(out, "    Formula:       %s (permissive: %t)\n", cfg.Scoring.Formula, cfg.Scoring.Permissive)
			fmt.Fprintf(out, "    Store:         %s %s\n", cfg.Store.Driver, cfg.Store.Path)
			fmt.Fprintf(out, "    Workers:       %d\n", cfg.Screening.Workers)
			fmt.Fprintf(out, "    API Server:    %s\n", cfg.API.Addr())
			fmt.Fprintf(out, "    PDF Engine:    %s\n", cfg.Report.PDFEngine)
			if report.IsPDFSupported() {
				fmt.Fprintf(out, "    PDF Support:   ✅ %s\n", report.DetectPDFEngine())
			} else {
				fmt.Fprintln(out, "    PDF Support:   ❌ no engine found, reports fall back to HTML")
			}
			fmt.Fprintf(out, "    Watchlist:     %d companies (%s, %s)\n", len(cfg.Filings.Watchlist), cfg.Filings.Form, cfg.Filings.PollCron)
			fmt.Fprintln(out)

			if st, err := a.openStore(); err != nil {
				fmt.Fprintf(out, "  Store:         ❌ %v\n", err)
			} else {
				list, err := st.List(cmd.Context(), store.ListFilter{Limit: 1})
				switch {
				case err != nil:
					fmt.Fprintf(out, "  Store:         ❌ %v\n", err)
				case len(list) == 0:
					fmt.Fprintln(out, "  Store:         ✅ reachable, no analyses yet")
				default:
					last := list[0]
					fmt.Fprintf(out, "  Store:         ✅ last screening %s FY%d %s (%s)\n",
						last.CompanyName, last.FinancialYear, utils.FormatScore(last.MScore), last.CreatedAt.Format("2006-01-02"))
				}
				st.Close()
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "  Secrets:")
			for _, k := range config.CheckKeys(cfg) {
				status := "❌ not set"
				if k.IsSet {
					status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
				}
				fmt.Fprintf(out, "    %-25s %s\n", k.Name+":", status)
			}

			fmt.Fprintln(out, rule)
			return nil
		},
	}
}

// writeFileOrStdout writes body to path, or to w when path is empty or "-".
func writeFileOrStdout(w io.Writer, path string, body []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
