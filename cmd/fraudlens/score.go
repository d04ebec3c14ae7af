package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/report"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/pkg/models"
	"github.com/seenimoa/fraudlens/pkg/utils"
)

// --- Score Command ---

func newScoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Score one statement file (JSON, YAML or CSV)",
		Long: `Score two years of financial statements with the Beneish M-Score.

Examples:
  fraudlens score acme-fy2024.yaml
  fraudlens score acme.json --format json
  fraudlens score acme.csv --formula canonical --save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			save, _ := cmd.Flags().GetBool("save")
			out, _ := cmd.Flags().GetString("out")

			data, err := datasource.LoadFile(args[0])
			if err != nil {
				return err
			}
			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}

			var an *models.Analysis
			if save {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				an, err = a.service(engine, st).Screen(cmd.Context(), screening.ScreenRequest{Data: *data})
				if err != nil {
					return err
				}
			} else {
				res, err := a.service(engine, nil).Evaluate(cmd.Context(), *data)
				if err != nil {
					return err
				}
				an = &models.Analysis{
					CreatedAt: time.Now().UTC(),
					Source:    models.SourceManual,
					Input:     *data,
					Result:    *res,
				}
			}

			body, err := renderAnalysis(an, format, a.cfg.Report.Author)
			if err != nil {
				return err
			}
			if err := writeFileOrStdout(cmd.OutOrStdout(), out, body); err != nil {
				return err
			}
			if save && format != "json" {
				fmt.Fprintf(cmd.ErrOrStderr(), "saved analysis %s\n", an.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "text", "output format: text, json or html")
	cmd.Flags().String("formula", "", "formula variant: compatible or canonical (default from config)")
	cmd.Flags().Bool("permissive", false, "return NaN/Inf ratios instead of failing on zero denominators")
	cmd.Flags().Bool("save", false, "store the analysis in the history")
	cmd.Flags().StringP("out", "o", "", "write output to a file instead of stdout")
	return cmd
}

// renderAnalysis formats an analysis for terminal or file output.
func renderAnalysis(an *models.Analysis, format, author string) ([]byte, error) {
	cfg := report.DefaultReportConfig()
	if author != "" {
		cfg.Author = author
	}
	switch strings.ToLower(format) {
	case "", "text", "txt":
		s, err := report.GenerateText(an, cfg)
		return []byte(s), err
	case "html":
		s, err := report.GenerateHTML(an, cfg)
		return []byte(s), err
	case "json":
		b, err := json.MarshalIndent(an, "", "  ")
		if err != nil {
			// Permissive results may hold NaN/Inf, which JSON cannot carry.
			return nil, fmt.Errorf("encode json (use --format text for non-finite results): %w", err)
		}
		return append(b, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported output format %q (want text, json or html)", format)
}

// --- Batch Command ---

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [files...]",
		Short: "Screen many statement files concurrently",
		Long: `Screen every record in the given files. JSON files may hold an array of
records and YAML files several documents. One bad record never stops the
others; the command fails at the end if any record failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			save, _ := cmd.Flags().GetBool("save")

			var (
				reqs   []screening.ScreenRequest
				labels []string
			)
			for _, path := range args {
				records, err := datasource.LoadAll(path)
				if err != nil {
					return err
				}
				for i, d := range records {
					reqs = append(reqs, screening.ScreenRequest{Data: d})
					labels = append(labels, fmt.Sprintf("%s#%d", path, i+1))
				}
			}

			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}
			var st store.Store = store.NewMemoryStore()
			if save {
				if st, err = a.openStore(); err != nil {
					return err
				}
			}
			defer st.Close()

			results, err := a.service(engine, st).ScreenBatch(cmd.Context(), reqs, workers)
			if err != nil {
				return err
			}

			failed := printBatch(cmd.OutOrStdout(), labels, results, save)
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 0, "records screened concurrently (default from config)")
	cmd.Flags().String("formula", "", "formula variant: compatible or canonical (default from config)")
	cmd.Flags().Bool("permissive", false, "return NaN/Inf ratios instead of failing on zero denominators")
	cmd.Flags().Bool("save", false, "store the analyses in the history")
	return cmd
}

func printBatch(w io.Writer, labels []string, results []screening.BatchResult, saved bool) (failed int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "SOURCE\tCOMPANY\tFY\tM-SCORE\tRISK\tLIKELIHOOD\tFLAGS"
	if saved {
		header += "\tID"
	}
	fmt.Fprintln(tw, header)
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(tw, "%s\t✗ %v\n", labels[r.Index], r.Err)
			continue
		}
		an := r.Analysis
		line := fmt.Sprintf("%s\t%s\t%d\t%s\t%s\t%s\t%d",
			labels[r.Index],
			an.Input.CompanyName,
			an.Input.FinancialYear,
			utils.FormatScore(an.Result.MScore),
			an.Result.Interpretation,
			utils.FormatPct(an.Result.FraudLikelihood),
			len(an.Result.RedFlags),
		)
		if saved {
			line += "\t" + an.ID
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
	return failed
}

// --- Extract Command ---

func newExtractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [html-file]",
		Short: "Extract statement figures from an HTML filing",
		Long: `Extract the figures needed for scoring from the tables of an HTML
financial statement. Each field reports a confidence; fields that could not
be found are listed as missing and can be supplied with --set.

Examples:
  fraudlens extract annual-report.html
  fraudlens extract annual-report.html --out acme.yaml
  fraudlens extract annual-report.html --set prior.receivables=15,000 --save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			sets, _ := cmd.Flags().GetStringArray("set")
			save, _ := cmd.Flags().GetBool("save")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ex, err := datasource.ExtractHTML(f)
			if err != nil {
				return err
			}
			source := models.SourceExtracted
			if len(sets) > 0 {
				overrides, err := parseOverrides(sets)
				if err != nil {
					return err
				}
				if ex, err = datasource.Merge(ex, overrides); err != nil {
					return err
				}
				source = models.SourceMerged
			}

			w := cmd.OutOrStdout()
			printExtraction(w, ex)

			if out != "" {
				body, err := encodeRecord(out, ex.Data)
				if err != nil {
					return err
				}
				if err := writeFileOrStdout(w, out, body); err != nil {
					return err
				}
				fmt.Fprintf(w, "\nwrote %s\n", out)
			}

			if !save {
				return nil
			}
			if len(ex.Missing) > 0 {
				return fmt.Errorf("cannot save: missing %s (supply them with --set)", strings.Join(ex.Missing, ", "))
			}
			engine, err := a.engine(cmd)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			an, err := a.service(engine, st).Screen(cmd.Context(), screening.ScreenRequest{
				Data:       ex.Data,
				Source:     source,
				Confidence: ex.Confidence,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\nsaved analysis %s: M-Score %s, %s\n", an.ID, utils.FormatScore(an.Result.MScore), an.Result.Interpretation)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", "write the extracted record as JSON or YAML (by extension)")
	cmd.Flags().StringArray("set", nil, "override a field, e.g. --set current.sales=1,20,000")
	cmd.Flags().Bool("save", false, "score and store the extracted record")
	cmd.Flags().String("formula", "", "formula variant: compatible or canonical (default from config)")
	return cmd
}

// parseOverrides reads path=amount pairs. Amounts accept the same notations
// as statement cells, e.g. "(1,200)" or "1.2 million".
func parseOverrides(sets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		path, raw, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want path=value", s)
		}
		v, ok, err := datasource.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("--set %s: %w", path, err)
		}
		if !ok {
			return nil, fmt.Errorf("--set %s: no amount in %q", path, raw)
		}
		out[strings.TrimSpace(path)] = v
	}
	return out, nil
}

func printExtraction(w io.Writer, ex *models.Extraction) {
	d := ex.Data
	fmt.Fprintf(w, "Company: %s   FY: %d   Unit: %s\n\n", orDash(d.CompanyName), d.FinancialYear, orDash(d.Unit))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tVALUE\tCONFIDENCE")
	for _, path := range datasource.FieldPaths() {
		v, ok, err := datasource.FieldValue(&d, path)
		if err != nil || !ok {
			continue
		}
		conf, found := ex.Confidence[path]
		confText := "-"
		if found {
			confText = fmt.Sprintf("%.1f", conf)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", path, utils.FormatAmount(v, d.Currency), confText)
	}
	tw.Flush()

	if len(ex.Missing) > 0 {
		fmt.Fprintf(w, "\nMissing: %s\n", strings.Join(ex.Missing, ", "))
	}
}

// encodeRecord serializes d in the format implied by path.
func encodeRecord(path string, d models.FinancialData) ([]byte, error) {
	format, err := datasource.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case datasource.FormatJSON:
		b, err := json.MarshalIndent(d, "", "  ")
		return append(b, '\n'), err
	case datasource.FormatYAML:
		return yaml.Marshal(d)
	}
	return nil, fmt.Errorf("%w: cannot write %s records", datasource.ErrUnsupportedFormat, format)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
