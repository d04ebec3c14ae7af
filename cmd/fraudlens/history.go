package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/fraudlens/internal/report"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/pkg/models"
	"github.com/seenimoa/fraudlens/pkg/utils"
)

// --- History Command ---

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			company, _ := cmd.Flags().GetString("company")
			riskFlag, _ := cmd.Flags().GetString("risk")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			filter := store.ListFilter{Company: company, Limit: limit, Offset: offset}
			if riskFlag != "" {
				risk, err := models.ParseRiskLevel(riskFlag)
				if err != nil {
					return err
				}
				filter.Risk = risk
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No analyses found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tCOMPANY\tFY\tM-SCORE\tRISK\tLIKELIHOOD\tFLAGS")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
					s.ID,
					s.CreatedAt.Local().Format("2006-01-02 15:04"),
					s.CompanyName,
					s.FinancialYear,
					utils.FormatScore(s.MScore),
					s.Interpretation,
					utils.FormatPct(s.FraudLikelihood),
					s.RedFlagCount,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("company", "", "filter by company name (substring, case-insensitive)")
	cmd.Flags().String("risk", "", "filter by risk level: low, moderate or high")
	cmd.Flags().Int("limit", store.DefaultLimit, "maximum rows")
	cmd.Flags().Int("offset", 0, "rows to skip")
	return cmd
}

// --- Show Command ---

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored analysis as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.getAnalysis(cmd, args[0])
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(an, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

// --- Report Command ---

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Render a report for a stored analysis",
		Long: `Render an HTML, text or PDF report for a stored analysis.

PDF output needs wkhtmltopdf or a Chromium-based browser on the PATH. When
neither is found the HTML report is written instead.

Examples:
  fraudlens report 3f2b... --format text
  fraudlens report 3f2b... --format pdf --out acme.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			title, _ := cmd.Flags().GetString("title")

			format, err := report.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			an, err := a.getAnalysis(cmd, args[0])
			if err != nil {
				return err
			}

			rc := report.DefaultReportConfig()
			rc.Format = format
			rc.Title = title
			if a.cfg.Report.Author != "" {
				rc.Author = a.cfg.Report.Author
			}

			switch format {
			case report.FormatText:
				body, err := report.GenerateText(an, rc)
				if err != nil {
					return err
				}
				return writeFileOrStdout(cmd.OutOrStdout(), out, []byte(body))
			case report.FormatHTML:
				body, err := report.GenerateHTML(an, rc)
				if err != nil {
					return err
				}
				return writeFileOrStdout(cmd.OutOrStdout(), out, []byte(body))
			}

			html, err := report.GenerateHTML(an, rc)
			if err != nil {
				return err
			}
			engine, err := report.ParsePDFEngine(a.cfg.Report.PDFEngine)
			if err != nil {
				return err
			}
			pdfCfg := report.DefaultPDFConfig()
			pdfCfg.Engine = engine
			pdfCfg.OutputPath = out
			if pdfCfg.OutputPath == "" || pdfCfg.OutputPath == "-" {
				pdfCfg.OutputPath = reportFileName(an)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			path, err := report.GeneratePDF(ctx, html, pdfCfg)
			if err != nil {
				return err
			}
			if filepath.Ext(path) != ".pdf" {
				fmt.Fprintf(cmd.ErrOrStderr(), "no PDF engine found; wrote HTML instead\n")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("format", "html", "report format: html, text or pdf")
	cmd.Flags().StringP("out", "o", "", "output file (default stdout; <company>-FY<year>.pdf for pdf)")
	cmd.Flags().String("title", "", "custom report title")
	return cmd
}

func (a *app) getAnalysis(cmd *cobra.Command, id string) (*models.Analysis, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()
	an, err := st.Get(cmd.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("analysis %s: %w", id, err)
	}
	return an, nil
}

// reportFileName builds "<company>-FY<year>.pdf" with a filesystem-safe company.
func reportFileName(an *models.Analysis) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ', r == '.':
			return '-'
		}
		return -1
	}, strings.TrimSpace(an.Input.CompanyName))
	if name == "" {
		name = "analysis"
	}
	return fmt.Sprintf("%s-FY%d.pdf", name, an.Input.FinancialYear)
}
