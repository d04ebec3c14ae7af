package report

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/pkg/models"
	"github.com/seenimoa/fraudlens/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Report Generator: Orchestrates chart + template rendering
// ════════════════════════════════════════════════════════════════════

// ErrNilAnalysis is returned when a report is requested for a nil analysis.
var ErrNilAnalysis = errors.New("analysis is nil")

// ReportFormat specifies the output format.
type ReportFormat string

const (
	FormatHTML ReportFormat = "html"
	FormatPDF  ReportFormat = "pdf"
	FormatText ReportFormat = "text"
)

// ParseFormat accepts "html", "text" (or "txt") and "pdf".
func ParseFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return FormatHTML, nil
	case "text", "txt":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported report format %q", s)
}

// ReportSection identifies a section to include/exclude.
type ReportSection string

const (
	SectionSummary    ReportSection = "summary"
	SectionComponents ReportSection = "components"
	SectionRedFlags   ReportSection = "red_flags"
	SectionInputs     ReportSection = "inputs"
	SectionConfidence ReportSection = "confidence"
)

// AllSections returns all report sections in display order.
func AllSections() []ReportSection {
	return []ReportSection{
		SectionSummary,
		SectionComponents,
		SectionRedFlags,
		SectionInputs,
		SectionConfidence,
	}
}

// ReportConfig controls report generation behaviour.
type ReportConfig struct {
	Format      ReportFormat    // output format (default: HTML)
	Sections    []ReportSection // sections to include (default: all)
	Title       string          // custom report title (optional)
	Author      string          // author name (default: "FraudLens")
	ChartCfg    ChartConfig     // chart rendering config
	GeneratedAt time.Time       // report timestamp (default: now)
}

// DefaultReportConfig returns sensible defaults.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		Format:   FormatHTML,
		Sections: AllSections(),
		Author:   "FraudLens",
		ChartCfg: DefaultChartConfig(),
	}
}

// hasSection returns true if the section is included in the config. An
// empty section list includes everything.
func (rc ReportConfig) hasSection(s ReportSection) bool {
	return len(rc.Sections) == 0 || slices.Contains(rc.Sections, s)
}

// ════════════════════════════════════════════════════════════════════
// Report Data: Flattened for template rendering
// ════════════════════════════════════════════════════════════════════

// ReportData is the template model passed to HTML templates.
type ReportData struct {
	// Header
	Title         string
	AnalysisID    string
	CompanyName   string
	FinancialYear int
	Currency      string
	Unit          string
	Source        string
	Formula       string
	Author        string
	GeneratedAt   string
	AnalyzedAt    string

	// Verdict
	MScore          string
	Interpretation  string
	RiskClass       string // CSS class: high, moderate, low
	Likelihood      string
	LikelihoodValue float64
	Verdict         string

	Components  []ComponentRow
	RedFlags    []FlagRow
	Inputs      []InputRow
	Confidences []ConfidenceRow

	// Charts (embedded SVG strings)
	GaugeChart     template.HTML
	ComponentChart template.HTML

	// Section visibility flags
	ShowSummary    bool
	ShowComponents bool
	ShowRedFlags   bool
	ShowInputs     bool
	ShowConfidence bool
}

// ComponentRow is one index ratio next to its red-flag threshold.
type ComponentRow struct {
	Name      string // "DSRI"
	Label     string // "Days Sales in Receivables Index"
	Value     string
	Threshold string // "> 1.031"
	Flagged   bool
}

// FlagRow is a flattened red flag for template rendering.
type FlagRow struct {
	Component     string
	Value         string
	Threshold     string
	Severity      string
	SeverityClass string // CSS class: high, moderate, low
	Message       string
}

// InputRow is one statement line item for both periods.
type InputRow struct {
	Label   string
	Current string
	Prior   string
}

// ConfidenceRow reports how an extracted field was obtained.
type ConfidenceRow struct {
	Field string
	Value string
}

// ════════════════════════════════════════════════════════════════════
// Generate Report
// ════════════════════════════════════════════════════════════════════

var reportTemplate = template.Must(template.New("report").Parse(ReportTemplate))

// GenerateHTML generates a self-contained HTML screening report.
func GenerateHTML(a *models.Analysis, cfg ReportConfig) (string, error) {
	if a == nil {
		return "", ErrNilAnalysis
	}

	data := buildReportData(a, cfg)

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// GenerateText generates a plain-text report (terminal / CLI friendly).
func GenerateText(a *models.Analysis, cfg ReportConfig) (string, error) {
	if a == nil {
		return "", ErrNilAnalysis
	}
	return renderTextReport(buildReportData(a, cfg)), nil
}

// ════════════════════════════════════════════════════════════════════
// Internal: Build template data
// ════════════════════════════════════════════════════════════════════

var componentLabels = map[string]string{
	mscore.DSRI: "Days Sales in Receivables Index",
	mscore.GMI:  "Gross Margin Index",
	mscore.AQI:  "Asset Quality Index",
	mscore.SGI:  "Sales Growth Index",
	mscore.DEPI: "Depreciation Index",
	mscore.SGAI: "SG&A Expense Index",
	mscore.TATA: "Total Accruals to Total Assets",
	mscore.LVGI: "Leverage Index",
}

func buildReportData(a *models.Analysis, cfg ReportConfig) ReportData {
	generated := cfg.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	author := cfg.Author
	if author == "" {
		author = "FraudLens"
	}
	r := a.Result
	in := a.Input

	data := ReportData{
		Title:         cfg.Title,
		AnalysisID:    a.ID,
		CompanyName:   in.CompanyName,
		FinancialYear: in.FinancialYear,
		Currency:      in.Currency,
		Unit:          in.Unit,
		Source:        string(a.Source),
		Formula:       r.Formula,
		Author:        author,
		GeneratedAt:   generated.Format("02 Jan 2006, 15:04 MST"),

		MScore:          utils.FormatScore(r.MScore),
		Interpretation:  riskLabel(r.Interpretation),
		RiskClass:       riskClass(r.Interpretation),
		Likelihood:      utils.FormatPct(r.FraudLikelihood),
		LikelihoodValue: r.FraudLikelihood,
		Verdict:         verdict(r),

		ShowSummary:    cfg.hasSection(SectionSummary),
		ShowComponents: cfg.hasSection(SectionComponents),
		ShowRedFlags:   cfg.hasSection(SectionRedFlags),
		ShowInputs:     cfg.hasSection(SectionInputs),
		ShowConfidence: cfg.hasSection(SectionConfidence) && len(a.FieldConfidence) > 0,
	}
	if !a.CreatedAt.IsZero() {
		data.AnalyzedAt = a.CreatedAt.UTC().Format("02 Jan 2006, 15:04 MST")
	}
	if data.Title == "" {
		data.Title = fmt.Sprintf("%s FY%d: Earnings Manipulation Screen", in.CompanyName, in.FinancialYear)
	}

	model := mscore.DefaultModel()
	thresholds := make(map[string]mscore.Threshold, len(model.Thresholds))
	for _, t := range model.Thresholds {
		thresholds[t.Component] = t
	}
	flagged := make(map[string]bool, len(r.RedFlags))
	for _, f := range r.RedFlags {
		flagged[f.Component] = true
	}

	var bars []BarItem
	for _, name := range mscore.ComponentNames() {
		v, _ := mscore.Value(r.Components, name)
		t := thresholds[name]
		data.Components = append(data.Components, ComponentRow{
			Name:      strings.ToUpper(name),
			Label:     componentLabels[name],
			Value:     utils.FormatRatio(v),
			Threshold: fmt.Sprintf("%s %.3f", t.Direction, t.Value),
			Flagged:   flagged[name],
		})
		color := "#2563eb"
		if flagged[name] {
			color = "#dc2626"
		}
		bars = append(bars, BarItem{
			Label:     strings.ToUpper(name),
			Value:     v,
			Color:     color,
			Threshold: &t.Value,
		})
	}

	for _, f := range r.RedFlags {
		data.RedFlags = append(data.RedFlags, FlagRow{
			Component:     strings.ToUpper(f.Component),
			Value:         utils.FormatRatio(f.Value),
			Threshold:     fmt.Sprintf("%s %.3f", f.Direction, f.Threshold),
			Severity:      strings.ToUpper(string(f.Severity)),
			SeverityClass: string(f.Severity),
			Message:       f.Message,
		})
	}

	data.Inputs = buildInputRows(in)

	for _, field := range slices.Sorted(maps.Keys(a.FieldConfidence)) {
		data.Confidences = append(data.Confidences, ConfidenceRow{
			Field: field,
			Value: fmt.Sprintf("%.0f%%", a.FieldConfidence[field]*100),
		})
	}

	// Charts
	data.GaugeChart = template.HTML(GaugeChart(r.FraudLikelihood, "Fraud likelihood", 200))
	chartCfg := cfg.ChartCfg
	if chartCfg.Width == 0 {
		chartCfg = DefaultChartConfig()
	}
	chartCfg.Title = "Index ratios vs red-flag thresholds"
	data.ComponentChart = template.HTML(HorizontalBarChart(bars, chartCfg))

	return data
}

// buildInputRows lists the statement lines that feed the ratios. Optional
// lines appear only when reported for at least one period.
func buildInputRows(d models.FinancialData) []InputRow {
	amt := func(v float64) string { return utils.FormatAmount(v, d.Currency) }
	opt := func(p *float64) string {
		if p == nil {
			return "—"
		}
		return amt(*p)
	}

	c, p := d.Current, d.Prior
	rows := []InputRow{{"Sales", amt(c.Sales), amt(p.Sales)}}
	optional := func(label string, cur, prior *float64) {
		if cur != nil || prior != nil {
			rows = append(rows, InputRow{label, opt(cur), opt(prior)})
		}
	}
	optional("Gross profit", c.GrossProfit, p.GrossProfit)
	optional("Cost of goods sold", c.CostOfGoodsSold, p.CostOfGoodsSold)
	rows = append(rows, InputRow{"Receivables", amt(c.Receivables), amt(p.Receivables)})
	optional("Related-party receivables", c.RelatedPartyReceivables, p.RelatedPartyReceivables)
	rows = append(rows,
		InputRow{"Total assets", amt(c.TotalAssets), amt(p.TotalAssets)},
		InputRow{"Current assets", amt(c.CurrentAssets), amt(p.CurrentAssets)},
		InputRow{"Cash", amt(c.Cash), amt(p.Cash)},
		InputRow{"PP&E (net)", amt(c.PPE), amt(p.PPE)},
	)
	optional("Oil & gas assets", c.OilAndGasAssets, p.OilAndGasAssets)
	rows = append(rows, InputRow{"Depreciation", amt(c.Depreciation), amt(p.Depreciation)})
	optional("SG&A expense", c.SGAExpense, p.SGAExpense)
	optional("Selling expense", c.SellingExpense, p.SellingExpense)
	optional("General expense", c.GeneralExpense, p.GeneralExpense)
	optional("Administrative expense", c.AdministrativeExpense, p.AdministrativeExpense)
	rows = append(rows,
		InputRow{"Long-term debt", amt(c.LongTermDebt), amt(p.LongTermDebt)},
		InputRow{"Current liabilities", amt(c.CurrentLiabilities), amt(p.CurrentLiabilities)},
		InputRow{"Tax payable", amt(c.TaxPayable), amt(p.TaxPayable)},
		InputRow{"Operating income", amt(d.OperatingIncome), ""},
		InputRow{"Operating cash flow", amt(d.OperatingCashFlow), ""},
	)
	return rows
}

func riskLabel(r models.RiskLevel) string {
	switch r {
	case models.HighRisk:
		return "High Risk"
	case models.ModerateRisk:
		return "Moderate Risk"
	case models.LowRisk:
		return "Low Risk"
	default:
		return string(r)
	}
}

func riskClass(r models.RiskLevel) string {
	switch r {
	case models.HighRisk:
		return "high"
	case models.ModerateRisk:
		return "moderate"
	default:
		return "low"
	}
}

func verdict(r models.MScoreResult) string {
	if math.IsNaN(r.MScore) || math.IsInf(r.MScore, 0) {
		return "The score could not be computed from these figures; the tier shown is not meaningful."
	}
	var s string
	switch r.Interpretation {
	case models.HighRisk:
		s = "The M-Score is above -1.78, the level associated with likely earnings manipulation."
	case models.ModerateRisk:
		s = "The M-Score falls between -2.22 and -1.78; the statements warrant a closer look."
	default:
		s = "The M-Score is at or below -2.22, consistent with non-manipulators."
	}
	switch n := len(r.RedFlags); n {
	case 0:
		s += " No index crossed its red-flag threshold."
	case 1:
		s += " 1 index crossed its red-flag threshold."
	default:
		s += fmt.Sprintf(" %d indices crossed their red-flag thresholds.", n)
	}
	return s
}

// ════════════════════════════════════════════════════════════════════
// Plain-text renderer
// ════════════════════════════════════════════════════════════════════

func renderTextReport(d ReportData) string {
	var sb strings.Builder
	line := strings.Repeat("═", 60)
	thinLine := strings.Repeat("─", 60)

	sb.WriteString("\n" + line + "\n")
	sb.WriteString(fmt.Sprintf("  %s\n", d.Title))
	sb.WriteString(fmt.Sprintf("  Generated: %s | Author: %s\n", d.GeneratedAt, d.Author))
	sb.WriteString(line + "\n\n")

	sb.WriteString(fmt.Sprintf("  %s (FY%d)\n", d.CompanyName, d.FinancialYear))
	meta := []string{"Formula: " + d.Formula}
	if d.Source != "" {
		meta = append(meta, "Source: "+d.Source)
	}
	if d.AnalysisID != "" {
		meta = append(meta, "ID: "+d.AnalysisID)
	}
	sb.WriteString("  " + strings.Join(meta, " | ") + "\n")
	sb.WriteString(thinLine + "\n")

	if d.ShowSummary {
		sb.WriteString("\n  ★ VERDICT\n")
		sb.WriteString(fmt.Sprintf("  M-Score: %s | %s | Fraud likelihood: %s\n",
			d.MScore, d.Interpretation, d.Likelihood))
		sb.WriteString(fmt.Sprintf("\n  %s\n", d.Verdict))
		sb.WriteString(thinLine + "\n")
	}

	if d.ShowComponents {
		sb.WriteString("\n  ■ INDEX RATIOS\n")
		for _, c := range d.Components {
			mark := ""
			if c.Flagged {
				mark = "  ⚑"
			}
			sb.WriteString(fmt.Sprintf("    %-5s %-34s %9s  (%s)%s\n", c.Name, c.Label, c.Value, c.Threshold, mark))
		}
		sb.WriteString(thinLine + "\n")
	}

	if d.ShowRedFlags {
		sb.WriteString("\n  ■ RED FLAGS\n")
		if len(d.RedFlags) == 0 {
			sb.WriteString("    None\n")
		}
		for _, f := range d.RedFlags {
			sb.WriteString(fmt.Sprintf("    [%s] %s %s (%s): %s\n", f.Severity, f.Component, f.Value, f.Threshold, f.Message))
		}
		sb.WriteString(thinLine + "\n")
	}

	if d.ShowInputs {
		sb.WriteString("\n  ■ STATEMENT INPUTS")
		if d.Unit != "" {
			sb.WriteString(" (" + d.Unit + ")")
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("    %-28s %18s %18s\n", "", "Current", "Prior"))
		for _, r := range d.Inputs {
			sb.WriteString(fmt.Sprintf("    %-28s %18s %18s\n", r.Label, r.Current, r.Prior))
		}
		sb.WriteString(thinLine + "\n")
	}

	if d.ShowConfidence {
		sb.WriteString("\n  ■ EXTRACTION CONFIDENCE\n")
		for _, c := range d.Confidences {
			sb.WriteString(fmt.Sprintf("    %-36s %s\n", c.Field, c.Value))
		}
		sb.WriteString(thinLine + "\n")
	}

	sb.WriteString("\n" + line + "\n")
	sb.WriteString("  The M-Score is a screening heuristic, not proof of manipulation.\n")
	sb.WriteString("  Fraud likelihood is a display scale, not a calibrated probability.\n")
	sb.WriteString(line + "\n")

	return sb.String()
}
