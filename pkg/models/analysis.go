package models

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the three-tier interpretation of an M-Score.
type RiskLevel string

const (
	LowRisk      RiskLevel = "LOW_RISK"
	ModerateRisk RiskLevel = "MODERATE_RISK"
	HighRisk     RiskLevel = "HIGH_RISK"
)

// ParseRiskLevel accepts the canonical names plus the short forms "low",
// "moderate" and "high" (case-insensitive).
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low_risk", "low":
		return LowRisk, nil
	case "moderate_risk", "moderate":
		return ModerateRisk, nil
	case "high_risk", "high":
		return HighRisk, nil
	default:
		return "", fmt.Errorf("invalid risk level: %q", s)
	}
}

// Severity grades a single red flag.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityLow      Severity = "low"
)

// Direction is the side of a threshold that counts as risky.
type Direction string

const (
	Above Direction = ">"
	Below Direction = "<"
)

// MScoreComponents holds the eight dimensionless Beneish index ratios.
type MScoreComponents struct {
	DSRI float64 `json:"dsri"` // Days Sales in Receivables Index
	GMI  float64 `json:"gmi"`  // Gross Margin Index
	AQI  float64 `json:"aqi"`  // Asset Quality Index
	SGI  float64 `json:"sgi"`  // Sales Growth Index
	DEPI float64 `json:"depi"` // Depreciation Index
	SGAI float64 `json:"sgai"` // SG&A Expense Index
	TATA float64 `json:"tata"` // Total Accruals to Total Assets
	LVGI float64 `json:"lvgi"` // Leverage Index
}

// RedFlag records one component crossing its threshold in the risky direction.
type RedFlag struct {
	Component string    `json:"component"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// MScoreResult is the complete output of one scoring run.
type MScoreResult struct {
	MScore          float64          `json:"m_score"`
	Components      MScoreComponents `json:"components"`
	Interpretation  RiskLevel        `json:"interpretation"`
	FraudLikelihood float64          `json:"fraud_likelihood"` // display heuristic in [5, 95], not a probability
	RedFlags        []RedFlag        `json:"red_flags"`
	Formula         string           `json:"formula"`
}

// Source describes how the scored figures were obtained.
type Source string

const (
	SourceManual    Source = "manual"
	SourceExtracted Source = "extracted"
	SourceMerged    Source = "merged"
)

// Analysis is a persisted input/result pair.
type Analysis struct {
	ID              string             `json:"id"`
	CreatedAt       time.Time          `json:"created_at"`
	Source          Source             `json:"source"`
	Input           FinancialData      `json:"input"`
	Result          MScoreResult       `json:"result"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
}

// AnalysisSummary is the list-view projection of an Analysis.
type AnalysisSummary struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	CompanyName     string    `json:"company_name"`
	FinancialYear   int       `json:"financial_year"`
	MScore          float64   `json:"m_score"`
	Interpretation  RiskLevel `json:"interpretation"`
	FraudLikelihood float64   `json:"fraud_likelihood"`
	RedFlagCount    int       `json:"red_flag_count"`
}

// Summary projects the analysis for history listings.
func (a *Analysis) Summary() AnalysisSummary {
	return AnalysisSummary{
		ID:              a.ID,
		CreatedAt:       a.CreatedAt,
		CompanyName:     a.Input.CompanyName,
		FinancialYear:   a.Input.FinancialYear,
		MScore:          a.Result.MScore,
		Interpretation:  a.Result.Interpretation,
		FraudLikelihood: a.Result.FraudLikelihood,
		RedFlagCount:    len(a.Result.RedFlags),
	}
}

// Extraction is the outcome of pulling figures out of an uploaded document.
// Confidence is keyed by field path (e.g. "current.sales") in [0, 1].
type Extraction struct {
	Data       FinancialData      `json:"data"`
	Confidence map[string]float64 `json:"confidence"`
	Missing    []string           `json:"missing,omitempty"`
}

// Filing is one entry from a regulator's filing feed.
type Filing struct {
	CompanyName string    `json:"company_name"`
	CIK         string    `json:"cik"`
	Form        string    `json:"form"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Filed       time.Time `json:"filed"`
	ID          string    `json:"id"`
}
