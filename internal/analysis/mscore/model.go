package mscore

import "github.com/seenimoa/fraudlens/pkg/models"

// Component names, in the fixed order red flags are reported.
const (
	DSRI = "dsri"
	GMI  = "gmi"
	AQI  = "aqi"
	SGI  = "sgi"
	DEPI = "depi"
	SGAI = "sgai"
	TATA = "tata"
	LVGI = "lvgi"
)

// ComponentNames returns the eight component names in reporting order.
func ComponentNames() []string {
	return []string{DSRI, GMI, AQI, SGI, DEPI, SGAI, TATA, LVGI}
}

// Coefficients are the weights of the eight-variable model. Signs are carried
// on the weight, so the composite is a plain sum.
type Coefficients struct {
	DSRI float64 `json:"dsri"`
	GMI  float64 `json:"gmi"`
	AQI  float64 `json:"aqi"`
	SGI  float64 `json:"sgi"`
	DEPI float64 `json:"depi"`
	SGAI float64 `json:"sgai"`
	TATA float64 `json:"tata"`
	LVGI float64 `json:"lvgi"`
}

// Threshold is the published red-flag cut-off for one component.
type Threshold struct {
	Component string           `json:"component"`
	Value     float64          `json:"value"`
	Direction models.Direction `json:"direction"`
	Severity  models.Severity  `json:"severity"`
	Message   string           `json:"message"`
}

// Model is the full parameter set of the Beneish M-Score as published
// (Beneish, 1999). The values are fixed and must not be tuned.
type Model struct {
	Intercept    float64      `json:"intercept"`
	Coefficients Coefficients `json:"coefficients"`

	// mScore > HighRiskCutoff is HIGH_RISK; mScore <= LowRiskCutoff is LOW_RISK.
	HighRiskCutoff float64 `json:"high_risk_cutoff"`
	LowRiskCutoff  float64 `json:"low_risk_cutoff"`
	// Width of the moderate band used by the likelihood interpolation.
	ModerateBand float64 `json:"moderate_band"`

	MinLikelihood float64 `json:"min_likelihood"`
	MaxLikelihood float64 `json:"max_likelihood"`

	Thresholds []Threshold `json:"thresholds"`
}

// DefaultModel returns the published parameters. Each call returns a fresh
// copy, so callers cannot alter the values used by other engines.
func DefaultModel() Model {
	return Model{
		Intercept: -4.84,
		Coefficients: Coefficients{
			DSRI: 0.920,
			GMI:  0.528,
			AQI:  0.404,
			SGI:  0.892,
			DEPI: 0.115,
			SGAI: -0.172,
			TATA: 4.679,
			LVGI: -0.327,
		},
		HighRiskCutoff: -1.78,
		LowRiskCutoff:  -2.22,
		ModerateBand:   0.44,
		MinLikelihood:  5,
		MaxLikelihood:  95,
		Thresholds: []Threshold{
			{DSRI, 1.031, models.Above, models.SeverityHigh,
				"Receivables are growing faster than sales, which may indicate revenue inflation"},
			{GMI, 1.041, models.Above, models.SeverityModerate,
				"Gross margin has deteriorated, increasing pressure to manage earnings"},
			{AQI, 1.039, models.Above, models.SeverityModerate,
				"Asset quality has declined; more costs may be capitalized as soft assets"},
			{SGI, 1.134, models.Above, models.SeverityModerate,
				"Rapid sales growth creates pressure to sustain reported performance"},
			{DEPI, 1.077, models.Above, models.SeverityModerate,
				"Depreciation rate has slowed, which may inflate reported income"},
			{SGAI, 0.893, models.Below, models.SeverityLow,
				"SG&A expenses have fallen sharply relative to sales"},
			{TATA, 0.018, models.Above, models.SeverityHigh,
				"High accruals relative to total assets; earnings are not backed by cash"},
			{LVGI, 1.037, models.Above, models.SeverityModerate,
				"Leverage has increased, raising debt-covenant pressure"},
		},
	}
}

// Value returns the named component of c. ok is false for unknown names.
func Value(c models.MScoreComponents, name string) (v float64, ok bool) {
	switch name {
	case DSRI:
		return c.DSRI, true
	case GMI:
		return c.GMI, true
	case AQI:
		return c.AQI, true
	case SGI:
		return c.SGI, true
	case DEPI:
		return c.DEPI, true
	case SGAI:
		return c.SGAI, true
	case TATA:
		return c.TATA, true
	case LVGI:
		return c.LVGI, true
	}
	return 0, false
}
