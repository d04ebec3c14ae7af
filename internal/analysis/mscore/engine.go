// Package mscore computes the Beneish M-Score: eight year-over-year index
// ratios from a two-period FinancialData record, a weighted composite, a
// three-tier risk interpretation and a list of per-ratio red flags.
//
// The engine is pure. It performs no I/O and holds no mutable state, so a
// single Engine may be shared by any number of goroutines.
//
// Formula variants. The default FormulaCompatible reproduces the figures of
// the screening product this engine was built for, which deviates from the
// academic model in three places:
//
//   - GMI uses (sales - grossProfit) / sales as the margin term;
//   - TATA is (operatingIncome - operatingCashFlow) / totalAssets;
//   - LVGI puts currentAssets, not currentLiabilities, next to long-term debt.
//
// FormulaCanonical implements the published definitions instead (gross profit
// margin, working-capital accruals, total-liability leverage). Scores from the
// two variants are not comparable; every result records which one produced it.
package mscore

import (
	"fmt"
	"math"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Formula selects the ratio definitions.
type Formula string

const (
	FormulaCompatible Formula = "compatible"
	FormulaCanonical  Formula = "canonical"
)

// ParseFormula validates a formula name. The empty string selects the default.
func ParseFormula(s string) (Formula, error) {
	switch Formula(s) {
	case "", FormulaCompatible:
		return FormulaCompatible, nil
	case FormulaCanonical:
		return FormulaCanonical, nil
	default:
		return "", fmt.Errorf("%w %q (want %q or %q)", ErrUnknownFormula, s, FormulaCompatible, FormulaCanonical)
	}
}

// Engine scores FinancialData records. The zero value is not usable; call New.
type Engine struct {
	model      Model
	formula    Formula
	permissive bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithFormula selects the ratio definitions (default FormulaCompatible). An
// unrecognized value makes Compute fail with ErrUnknownFormula; use
// ParseFormula to validate names from configuration.
func WithFormula(f Formula) Option {
	return func(e *Engine) { e.formula = f }
}

// WithPermissive disables the degeneracy checks. Zero denominators then
// produce Inf/NaN components that flow into the composite unchanged, a NaN
// score classifies as LOW_RISK, and the likelihood is pinned to its bounds.
func WithPermissive(permissive bool) Option {
	return func(e *Engine) { e.permissive = permissive }
}

// New returns an engine using the published model parameters.
func New(opts ...Option) *Engine {
	e := &Engine{
		model:   DefaultModel(),
		formula: FormulaCompatible,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.formula == "" {
		e.formula = FormulaCompatible
	}
	return e
}

// Model returns a copy of the engine's parameters.
func (e *Engine) Model() Model {
	m := e.model
	m.Thresholds = append([]Threshold(nil), e.model.Thresholds...)
	return m
}

// Formula returns the variant this engine computes.
func (e *Engine) Formula() Formula { return e.formula }

// Permissive reports whether degeneracy checks are disabled.
func (e *Engine) Permissive() bool { return e.permissive }

var defaultEngine = New()

// ComputeScore scores data with the default engine: compatible formulas and
// strict degeneracy checks. Callers are expected to run Validate first.
func ComputeScore(data models.FinancialData) (*models.MScoreResult, error) {
	return defaultEngine.Compute(data)
}

// Compute returns the full assessment for data.
//
// It does not validate its input. In strict mode (the default) a zero
// denominator in any ratio returns a *ComputationError; in permissive mode the
// non-finite values are returned as computed.
func (e *Engine) Compute(data models.FinancialData) (*models.MScoreResult, error) {
	c := &ratioCalc{}

	var comps models.MScoreComponents
	switch e.formula {
	case FormulaCanonical:
		comps = canonicalComponents(c, data)
	case FormulaCompatible:
		comps = compatibleComponents(c, data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormula, e.formula)
	}

	score := Composite(e.model, comps)

	if !e.permissive {
		if c.err != nil {
			return nil, c.err
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, &ComputationError{Ratio: "m_score", Reason: "composite is not finite"}
		}
	}

	level, likelihood := Classify(e.model, score)

	return &models.MScoreResult{
		MScore:          score,
		Components:      comps,
		Interpretation:  level,
		FraudLikelihood: likelihood,
		RedFlags:        DetectRedFlags(e.model, comps),
		Formula:         string(e.formula),
	}, nil
}

// Composite applies the model weights to the components.
func Composite(m Model, c models.MScoreComponents) float64 {
	w := m.Coefficients
	return m.Intercept +
		w.DSRI*c.DSRI +
		w.GMI*c.GMI +
		w.AQI*c.AQI +
		w.SGI*c.SGI +
		w.DEPI*c.DEPI +
		w.SGAI*c.SGAI +
		w.TATA*c.TATA +
		w.LVGI*c.LVGI
}

// Classify maps a score to its risk tier and display likelihood.
//
//	score >  high cut-off           HIGH_RISK      min(95, 50 + (score+1.78)*20)
//	low < score <= high cut-off     MODERATE_RISK  30 + ((score+2.22)/0.44)*20
//	score <= low cut-off            LOW_RISK       max(5, 30 + (score+2.22)*10)
//
// A NaN score fails both comparisons and lands in LOW_RISK.
func Classify(m Model, score float64) (models.RiskLevel, float64) {
	var level models.RiskLevel
	var likelihood float64

	switch {
	case score > m.HighRiskCutoff:
		level = models.HighRisk
		likelihood = math.Min(m.MaxLikelihood, 50+(score-m.HighRiskCutoff)*20)
	case score > m.LowRiskCutoff:
		level = models.ModerateRisk
		likelihood = 30 + ((score-m.LowRiskCutoff)/m.ModerateBand)*20
	default:
		level = models.LowRisk
		likelihood = math.Max(m.MinLikelihood, 30+(score-m.LowRiskCutoff)*10)
	}

	return level, clamp(likelihood, m.MinLikelihood, m.MaxLikelihood)
}

// clamp bounds v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// --- ratio definitions ---

// ratioCalc divides and remembers the first zero denominator it sees.
type ratioCalc struct {
	err *ComputationError
}

func (c *ratioCalc) div(ratio string, num, den float64) float64 {
	if den == 0 && c.err == nil {
		c.err = &ComputationError{Ratio: ratio, Reason: "zero denominator"}
	}
	return num / den
}

// sharedComponents fills the five ratios both variants define identically.
func sharedComponents(c *ratioCalc, d models.FinancialData) models.MScoreComponents {
	cur, pri := d.Current, d.Prior

	return models.MScoreComponents{
		DSRI: c.div(DSRI,
			c.div(DSRI, cur.TotalReceivables(), cur.Sales),
			c.div(DSRI, pri.TotalReceivables(), pri.Sales)),
		AQI: c.div(AQI,
			1-c.div(AQI, cur.HardAssets(), cur.TotalAssets),
			1-c.div(AQI, pri.HardAssets(), pri.TotalAssets)),
		SGI: c.div(SGI, cur.Sales, pri.Sales),
		DEPI: c.div(DEPI,
			depreciationRate(c, pri),
			depreciationRate(c, cur)),
		SGAI: c.div(SGAI,
			c.div(SGAI, cur.SGAValue(), cur.Sales),
			c.div(SGAI, pri.SGAValue(), pri.Sales)),
	}
}

func compatibleComponents(c *ratioCalc, d models.FinancialData) models.MScoreComponents {
	cur, pri := d.Current, d.Prior
	comps := sharedComponents(c, d)

	comps.GMI = c.div(GMI,
		c.div(GMI, pri.Sales-pri.GrossProfitValue(), pri.Sales),
		c.div(GMI, cur.Sales-cur.GrossProfitValue(), cur.Sales))
	comps.TATA = c.div(TATA, d.OperatingIncome-d.OperatingCashFlow, cur.TotalAssets)
	comps.LVGI = c.div(LVGI,
		c.div(LVGI, cur.LongTermDebt+cur.CurrentAssets, cur.TotalAssets),
		c.div(LVGI, pri.LongTermDebt+pri.CurrentAssets, pri.TotalAssets))

	return comps
}

func canonicalComponents(c *ratioCalc, d models.FinancialData) models.MScoreComponents {
	cur, pri := d.Current, d.Prior
	comps := sharedComponents(c, d)

	comps.GMI = c.div(GMI,
		c.div(GMI, pri.GrossProfitValue(), pri.Sales),
		c.div(GMI, cur.GrossProfitValue(), cur.Sales))

	// Working-capital accruals: change in non-cash current assets, less the
	// change in current liabilities net of taxes payable, less depreciation.
	deltaCA := cur.CurrentAssets - pri.CurrentAssets
	deltaCash := cur.Cash - pri.Cash
	deltaCL := cur.CurrentLiabilities - pri.CurrentLiabilities
	deltaTax := cur.TaxPayable - pri.TaxPayable
	accruals := (deltaCA - deltaCash) - (deltaCL - deltaTax) - cur.Depreciation
	comps.TATA = c.div(TATA, accruals, cur.TotalAssets)

	comps.LVGI = c.div(LVGI,
		c.div(LVGI, cur.LongTermDebt+cur.CurrentLiabilities, cur.TotalAssets),
		c.div(LVGI, pri.LongTermDebt+pri.CurrentLiabilities, pri.TotalAssets))

	return comps
}

func depreciationRate(c *ratioCalc, p models.PeriodFigures) float64 {
	return c.div(DEPI, p.Depreciation, p.PPE+p.Depreciation)
}
