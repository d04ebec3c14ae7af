package datasource

import (
	"fmt"
	"strings"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// periodField describes one per-period amount of models.PeriodFigures.
type periodField struct {
	name     string
	aliases  []string // normalized statement captions
	required bool
	optional bool // stored as *float64
	get      func(p *models.PeriodFigures) (float64, bool)
	set      func(p *models.PeriodFigures, v float64)
}

func plainAccess(ptr func(p *models.PeriodFigures) *float64) (func(*models.PeriodFigures) (float64, bool), func(*models.PeriodFigures, float64)) {
	return func(p *models.PeriodFigures) (float64, bool) { return *ptr(p), true },
		func(p *models.PeriodFigures, v float64) { *ptr(p) = v }
}

func optAccess(ptr func(p *models.PeriodFigures) **float64) (func(*models.PeriodFigures) (float64, bool), func(*models.PeriodFigures, float64)) {
	return func(p *models.PeriodFigures) (float64, bool) {
			if f := *ptr(p); f != nil {
				return *f, true
			}
			return 0, false
		},
		func(p *models.PeriodFigures, v float64) { *ptr(p) = models.Float(v) }
}

func field(name string, required bool, aliases ...string) periodField {
	return periodField{name: name, required: required, aliases: aliases}
}

func (f periodField) plain(ptr func(p *models.PeriodFigures) *float64) periodField {
	f.get, f.set = plainAccess(ptr)
	return f
}

func (f periodField) opt(ptr func(p *models.PeriodFigures) **float64) periodField {
	f.get, f.set = optAccess(ptr)
	f.optional = true
	return f
}

// periodFields lists every per-period amount in the order statements usually
// print them. Aliases are lower case with punctuation stripped.
var periodFields = []periodField{
	field("sales", true, "sales", "net sales", "revenue", "revenues", "total revenue", "total revenues",
		"revenue from operations", "net revenue", "turnover").
		plain(func(p *models.PeriodFigures) *float64 { return &p.Sales }),
	field("cost_of_goods_sold", false, "cost of goods sold", "cost of sales", "cost of revenue",
		"cost of materials consumed", "cogs").
		opt(func(p *models.PeriodFigures) **float64 { return &p.CostOfGoodsSold }),
	field("gross_profit", false, "gross profit", "gross margin").
		opt(func(p *models.PeriodFigures) **float64 { return &p.GrossProfit }),
	field("selling_expense", false, "selling expenses", "selling and marketing expenses", "selling expense").
		opt(func(p *models.PeriodFigures) **float64 { return &p.SellingExpense }),
	field("general_expense", false, "general expenses", "general expense").
		opt(func(p *models.PeriodFigures) **float64 { return &p.GeneralExpense }),
	field("administrative_expense", false, "administrative expenses", "administrative expense").
		opt(func(p *models.PeriodFigures) **float64 { return &p.AdministrativeExpense }),
	field("sga_expense", false, "selling general and administrative expenses",
		"selling general and administrative", "sga", "sga expenses", "sg and a", "sg and a expenses").
		opt(func(p *models.PeriodFigures) **float64 { return &p.SGAExpense }),
	field("depreciation", true, "depreciation", "depreciation and amortization",
		"depreciation and amortisation", "depreciation amortization", "depreciation expense").
		plain(func(p *models.PeriodFigures) *float64 { return &p.Depreciation }),
	field("cash", false, "cash", "cash and cash equivalents", "cash and equivalents").
		plain(func(p *models.PeriodFigures) *float64 { return &p.Cash }),
	field("receivables", true, "receivables", "trade receivables", "accounts receivable",
		"accounts receivable net", "debtors", "sundry debtors").
		plain(func(p *models.PeriodFigures) *float64 { return &p.Receivables }),
	field("related_party_receivables", false, "related party receivables",
		"receivables from related parties", "due from related parties").
		opt(func(p *models.PeriodFigures) **float64 { return &p.RelatedPartyReceivables }),
	field("current_assets", true, "current assets", "total current assets").
		plain(func(p *models.PeriodFigures) *float64 { return &p.CurrentAssets }),
	field("ppe", true, "property plant and equipment", "property plant and equipment net",
		"net property plant and equipment", "ppe", "fixed assets", "net block").
		plain(func(p *models.PeriodFigures) *float64 { return &p.PPE }),
	field("oil_and_gas_assets", false, "oil and gas properties", "oil and gas assets").
		opt(func(p *models.PeriodFigures) **float64 { return &p.OilAndGasAssets }),
	field("total_assets", true, "total assets").
		plain(func(p *models.PeriodFigures) *float64 { return &p.TotalAssets }),
	field("current_liabilities", false, "current liabilities", "total current liabilities").
		plain(func(p *models.PeriodFigures) *float64 { return &p.CurrentLiabilities }),
	field("tax_payable", false, "tax payable", "taxes payable", "income taxes payable",
		"current tax liabilities").
		plain(func(p *models.PeriodFigures) *float64 { return &p.TaxPayable }),
	field("long_term_debt", true, "long term debt", "long term borrowings", "non current borrowings",
		"long term debt net of current portion").
		plain(func(p *models.PeriodFigures) *float64 { return &p.LongTermDebt }),
}

// recordField is a current-period-only amount on models.FinancialData.
type recordField struct {
	name    string
	aliases []string
	ptr     func(d *models.FinancialData) *float64
}

var recordFields = []recordField{
	{"operating_income", []string{"operating income", "operating profit", "income from operations",
		"ebit", "operating income loss"},
		func(d *models.FinancialData) *float64 { return &d.OperatingIncome }},
	{"operating_cash_flow", []string{"operating cash flow", "cash flow from operations",
		"cash from operating activities", "net cash from operating activities",
		"net cash provided by operating activities", "cash generated from operations"},
		func(d *models.FinancialData) *float64 { return &d.OperatingCashFlow }},
}

var periodFieldsByName = func() map[string]periodField {
	m := make(map[string]periodField, len(periodFields))
	for _, f := range periodFields {
		m[f.name] = f
	}
	return m
}()

// FieldPaths lists every settable amount path: "current.<field>",
// "prior.<field>", then the current-period-only record fields.
func FieldPaths() []string {
	paths := make([]string, 0, 2*len(periodFields)+len(recordFields))
	for _, period := range []string{"current", "prior"} {
		for _, f := range periodFields {
			paths = append(paths, period+"."+f.name)
		}
	}
	for _, f := range recordFields {
		paths = append(paths, f.name)
	}
	return paths
}

// SetField assigns v to the amount at path ("current.sales", "operating_income").
func SetField(d *models.FinancialData, path string, v float64) error {
	if f, ok := lookupRecordField(path); ok {
		*f.ptr(d) = v
		return nil
	}
	p, f, err := resolvePeriodField(d, path)
	if err != nil {
		return err
	}
	f.set(p, v)
	return nil
}

// FieldValue returns the amount at path. ok is false for unset optional fields.
func FieldValue(d *models.FinancialData, path string) (v float64, ok bool, err error) {
	if f, found := lookupRecordField(path); found {
		return *f.ptr(d), true, nil
	}
	p, f, err := resolvePeriodField(d, path)
	if err != nil {
		return 0, false, err
	}
	v, ok = f.get(p)
	return v, ok, nil
}

func lookupRecordField(name string) (recordField, bool) {
	for _, f := range recordFields {
		if f.name == name {
			return f, true
		}
	}
	return recordField{}, false
}

func resolvePeriodField(d *models.FinancialData, path string) (*models.PeriodFigures, periodField, error) {
	period, name, found := strings.Cut(path, ".")
	if !found {
		return nil, periodField{}, fmt.Errorf("%w: %q", ErrUnknownField, path)
	}
	f, ok := periodFieldsByName[name]
	if !ok {
		return nil, periodField{}, fmt.Errorf("%w: %q", ErrUnknownField, path)
	}
	switch period {
	case "current":
		return &d.Current, f, nil
	case "prior":
		return &d.Prior, f, nil
	}
	return nil, periodField{}, fmt.Errorf("%w: %q (period must be current or prior)", ErrUnknownField, path)
}

// normalizeLabel lower-cases a caption and reduces punctuation and runs of
// whitespace to single spaces, so "Selling, General & Admin." and
// "selling general admin" compare equal.
func normalizeLabel(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '&':
			if b.Len() > 0 {
				b.WriteString(" and")
			}
			space = true
		default:
			space = true
		}
	}
	return b.String()
}
