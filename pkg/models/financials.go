package models

// PeriodFigures holds the statement line items for a single reporting period.
// Amounts share one unit across the record (e.g. millions of the reporting currency).
//
// Pointer fields are optional: a nil value means "not reported" and is read as
// zero by the accessor methods below. That default is a deliberate
// approximation and shifts the ratios that consume it.
type PeriodFigures struct {
	Sales                   float64  `json:"sales"                               yaml:"sales"`
	GrossProfit             *float64 `json:"gross_profit,omitempty"              yaml:"gross_profit,omitempty"`
	CostOfGoodsSold         *float64 `json:"cost_of_goods_sold,omitempty"        yaml:"cost_of_goods_sold,omitempty"`
	Receivables             float64  `json:"receivables"                         yaml:"receivables"`
	RelatedPartyReceivables *float64 `json:"related_party_receivables,omitempty" yaml:"related_party_receivables,omitempty"`
	TotalAssets             float64  `json:"total_assets"                        yaml:"total_assets"`
	CurrentAssets           float64  `json:"current_assets"                      yaml:"current_assets"`
	Cash                    float64  `json:"cash"                                yaml:"cash"`
	PPE                     float64  `json:"ppe"                                 yaml:"ppe"` // Property, plant & equipment (net)
	OilAndGasAssets         *float64 `json:"oil_and_gas_assets,omitempty"        yaml:"oil_and_gas_assets,omitempty"`
	Depreciation            float64  `json:"depreciation"                        yaml:"depreciation"`
	SGAExpense              *float64 `json:"sga_expense,omitempty"               yaml:"sga_expense,omitempty"`
	SellingExpense          *float64 `json:"selling_expense,omitempty"           yaml:"selling_expense,omitempty"`
	GeneralExpense          *float64 `json:"general_expense,omitempty"           yaml:"general_expense,omitempty"`
	AdministrativeExpense   *float64 `json:"administrative_expense,omitempty"    yaml:"administrative_expense,omitempty"`
	LongTermDebt            float64  `json:"long_term_debt"                      yaml:"long_term_debt"`
	CurrentLiabilities      float64  `json:"current_liabilities"                 yaml:"current_liabilities"`
	TaxPayable              float64  `json:"tax_payable"                         yaml:"tax_payable"`
}

// FinancialData is a two-period snapshot of one company's statements:
// Current is period t, Prior is period t-1 on the same accounting basis.
type FinancialData struct {
	CompanyName   string        `json:"company_name"        yaml:"company_name"`
	FinancialYear int           `json:"financial_year"      yaml:"financial_year"`
	Currency      string        `json:"currency,omitempty"  yaml:"currency,omitempty"`
	Unit          string        `json:"unit,omitempty"      yaml:"unit,omitempty"`
	Current       PeriodFigures `json:"current"             yaml:"current"`
	Prior         PeriodFigures `json:"prior"               yaml:"prior"`

	// Current-period only.
	OperatingIncome   float64 `json:"operating_income"    yaml:"operating_income"`
	OperatingCashFlow float64 `json:"operating_cash_flow" yaml:"operating_cash_flow"`
}

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 { return &v }

func valueOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// GrossProfitValue returns reported gross profit, or sales minus cost of goods
// sold when only COGS is reported. Zero when neither is present.
func (p PeriodFigures) GrossProfitValue() float64 {
	if p.GrossProfit != nil {
		return *p.GrossProfit
	}
	if p.CostOfGoodsSold != nil {
		return p.Sales - *p.CostOfGoodsSold
	}
	return 0
}

// TotalReceivables is trade receivables plus related-party receivables.
func (p PeriodFigures) TotalReceivables() float64 {
	return p.Receivables + valueOrZero(p.RelatedPartyReceivables)
}

// SGAValue returns the SG&A expense, summing the selling, general and
// administrative sub-components when the aggregate is not reported.
func (p PeriodFigures) SGAValue() float64 {
	if p.SGAExpense != nil {
		return *p.SGAExpense
	}
	return valueOrZero(p.SellingExpense) + valueOrZero(p.GeneralExpense) + valueOrZero(p.AdministrativeExpense)
}

// HardAssets is current assets plus net PP&E plus oil-and-gas assets: the
// realizable base the asset-quality index measures against.
func (p PeriodFigures) HardAssets() float64 {
	return p.CurrentAssets + p.PPE + valueOrZero(p.OilAndGasAssets)
}
