package mscore

import (
	"strings"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Validate checks that data can be scored. It reports every failing field at
// once as an *InvalidFinancialDataError; nil means the record is scoreable.
//
// Rules:
//   - company name set, financial year four digits;
//   - sales and total assets non-zero in both periods (they are divisors);
//   - statement amounts non-negative. Operating income and operating cash flow
//     are exempt because losses and cash burn are ordinary.
func Validate(data models.FinancialData) error {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(data.CompanyName) == "" {
		add("company_name", "is required")
	}
	if data.FinancialYear < 1000 || data.FinancialYear > 9999 {
		add("financial_year", "must be a 4-digit year")
	}

	for _, p := range []struct {
		name string
		fig  models.PeriodFigures
	}{
		{"current", data.Current},
		{"prior", data.Prior},
	} {
		if p.fig.Sales == 0 {
			add(p.name+".sales", "must be non-zero")
		}
		if p.fig.TotalAssets == 0 {
			add(p.name+".total_assets", "must be non-zero")
		}
		for _, a := range amounts(p.fig) {
			if a.value < 0 {
				add(p.name+"."+a.field, "must be non-negative")
			}
		}
	}

	if len(fields) > 0 {
		return &InvalidFinancialDataError{Fields: fields}
	}
	return nil
}

type amount struct {
	field string
	value float64
}

// amounts lists the reported monetary fields of one period. Unset optional
// fields are skipped.
func amounts(p models.PeriodFigures) []amount {
	out := []amount{
		{"sales", p.Sales},
		{"receivables", p.Receivables},
		{"total_assets", p.TotalAssets},
		{"current_assets", p.CurrentAssets},
		{"cash", p.Cash},
		{"ppe", p.PPE},
		{"depreciation", p.Depreciation},
		{"long_term_debt", p.LongTermDebt},
		{"current_liabilities", p.CurrentLiabilities},
		{"tax_payable", p.TaxPayable},
	}
	for _, o := range []struct {
		field string
		value *float64
	}{
		{"gross_profit", p.GrossProfit},
		{"cost_of_goods_sold", p.CostOfGoodsSold},
		{"related_party_receivables", p.RelatedPartyReceivables},
		{"oil_and_gas_assets", p.OilAndGasAssets},
		{"sga_expense", p.SGAExpense},
		{"selling_expense", p.SellingExpense},
		{"general_expense", p.GeneralExpense},
		{"administrative_expense", p.AdministrativeExpense},
	} {
		if o.value != nil {
			out = append(out, amount{o.field, *o.value})
		}
	}
	return out
}
