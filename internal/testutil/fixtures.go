// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Fixed IDs for deterministic testing.
var (
	AnalysisID1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	AnalysisID2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// ReferenceData is the verification record used throughout the test suite.
// Expected (compatible formulas): DSRI 1.2, GMI 0.925926, AQI 0.9, SGI 1.111111,
// DEPI 1.0, SGAI 1.0, TATA 0.015, LVGI 1.017391, m-score -2.211902.
func ReferenceData() models.FinancialData {
	return models.FinancialData{
		CompanyName:   "Acme Industrial",
		FinancialYear: 2024,
		Currency:      "USD",
		Current: models.PeriodFigures{
			Sales:         100000,
			GrossProfit:   models.Float(40000),
			Receivables:   20000,
			TotalAssets:   200000,
			CurrentAssets: 80000,
			PPE:           100000,
			Depreciation:  5000,
			SGAExpense:    models.Float(20000),
			LongTermDebt:  50000,
		},
		Prior: models.PeriodFigures{
			Sales:         90000,
			GrossProfit:   models.Float(40000),
			Receivables:   15000,
			TotalAssets:   180000,
			CurrentAssets: 70000,
			PPE:           90000,
			Depreciation:  4500,
			SGAExpense:    models.Float(18000),
			LongTermDebt:  45000,
		},
		OperatingIncome:   15000,
		OperatingCashFlow: 12000,
	}
}

// CanonicalData extends ReferenceData with the liability and cash lines the
// canonical formulas need.
func CanonicalData() models.FinancialData {
	d := ReferenceData()
	d.Current.Cash, d.Prior.Cash = 10000, 9000
	d.Current.CurrentLiabilities, d.Prior.CurrentLiabilities = 40000, 38000
	d.Current.TaxPayable, d.Prior.TaxPayable = 3000, 2500
	return d
}

// Analysis wraps ReferenceData into a stored record with the given result.
func Analysis(id uuid.UUID, result models.MScoreResult) *models.Analysis {
	return &models.Analysis{
		ID:     id.String(),
		Source: models.SourceManual,
		Input:  ReferenceData(),
		Result: result,
	}
}

// AssertClose fails the test if got differs from want by more than tol.
func AssertClose(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.10f, want %.10f (tol %g)", name, got, want, tol)
	}
}
