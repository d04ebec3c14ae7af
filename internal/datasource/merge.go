package datasource

import (
	"maps"
	"slices"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Merge applies user corrections to an extraction. Overrides are keyed by
// field path (see FieldPaths) and always win; their confidence is recorded as
// ConfidenceOverride and they are dropped from the missing list. The input
// extraction is not modified.
func Merge(ex *models.Extraction, overrides map[string]float64) (*models.Extraction, error) {
	out := &models.Extraction{
		Data:       cloneData(ex.Data),
		Confidence: maps.Clone(ex.Confidence),
	}
	if out.Confidence == nil {
		out.Confidence = make(map[string]float64, len(overrides))
	}

	// Sorted so a bad path is always reported the same way.
	for _, path := range slices.Sorted(maps.Keys(overrides)) {
		if err := SetField(&out.Data, path, overrides[path]); err != nil {
			return nil, err
		}
		out.Confidence[path] = ConfidenceOverride
	}

	for _, p := range ex.Missing {
		if _, ok := overrides[p]; !ok {
			out.Missing = append(out.Missing, p)
		}
	}
	return out, nil
}

// cloneData deep-copies the optional pointer fields so callers can mutate the
// result freely.
func cloneData(d models.FinancialData) models.FinancialData {
	d.Current = clonePeriod(d.Current)
	d.Prior = clonePeriod(d.Prior)
	return d
}

func clonePeriod(p models.PeriodFigures) models.PeriodFigures {
	for _, ptr := range []**float64{
		&p.GrossProfit, &p.CostOfGoodsSold, &p.RelatedPartyReceivables, &p.OilAndGasAssets,
		&p.SGAExpense, &p.SellingExpense, &p.GeneralExpense, &p.AdministrativeExpense,
	} {
		if *ptr != nil {
			*ptr = models.Float(**ptr)
		}
	}
	return p
}
