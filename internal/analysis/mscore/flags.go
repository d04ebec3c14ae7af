package mscore

import "github.com/seenimoa/fraudlens/pkg/models"

// DetectRedFlags compares each component with its threshold, independently of
// the composite score. Comparisons are strict, so a value equal to the
// threshold does not flag, and NaN never flags. Flags come back in the order
// of m.Thresholds (dsri, gmi, aqi, sgi, depi, sgai, tata, lvgi for the
// published model), never sorted by severity.
func DetectRedFlags(m Model, c models.MScoreComponents) []models.RedFlag {
	flags := make([]models.RedFlag, 0, len(m.Thresholds))
	for _, t := range m.Thresholds {
		v, ok := Value(c, t.Component)
		if !ok || !crosses(v, t) {
			continue
		}
		flags = append(flags, models.RedFlag{
			Component: t.Component,
			Value:     v,
			Threshold: t.Value,
			Direction: t.Direction,
			Message:   t.Message,
			Severity:  t.Severity,
		})
	}
	return flags
}

func crosses(v float64, t Threshold) bool {
	if t.Direction == models.Below {
		return v < t.Value
	}
	return v > t.Value
}
