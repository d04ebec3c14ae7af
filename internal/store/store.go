// Package store persists screened analyses.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/seenimoa/fraudlens/pkg/models"
)

var (
	// ErrNotFound is returned when no analysis has the requested ID.
	ErrNotFound = errors.New("analysis not found")

	// ErrExists is returned when saving an analysis whose ID is already stored.
	ErrExists = errors.New("analysis already exists")

	// ErrNonFinite is returned for results carrying NaN or Inf values, which
	// permissive scoring can produce. They have no JSON encoding.
	ErrNonFinite = errors.New("analysis has non-finite values")
)

// Default and maximum page sizes for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ListFilter narrows a history listing. Zero values match everything.
type ListFilter struct {
	Company string           // case-insensitive substring of the company name
	Risk    models.RiskLevel // exact interpretation
	Limit   int
	Offset  int
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}

// Store persists analyses. Implementations are safe for concurrent use.
type Store interface {
	// Save assigns an ID and creation time when unset, then stores a.
	Save(ctx context.Context, a *models.Analysis) error
	Get(ctx context.Context, id string) (*models.Analysis, error)
	// List returns summaries newest first.
	List(ctx context.Context, f ListFilter) ([]models.AnalysisSummary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open returns the store for driver: "sqlite" (path is the database file) or
// "memory".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func checkFinite(a *models.Analysis) error {
	r := a.Result
	c := r.Components
	for _, v := range []float64{r.MScore, r.FraudLikelihood, c.DSRI, c.GMI, c.AQI, c.SGI, c.DEPI, c.SGAI, c.TATA, c.LVGI} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	return nil
}

// clone deep-copies an analysis through its JSON form, the same encoding the
// SQLite store uses.
func clone(a *models.Analysis) (*models.Analysis, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var out models.Analysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
