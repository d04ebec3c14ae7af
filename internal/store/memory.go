package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// MemoryStore keeps analyses in process memory. It backs tests and the
// `--store memory` mode of the CLI.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*models.Analysis
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.Analysis), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, a *models.Analysis) error {
	if err := checkFinite(a); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	if _, ok := m.items[a.ID]; ok {
		return ErrExists
	}
	c, err := clone(a)
	if err != nil {
		return err
	}
	m.items[a.ID] = c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Analysis, error) {
	m.mu.RLock()
	a, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a)
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]models.AnalysisSummary, error) {
	m.mu.RLock()
	var matched []*models.Analysis
	company := strings.ToLower(f.Company)
	for _, a := range m.items {
		if company != "" && !strings.Contains(strings.ToLower(a.Input.CompanyName), company) {
			continue
		}
		if f.Risk != "" && a.Result.Interpretation != f.Risk {
			continue
		}
		matched = append(matched, a)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	out := []models.AnalysisSummary{}
	for i := f.Offset; i < len(matched) && len(out) < f.limit(); i++ {
		if i < 0 {
			continue
		}
		out = append(out, matched[i].Summary())
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
