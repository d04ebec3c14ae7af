// Package screening runs financial records through validation, scoring and
// persistence, and announces the results.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/pkg/models"
)

// Event names published to the Notifier.
const (
	EventAnalysisCreated = "analysis.created"
	EventFilingSeen      = "filing.new"
)

// DefaultWorkers bounds ScreenBatch when no worker count is given.
const DefaultWorkers = 4

// Failure reasons recorded in fraudlens_screening_failures_total.
const (
	reasonInvalid    = "invalid_input"
	reasonDegenerate = "degenerate"
	reasonStore      = "store"
)

// Notifier receives events for connected clients. Implementations must not
// block.
type Notifier interface {
	Notify(event string, payload any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event string, payload any)

// Notify calls f.
func (f NotifierFunc) Notify(event string, payload any) { f(event, payload) }

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

// ScreenRequest is one record to score and persist.
type ScreenRequest struct {
	Data       models.FinancialData `json:"data"`
	Source     models.Source        `json:"source,omitempty"`
	Confidence map[string]float64   `json:"confidence,omitempty"`
}

// BatchResult is the outcome of one ScreenBatch item. Exactly one of
// Analysis and Err is set.
type BatchResult struct {
	Index    int
	Analysis *models.Analysis
	Err      error
}

// Service screens records. It is safe for concurrent use.
type Service struct {
	engine   *mscore.Engine
	store    store.Store
	notifier Notifier
	metrics  *infra.Metrics
	logger   *slog.Logger
	workers  int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the event sink for created analyses.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics records screening metrics on m.
func WithMetrics(m *infra.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkers sets the default ScreenBatch concurrency.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a screening service. A nil engine means mscore.New();
// st may be nil when only Evaluate is used.
func NewService(engine *mscore.Engine, st store.Store, opts ...Option) *Service {
	if engine == nil {
		engine = mscore.New()
	}
	s := &Service{
		engine:   engine,
		store:    st,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		workers:  DefaultWorkers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the scoring engine in use.
func (s *Service) Engine() *mscore.Engine { return s.engine }

// Evaluate validates and scores data without persisting it.
func (s *Service) Evaluate(ctx context.Context, data models.FinancialData) (*models.MScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := s.now()
	log := s.logger.With("company", data.CompanyName, "financial_year", data.FinancialYear)

	if err := mscore.Validate(data); err != nil {
		s.fail(reasonInvalid)
		log.Warn("financial data rejected", "error", err)
		return nil, err
	}

	res, err := s.engine.Compute(data)
	if err != nil {
		s.fail(reasonDegenerate)
		log.Warn("m-score computation failed", "error", err)
		return nil, err
	}

	s.record(res, s.now().Sub(start))
	log.Debug("scored", "m_score", res.MScore, "interpretation", res.Interpretation, "red_flags", len(res.RedFlags))
	return res, nil
}

// Screen validates, scores and stores one record, then publishes an
// analysis.created event carrying the summary.
func (s *Service) Screen(ctx context.Context, req ScreenRequest) (*models.Analysis, error) {
	if s.store == nil {
		return nil, errors.New("screening: no store configured")
	}
	res, err := s.Evaluate(ctx, req.Data)
	if err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = models.SourceManual
	}
	a := &models.Analysis{
		ID:              uuid.NewString(),
		CreatedAt:       s.now().UTC(),
		Source:          source,
		Input:           req.Data,
		Result:          *res,
		FieldConfidence: req.Confidence,
	}
	if err := s.store.Save(ctx, a); err != nil {
		s.fail(reasonStore)
		s.logger.Error("save analysis failed", "company", req.Data.CompanyName, "error", err)
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	s.logger.Info("analysis created",
		"id", a.ID,
		"company", a.Input.CompanyName,
		"m_score", a.Result.MScore,
		"interpretation", a.Result.Interpretation,
		"red_flags", len(a.Result.RedFlags),
	)
	s.notifier.Notify(EventAnalysisCreated, a.Summary())
	return a, nil
}

// ScreenBatch screens reqs with at most workers in flight (the service
// default when workers <= 0). Results are in input order; an item's failure
// never stops its siblings. The returned error is non-nil only when ctx ends
// before every item was attempted.
func (s *Service) ScreenBatch(ctx context.Context, reqs []ScreenRequest, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = s.workers
	}
	results := make([]BatchResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	failed, cutOff := 0, 0
	for i, req := range reqs {
		results[i].Index = i
		g.Go(func() error {
			a, err := s.Screen(gctx, req)
			results[i].Analysis, results[i].Err = a, err
			if err != nil {
				mu.Lock()
				failed++
				if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
					cutOff++
				}
				mu.Unlock()
			}
			return nil // per-item errors are reported in results
		})
	}
	_ = g.Wait()

	s.logger.Info("batch screened", "records", len(reqs), "failed", failed, "cut_off", cutOff, "workers", workers)
	if cutOff > 0 {
		return results, ctx.Err()
	}
	return results, nil
}

func (s *Service) fail(reason string) {
	if s.metrics != nil {
		s.metrics.FailuresTotal.WithLabelValues(reason).Inc()
	}
}

func (s *Service) record(res *models.MScoreResult, took time.Duration) {
	m := s.metrics
	if m == nil {
		return
	}
	m.ScreeningsTotal.WithLabelValues(string(res.Interpretation)).Inc()
	for _, f := range res.RedFlags {
		m.RedFlagsTotal.WithLabelValues(f.Component).Inc()
	}
	if !math.IsNaN(res.MScore) && !math.IsInf(res.MScore, 0) {
		m.MScore.Observe(res.MScore)
	}
	m.ScreeningDuration.Observe(took.Seconds())
}
