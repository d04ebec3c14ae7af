// Package watch polls regulator filing feeds on a schedule and announces
// filings that have not been seen before.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/pkg/models"
)

// DefaultSchedule polls every 30 minutes. Schedules take a leading seconds
// field.
const DefaultSchedule = "0 */30 * * * *"

// FilingSource lists recent filings for one company.
type FilingSource interface {
	Recent(ctx context.Context, cik, form string) ([]models.Filing, error)
}

// pruner is implemented by sources that cache listings.
type pruner interface{ Prune() }

// Config selects what to watch.
type Config struct {
	Watchlist []string // CIKs
	Form      string   // e.g. "10-K"; empty for every form
	Schedule  string   // cron expression with seconds; DefaultSchedule when empty

	// ReportExisting announces the filings found on the first poll too. By
	// default the first poll of each company only records a baseline.
	ReportExisting bool
}

// Watcher runs the polling job.
type Watcher struct {
	cfg      Config
	ciks     []string
	source   FilingSource
	cron     *cron.Cron
	notifier screening.Notifier
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	primed map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithNotifier sends filing.new events to n.
func WithNotifier(n screening.Notifier) Option { return func(w *Watcher) { w.notifier = n } }

// WithMetrics counts new filings on m.
func WithMetrics(m *infra.Metrics) Option { return func(w *Watcher) { w.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New validates cfg and builds a stopped watcher.
func New(source FilingSource, cfg Config, opts ...Option) (*Watcher, error) {
	if source == nil {
		return nil, errors.New("watch: nil filing source")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	w := &Watcher{
		cfg:    cfg,
		source: source,
		cron:   cron.New(cron.WithSeconds()),
		logger: slog.Default(),
		seen:   make(map[string]struct{}),
		primed: make(map[string]bool),
	}
	for _, raw := range cfg.Watchlist {
		cik, err := datasource.NormalizeCIK(raw)
		if err != nil {
			return nil, fmt.Errorf("watchlist: %w", err)
		}
		w.ciks = append(w.ciks, cik)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start registers the polling job and starts the scheduler. Polls run with
// ctx, so cancelling it aborts an in-flight poll.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.Poll(ctx); err != nil {
			w.logger.Warn("filing poll incomplete", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register filing poll %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("filing watcher started", "schedule", w.cfg.Schedule, "companies", len(w.ciks), "form", w.cfg.Form)
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("filing watcher stopped")
}

// Poll checks every watched company once and returns the filings not seen
// before, in watchlist order. A failing company does not stop the others;
// their errors are joined.
func (w *Watcher) Poll(ctx context.Context) ([]models.Filing, error) {
	var (
		fresh []models.Filing
		errs  []error
	)
	for _, cik := range w.ciks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		filings, err := w.source.Recent(ctx, cik, w.cfg.Form)
		if err != nil {
			errs = append(errs, fmt.Errorf("cik %s: %w", cik, err))
			continue
		}
		fresh = append(fresh, w.record(cik, filings)...)
	}
	if p, ok := w.source.(pruner); ok {
		p.Prune()
	}

	for _, f := range fresh {
		w.logger.Info("new filing", "company", f.CompanyName, "cik", f.CIK, "form", f.Form, "filed", f.Filed, "link", f.Link)
		if w.metrics != nil {
			w.metrics.FilingsSeenTotal.Inc()
		}
		if w.notifier != nil {
			w.notifier.Notify(screening.EventFilingSeen, f)
		}
	}
	return fresh, errors.Join(errs...)
}

// Seen reports how many distinct filings have been recorded.
func (w *Watcher) Seen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// record marks filings as seen and returns the new ones. The first listing
// of a company is a baseline unless ReportExisting is set.
func (w *Watcher) record(cik string, filings []models.Filing) []models.Filing {
	w.mu.Lock()
	defer w.mu.Unlock()

	report := w.primed[cik] || w.cfg.ReportExisting
	w.primed[cik] = true

	var fresh []models.Filing
	for _, f := range filings {
		key := f.ID
		if key == "" {
			key = f.Link
		}
		if _, ok := w.seen[key]; ok {
			continue
		}
		w.seen[key] = struct{}{}
		if report {
			fresh = append(fresh, f)
		}
	}
	return fresh
}
