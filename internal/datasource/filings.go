package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"

	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/pkg/models"
)

// EDGARBaseURL is the company browse endpoint that serves Atom feeds.
const EDGARBaseURL = "https://www.sec.gov/cgi-bin/browse-edgar"

// FilingFeed lists recent filings for a company from SEC EDGAR.
type FilingFeed struct {
	baseURL   string
	userAgent string
	client    *http.Client
	parser    *atom.Parser
	cache     *infra.Cache[[]models.Filing]
	limiter   *infra.RateLimiter
}

// FeedOption configures a FilingFeed.
type FeedOption func(*FilingFeed)

// WithBaseURL points the feed at another endpoint (tests, mirrors).
func WithBaseURL(u string) FeedOption { return func(f *FilingFeed) { f.baseURL = u } }

// WithUserAgent sets the User-Agent EDGAR requires for fair-access tracking.
func WithUserAgent(ua string) FeedOption {
	return func(f *FilingFeed) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) FeedOption { return func(f *FilingFeed) { f.client = c } }

// WithCacheTTL sets how long a listing is reused before refetching.
func WithCacheTTL(ttl time.Duration) FeedOption {
	return func(f *FilingFeed) { f.cache = infra.NewCache[[]models.Filing](ttl) }
}

// NewFilingFeed creates a feed reader limited to EDGAR's 10 requests per second.
func NewFilingFeed(opts ...FeedOption) *FilingFeed {
	f := &FilingFeed{
		baseURL:   EDGARBaseURL,
		userAgent: DefaultUserAgent,
		client:    HTTPClient,
		parser:    &atom.Parser{},
		cache:     infra.NewCache[[]models.Filing](5 * time.Minute),
		limiter:   infra.NewRateLimiter(10, 100*time.Millisecond),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the human-readable name of this source.
func (f *FilingFeed) Name() string { return "SEC EDGAR" }

// Recent returns the latest filings of form (e.g. "10-K"; empty for all) for
// the company with the given CIK, newest first.
func (f *FilingFeed) Recent(ctx context.Context, cik, form string) ([]models.Filing, error) {
	cik, err := NormalizeCIK(cik)
	if err != nil {
		return nil, err
	}
	key := cik + "|" + form
	if cached, ok := f.cache.Get(key); ok {
		return cached, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", cik)
	q.Set("type", form)
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("count", "40")
	q.Set("output", "atom")

	body, err := doGet(ctx, f.client, f.baseURL+"?"+q.Encode(), map[string]string{
		"User-Agent": f.userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("edgar %s: %w", cik, err)
	}
	defer body.Close()

	feed, err := f.parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse edgar feed %s: %w", cik, err)
	}

	company := feedCompany(feed.Title)
	filings := make([]models.Filing, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		fl := models.Filing{
			CompanyName: company,
			CIK:         cik,
			Form:        entryForm(entry),
			Title:       strings.TrimSpace(entry.Title),
			Link:        entryLink(entry),
			ID:          entry.ID,
		}
		switch {
		case entry.UpdatedParsed != nil:
			fl.Filed = *entry.UpdatedParsed
		case entry.PublishedParsed != nil:
			fl.Filed = *entry.PublishedParsed
		}
		if fl.ID == "" {
			fl.ID = fl.Link
		}
		filings = append(filings, fl)
	}

	f.cache.Set(key, filings)
	return filings, nil
}

// Prune drops expired listings from the cache.
func (f *FilingFeed) Prune() { f.cache.Cleanup() }

// NormalizeCIK validates a Central Index Key and zero-pads it to ten digits.
func NormalizeCIK(cik string) (string, error) {
	cik = strings.TrimSpace(cik)
	cik = strings.TrimPrefix(strings.ToUpper(cik), "CIK")
	if cik == "" || len(cik) > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCIK, cik)
	}
	for _, r := range cik {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCIK, cik)
		}
	}
	return strings.Repeat("0", 10-len(cik)) + cik, nil
}

// feedCompany strips the trailing "(0000320193)" EDGAR appends to feed titles.
func feedCompany(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.LastIndex(title, "("); i > 0 && strings.HasSuffix(title, ")") {
		title = strings.TrimSpace(title[:i])
	}
	return title
}

// entryForm reads the form type from the category term EDGAR tags entries
// with (label "form type"), falling back to the title prefix
// ("10-K  - Annual report ...").
func entryForm(entry *atom.Entry) string {
	for _, c := range entry.Categories {
		if c != nil && strings.TrimSpace(c.Term) != "" {
			return strings.TrimSpace(c.Term)
		}
	}
	form, _, _ := strings.Cut(entry.Title, " - ")
	return strings.TrimSpace(form)
}

// entryLink prefers the alternate link.
func entryLink(entry *atom.Entry) string {
	for _, l := range entry.Links {
		if l != nil && (l.Rel == "" || l.Rel == "alternate") {
			return l.Href
		}
	}
	if len(entry.Links) > 0 && entry.Links[0] != nil {
		return entry.Links[0].Href
	}
	return ""
}
