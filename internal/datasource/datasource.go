// Package datasource gets financial statement figures into fraudlens. It
// decodes prepared JSON, YAML and CSV records, extracts figures from HTML
// statement tables, merges user corrections over extracted values, and reads
// the SEC EDGAR filing feed.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Sentinel errors ---

// ErrUnsupportedFormat is returned for input files whose format cannot be decoded.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// ErrUnknownField is returned when a field path does not name a FinancialData amount.
var ErrUnknownField = errors.New("unknown field")

// ErrInvalidCIK is returned for CIKs that are not 1-10 digits.
var ErrInvalidCIK = errors.New("invalid CIK")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent identifies fraudlens to EDGAR, which rejects anonymous
// clients. Deployments should set filings.user_agent to include a contact.
const DefaultUserAgent = "fraudlens/1.0 (admin@example.com)"

// HTTPClient is a pre-configured HTTP client with reasonable timeouts.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// doGet performs a GET request and returns the response body, which the
// caller must close.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/atom+xml, application/xml, text/html, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return resp.Body, nil
}
