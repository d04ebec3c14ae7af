package datasource

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mmcdole/gofeed/atom"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/testutil"
	"github.com/seenimoa/fraudlens/pkg/models"
)

// ── ParseAmount ──

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
		err    bool
	}{
		{"1,234.5", 1234.5, true, false},
		{"(1,200)", -1200, true, false},
		{"-350", -350, true, false},
		{"$ 3.2m", 3200000, true, false},
		{"12.5 Cr", 125000000, true, false},
		{"4 lakhs", 400000, true, false},
		{"2bn", 2e9, true, false},
		{"₹ 1,00,000", 100000, true, false},
		{"—", 0, false, false},
		{"  ", 0, false, false},
		{"n/a", 0, false, false},
		{"12%", 0, false, true},
		{"abc", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok, err := ParseAmount(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("ParseAmount(%q) error = %v, want error %v", tt.in, err, tt.err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseAmount(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeUnit(t *testing.T) {
	tests := map[string]string{
		"(in thousands)":   "thousands",
		"$000s":            "thousands",
		"Rs. in Crores":    "crores",
		"USD millions":     "millions",
		"amounts in lakhs": "lakhs",
	}
	for in, want := range tests {
		if got, ok := NormalizeUnit(in); !ok || got != want {
			t.Errorf("NormalizeUnit(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := NormalizeUnit("Consolidated"); ok {
		t.Error("expected no unit")
	}
}

// ── Loader ──

func TestLoadFileFormats(t *testing.T) {
	want := testutil.ReferenceData()
	for _, name := range []string{"reference.csv", "reference.yaml"} {
		t.Run(name, func(t *testing.T) {
			records, err := LoadAll(filepath.Join("testdata", name))
			if err != nil {
				t.Fatal(err)
			}
			d := records[0]
			if d.CompanyName != want.CompanyName || d.FinancialYear != want.FinancialYear {
				t.Errorf("header: got %q %d", d.CompanyName, d.FinancialYear)
			}
			got, err := mscore.ComputeScore(d)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertClose(t, "m_score", got.MScore, -2.211902, 1e-6)
		})
	}
}

func TestLoadYAMLMultipleDocuments(t *testing.T) {
	records, err := LoadAll(filepath.Join("testdata", "multi.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].CompanyName != "Beta Holdings" {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if _, err := LoadFile(filepath.Join("testdata", "multi.yaml")); err == nil {
		t.Error("LoadFile should reject multi-record files")
	}
	// The single-record fixture loads on its own.
	if _, err := LoadFile(filepath.Join("testdata", "reference.yaml")); err != nil {
		t.Errorf("LoadFile(reference.yaml): %v", err)
	}
}

func TestLoadCSVOptionalBlank(t *testing.T) {
	d, err := LoadFile(filepath.Join("testdata", "reference.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Current.OilAndGasAssets != nil {
		t.Error("dash cell should leave optional field unset")
	}
	if d.Unit != "thousands" || d.Currency != "USD" {
		t.Errorf("unexpected unit/currency %q %q", d.Unit, d.Currency)
	}
}

func TestDecodeJSON(t *testing.T) {
	single := `{"company_name":"Acme","financial_year":2024,"current":{"sales":10,"total_assets":5},"prior":{"sales":8,"total_assets":4}}`
	d, err := Decode(strings.NewReader(single), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if d.Current.Sales != 10 || d.Current.GrossProfit != nil {
		t.Errorf("unexpected record %+v", d.Current)
	}

	list, err := DecodeAll(strings.NewReader("["+single+","+single+"]"), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 records, got %d", len(list))
	}

	if _, err := Decode(strings.NewReader(`{"company":"typo"}`), FormatJSON); err == nil {
		t.Error("expected unknown field error")
	}
}

func TestDecodeCSVErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field": "field,current,prior\nrevenue_growth,1,2\n",
		"bad amount":    "sales,abc,1\n",
		"bad year":      "financial_year,twenty\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(in), FormatCSV); err == nil {
				t.Error("expected error")
			}
		})
	}
	_, err := Decode(strings.NewReader("revenue_growth,1,2\n"), FormatCSV)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{"a.json": FormatJSON, "b.YML": FormatYAML, "c.yaml": FormatYAML, "d.csv": FormatCSV} {
		got, err := FormatFromPath(path)
		if err != nil || got != want {
			t.Errorf("FormatFromPath(%q) = %q, %v", path, got, err)
		}
	}
	if _, err := FormatFromPath("e.xlsx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

// ── Fields ──

func TestSetFieldAndValue(t *testing.T) {
	var d models.FinancialData
	if err := SetField(&d, "prior.gross_profit", 12); err != nil {
		t.Fatal(err)
	}
	if err := SetField(&d, "operating_cash_flow", -3); err != nil {
		t.Fatal(err)
	}
	if d.Prior.GrossProfit == nil || *d.Prior.GrossProfit != 12 || d.OperatingCashFlow != -3 {
		t.Errorf("fields not set: %+v", d)
	}
	if _, ok, _ := FieldValue(&d, "current.gross_profit"); ok {
		t.Error("unset optional should report ok=false")
	}
	for _, bad := range []string{"sales", "next.sales", "current.ebitda"} {
		if err := SetField(&d, bad, 1); !errors.Is(err, ErrUnknownField) {
			t.Errorf("SetField(%q) = %v, want ErrUnknownField", bad, err)
		}
	}
}

func TestFieldPathsResolve(t *testing.T) {
	var d models.FinancialData
	for _, p := range FieldPaths() {
		if err := SetField(&d, p, 1); err != nil {
			t.Errorf("path %s: %v", p, err)
		}
	}
}

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"Selling, General & Administrative": "selling general and administrative",
		"  Long-term   debt ":               "long term debt",
		"SG&A":                              "sg and a",
		"Operating income (loss)":           "operating income loss",
	}
	for in, want := range tests {
		if got := normalizeLabel(in); got != want {
			t.Errorf("normalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

// ── HTML extraction ──

func openFixture(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExtractHTML(t *testing.T) {
	ex, err := ExtractHTML(openFixture(t, "statement.html"))
	if err != nil {
		t.Fatal(err)
	}
	d := ex.Data

	if d.CompanyName != "Acme Industrial" {
		t.Errorf("company = %q", d.CompanyName)
	}
	if d.FinancialYear != 2024 {
		t.Errorf("year = %d", d.FinancialYear)
	}
	if d.Unit != "thousands" {
		t.Errorf("unit = %q", d.Unit)
	}
	if len(ex.Missing) != 0 {
		t.Errorf("expected nothing missing, got %v", ex.Missing)
	}
	if d.Current.Depreciation != 5000 {
		t.Errorf("first depreciation row should win, got %v", d.Current.Depreciation)
	}
	if d.Current.RelatedPartyReceivables != nil {
		t.Error("dash row should not set related-party receivables")
	}

	conf := map[string]float64{
		"current.sales":        ConfidenceExact,
		"prior.gross_profit":   ConfidenceDerived,
		"current.sga_expense":  ConfidenceExact,
		"operating_cash_flow":  ConfidenceExact,
		"prior.long_term_debt": ConfidenceExact,
	}
	for path, want := range conf {
		if got := ex.Confidence[path]; got != want {
			t.Errorf("confidence[%s] = %v, want %v", path, got, want)
		}
	}

	res, err := mscore.ComputeScore(d)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertClose(t, "m_score", res.MScore, -2.211902, 1e-6)
}

func TestExtractHTMLPartialAndAscending(t *testing.T) {
	doc := `<table>
<tr><th>Item</th><th>2022</th><th>2023</th></tr>
<tr><td>Revenue from contracts with customers</td><td>900</td><td>1,000</td></tr>
<tr><td>Total assets</td><td>1,800</td><td>2,000</td></tr>
</table>`
	ex, err := ExtractHTML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if ex.Data.FinancialYear != 2023 {
		t.Errorf("year = %d", ex.Data.FinancialYear)
	}
	if ex.Data.Current.Sales != 1000 || ex.Data.Prior.Sales != 900 {
		t.Errorf("columns not reordered: %v / %v", ex.Data.Current.Sales, ex.Data.Prior.Sales)
	}
	if ex.Confidence["current.sales"] != ConfidencePartial {
		t.Errorf("expected partial confidence, got %v", ex.Confidence["current.sales"])
	}
	if ex.Confidence["current.total_assets"] != ConfidenceExact {
		t.Errorf("expected exact confidence, got %v", ex.Confidence["current.total_assets"])
	}
	if len(ex.Missing) == 0 {
		t.Error("expected missing fields")
	}
}

func TestExtractHTMLColumnSlots(t *testing.T) {
	const (
		desc = "<tr><th>Item</th><th>2024</th><th>2023</th></tr>"
		asc  = "<tr><th>Item</th><th>2023</th><th>2024</th></tr>"
	)
	tests := []struct {
		name     string
		header   string
		cells    string
		current  float64
		hasCur   bool
		prior    float64
		hasPrior bool
	}{
		{"both", desc, "<td>200</td><td>180</td>", 200, true, 180, true},
		{"dash current", desc, "<td>&mdash;</td><td>500</td>", 0, false, 500, true},
		{"n/a current", desc, "<td>n/a</td><td>500</td>", 0, false, 500, true},
		{"blank current", desc, "<td></td><td>500</td>", 0, false, 500, true},
		{"dash prior", desc, "<td>500</td><td>-</td>", 500, true, 0, false},
		{"single value", desc, "<td>500</td>", 500, true, 0, false},
		{"ascending", asc, "<td>180</td><td>200</td>", 200, true, 180, true},
		{"ascending single value", asc, "<td>180</td>", 0, false, 180, true},
		{"ascending dash current", asc, "<td>180</td><td>&mdash;</td>", 0, false, 180, true},
		{"ascending dash prior", asc, "<td>&mdash;</td><td>200</td>", 200, true, 0, false},
		{"text column skipped", desc, "<td>Note 5</td><td>200</td><td>180</td>", 200, true, 180, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "<table>" + tt.header +
				"<tr><td>Net sales</td><td>1,000</td><td>900</td></tr>" +
				"<tr><td>Total assets</td>" + tt.cells + "</tr></table>"
			ex, err := ExtractHTML(strings.NewReader(doc))
			if err != nil {
				t.Fatal(err)
			}
			_, hasCur := ex.Confidence["current.total_assets"]
			_, hasPrior := ex.Confidence["prior.total_assets"]
			if hasCur != tt.hasCur || ex.Data.Current.TotalAssets != tt.current {
				t.Errorf("current = %v (set %t), want %v (set %t)", ex.Data.Current.TotalAssets, hasCur, tt.current, tt.hasCur)
			}
			if hasPrior != tt.hasPrior || ex.Data.Prior.TotalAssets != tt.prior {
				t.Errorf("prior = %v (set %t), want %v (set %t)", ex.Data.Prior.TotalAssets, hasPrior, tt.prior, tt.hasPrior)
			}
		})
	}
}

func TestExtractHTMLDashKeepsOptionalUnset(t *testing.T) {
	doc := `<table>
<tr><th>Item</th><th>2024</th><th>2023</th></tr>
<tr><td>Receivables from related parties</td><td>&mdash;</td><td>500</td></tr>
</table>`
	ex, err := ExtractHTML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if ex.Data.Current.RelatedPartyReceivables != nil {
		t.Errorf("current related-party receivables = %v, want unset", *ex.Data.Current.RelatedPartyReceivables)
	}
	if p := ex.Data.Prior.RelatedPartyReceivables; p == nil || *p != 500 {
		t.Errorf("prior related-party receivables = %v, want 500", p)
	}
	if _, ok := ex.Confidence["current.related_party_receivables"]; ok {
		t.Error("confidence recorded for an unset current value")
	}
}

func TestExtractHTMLNoFigures(t *testing.T) {
	_, err := ExtractHTML(strings.NewReader("<html><body><p>Nothing here</p></body></html>"))
	if !errors.Is(err, ErrNoFigures) {
		t.Errorf("expected ErrNoFigures, got %v", err)
	}
}

// ── Merge ──

func TestMerge(t *testing.T) {
	ex := &models.Extraction{
		Data:       models.FinancialData{Current: models.PeriodFigures{Sales: 10, GrossProfit: models.Float(4)}},
		Confidence: map[string]float64{"current.sales": ConfidencePartial, "current.gross_profit": ConfidenceDerived},
		Missing:    []string{"prior.sales", "operating_income"},
	}

	out, err := Merge(ex, map[string]float64{"prior.sales": 9, "current.gross_profit": 5})
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Prior.Sales != 9 || *out.Data.Current.GrossProfit != 5 {
		t.Errorf("overrides not applied: %+v", out.Data)
	}
	if out.Confidence["prior.sales"] != ConfidenceOverride || out.Confidence["current.sales"] != ConfidencePartial {
		t.Errorf("unexpected confidence %v", out.Confidence)
	}
	if len(out.Missing) != 1 || out.Missing[0] != "operating_income" {
		t.Errorf("missing = %v", out.Missing)
	}

	// Input untouched.
	if *ex.Data.Current.GrossProfit != 4 || ex.Confidence["prior.sales"] != 0 {
		t.Error("Merge modified its input")
	}

	if _, err := Merge(ex, map[string]float64{"current.bogus": 1}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

// ── Filing feed ──

func TestFilingFeedRecent(t *testing.T) {
	body, err := os.ReadFile(filepath.Join("testdata", "edgar.atom"))
	if err != nil {
		t.Fatal(err)
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.Header.Get("User-Agent"); got != "fraudlens-test ops@example.com" {
			t.Errorf("User-Agent = %q", got)
		}
		q := r.URL.Query()
		if q.Get("CIK") != "0000320193" || q.Get("type") != "10-K" || q.Get("output") != "atom" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write(body)
	}))
	defer srv.Close()

	feed := NewFilingFeed(WithBaseURL(srv.URL), WithUserAgent("fraudlens-test ops@example.com"))
	filings, err := feed.Recent(context.Background(), "320193", "10-K")
	if err != nil {
		t.Fatal(err)
	}
	if len(filings) != 2 {
		t.Fatalf("expected 2 filings, got %d", len(filings))
	}
	f := filings[0]
	if f.CompanyName != "ACME INDUSTRIAL CORP" || f.Form != "10-K" || f.CIK != "0000320193" {
		t.Errorf("unexpected filing %+v", f)
	}
	if f.Filed.Year() != 2024 || !strings.Contains(f.ID, "0000320193-24-000123") {
		t.Errorf("unexpected filing date/id %+v", f)
	}

	if _, err := feed.Recent(context.Background(), "0000320193", "10-K"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected cached second call, got %d hits", hits.Load())
	}
}

func TestFilingFeedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewFilingFeed(WithBaseURL(srv.URL)).Recent(context.Background(), "1", "")
	var he *ErrHTTP
	if !errors.As(err, &he) || he.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected HTTP 429 error, got %v", err)
	}
}

func TestEntryForm(t *testing.T) {
	tests := []struct {
		name  string
		entry *atom.Entry
		want  string
	}{
		{"term over label", &atom.Entry{
			Title:      "10-K  - Annual report",
			Categories: []*atom.Category{{Term: "10-K/A", Label: "form type"}},
		}, "10-K/A"},
		{"title fallback", &atom.Entry{Title: "8-K - Current report"}, "8-K"},
		{"empty term falls back", &atom.Entry{
			Title:      "10-Q - Quarterly report",
			Categories: []*atom.Category{{Label: "form type"}},
		}, "10-Q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryForm(tt.entry); got != tt.want {
				t.Errorf("entryForm() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeCIK(t *testing.T) {
	if got, err := NormalizeCIK("CIK320193"); err != nil || got != "0000320193" {
		t.Errorf("NormalizeCIK = %q, %v", got, err)
	}
	for _, bad := range []string{"", "12a", "12345678901"} {
		if _, err := NormalizeCIK(bad); !errors.Is(err, ErrInvalidCIK) {
			t.Errorf("NormalizeCIK(%q) = %v, want ErrInvalidCIK", bad, err)
		}
	}
}
