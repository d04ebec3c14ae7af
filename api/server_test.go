package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/config"
	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/internal/testutil"
	"github.com/seenimoa/fraudlens/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

type fakeFilings struct {
	filings []models.Filing
	err     error
	got     string
}

func (f *fakeFilings) Recent(_ context.Context, cik, form string) ([]models.Filing, error) {
	f.got = cik + "|" + form
	return f.filings, f.err
}

type testEnv struct {
	srv     *Server
	store   store.Store
	metrics *infra.Metrics
	filings *fakeFilings
}

func newTestEnv(t *testing.T, opts ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	st := store.NewMemoryStore()
	m := infra.NewMetrics()
	hub := NewWSHub()
	ff := &fakeFilings{}
	deps := Deps{
		Store:   st,
		Filings: ff,
		Hub:     hub,
		Metrics: m,
		Logger:  infra.DiscardLogger(),
		Version: "test",
	}
	var engineOpts []mscore.Option
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	if cfg.Scoring.Permissive {
		engineOpts = append(engineOpts, mscore.WithPermissive(true))
	}
	deps.Service = screening.NewService(mscore.New(engineOpts...), st,
		screening.WithNotifier(hub),
		screening.WithMetrics(m),
		screening.WithLogger(infra.DiscardLogger()),
	)

	srv, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return &testEnv{srv: srv, store: st, metrics: m, filings: ff}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

type rawResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) rawResponse {
	t.Helper()
	var resp rawResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) rawResponse {
	t.Helper()
	resp := decodeResponse(t, rec)
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("failed to decode data %s: %v", resp.Data, err)
	}
	return resp
}

func referenceRequest() AnalysisRequest {
	return AnalysisRequest{Data: testutil.ReferenceData()}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status: got %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// ════════════════════════════════════════════════════════════════════
// Construction
// ════════════════════════════════════════════════════════════════════

func TestNewServer_RequiresDeps(t *testing.T) {
	if _, err := NewServer(nil, Deps{}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(config.Default(), Deps{}); err == nil {
		t.Error("expected error without service and store")
	}
}

// ════════════════════════════════════════════════════════════════════
// Health / model / metrics
// ════════════════════════════════════════════════════════════════════

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := env.do(t, "GET", path, nil)
		expectStatus(t, rec, http.StatusOK)

		var data map[string]any
		resp := decodeData(t, rec, &data)
		if !resp.Success {
			t.Errorf("%s: expected success=true", path)
		}
		if data["status"] != "ok" || data["version"] != "test" {
			t.Errorf("%s: unexpected data %v", path, data)
		}
		for _, key := range []string{"formula", "store", "ws_clients", "uptime", "time"} {
			if _, ok := data[key]; !ok {
				t.Errorf("%s: missing %s", path, key)
			}
		}
	}
}

func TestHandleModel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/model", nil)
	expectStatus(t, rec, http.StatusOK)

	var got ModelResponse
	decodeData(t, rec, &got)
	if got.Formula != mscore.FormulaCompatible {
		t.Errorf("formula: got %q", got.Formula)
	}
	if got.Model.Intercept != -4.84 || got.Model.Coefficients.TATA != 4.679 {
		t.Errorf("unexpected model %+v", got.Model)
	}
	if len(got.Model.Thresholds) != 8 {
		t.Errorf("expected 8 thresholds, got %d", len(got.Model.Thresholds))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/score", referenceRequest())

	rec := env.do(t, "GET", "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{
		`fraudlens_http_requests_total{code="200",route="/api/v1/score"} 1`,
		`fraudlens_screenings_total{interpretation="MODERATE_RISK"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Score
// ════════════════════════════════════════════════════════════════════

func TestHandleScore_Reference(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/score", referenceRequest())
	expectStatus(t, rec, http.StatusOK)

	var res models.MScoreResult
	decodeData(t, rec, &res)
	testutil.AssertClose(t, "m_score", res.MScore, -2.211902, 1e-6)
	testutil.AssertClose(t, "likelihood", res.FraudLikelihood, 30.368093, 1e-5)
	if res.Interpretation != models.ModerateRisk {
		t.Errorf("interpretation: got %s", res.Interpretation)
	}
	if len(res.RedFlags) != 1 || res.RedFlags[0].Component != mscore.DSRI {
		t.Errorf("expected one dsri red flag, got %+v", res.RedFlags)
	}

	list, _ := env.store.List(context.Background(), store.ListFilter{})
	if len(list) != 0 {
		t.Errorf("score must not persist, found %d analyses", len(list))
	}
}

func TestHandleScore_Errors(t *testing.T) {
	negative := testutil.ReferenceData()
	negative.Current.Sales = -1
	degenerate := testutil.ReferenceData()
	degenerate.Prior.Receivables = 0

	tests := []struct {
		name    string
		body    any
		status  int
		details string
	}{
		{"invalid JSON", "{not json", http.StatusBadRequest, ""},
		{"unknown field", `{"data":{},"ticker":"ACME"}`, http.StatusBadRequest, ""},
		{"unknown source", AnalysisRequest{Data: testutil.ReferenceData(), Source: "scraped"}, http.StatusBadRequest, ""},
		{"negative amount", AnalysisRequest{Data: negative}, http.StatusUnprocessableEntity, "current.sales"},
		{"degenerate", AnalysisRequest{Data: degenerate}, http.StatusUnprocessableEntity, `"ratio":"dsri"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, "POST", "/api/v1/score", tt.body)
			expectStatus(t, rec, tt.status)
			resp := decodeResponse(t, rec)
			if resp.Success || resp.Error == "" {
				t.Errorf("expected error envelope, got %+v", resp)
			}
			if tt.details != "" && !strings.Contains(string(resp.Details), tt.details) {
				t.Errorf("details %s should mention %s", resp.Details, tt.details)
			}
		})
	}
}

func TestHandleScore_PermissiveNonFinite(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.Scoring.Permissive = true })
	d := testutil.ReferenceData()
	d.Prior.Receivables = 0

	rec := env.do(t, "POST", "/api/v1/score", AnalysisRequest{Data: d})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	var details map[string]string
	resp := decodeResponse(t, rec)
	if err := json.Unmarshal(resp.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["dsri"] != "+Inf" {
		t.Errorf("dsri: got %q, want +Inf", details["dsri"])
	}
	if details["gmi"] == "" {
		t.Error("expected every component in details")
	}
}

// ════════════════════════════════════════════════════════════════════
// Analyses
// ════════════════════════════════════════════════════════════════════

func createAnalysis(t *testing.T, env *testEnv, req AnalysisRequest) models.Analysis {
	t.Helper()
	rec := env.do(t, "POST", "/api/v1/analyses", req)
	expectStatus(t, rec, http.StatusCreated)
	var a models.Analysis
	decodeData(t, rec, &a)
	if loc := rec.Header().Get("Location"); loc != "/api/v1/analyses/"+a.ID {
		t.Errorf("Location: got %q", loc)
	}
	return a
}

func TestAnalysesLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := createAnalysis(t, env, AnalysisRequest{
		Data:       testutil.ReferenceData(),
		Source:     models.SourceExtracted,
		Confidence: map[string]float64{"current.sales": 1},
	})
	if a.ID == "" || a.Source != models.SourceExtracted {
		t.Fatalf("unexpected analysis %+v", a)
	}

	// Get
	rec := env.do(t, "GET", "/api/v1/analyses/"+a.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	var got models.Analysis
	decodeData(t, rec, &got)
	testutil.AssertClose(t, "stored m_score", got.Result.MScore, -2.211902, 1e-6)
	if got.FieldConfidence["current.sales"] != 1 {
		t.Error("field confidence not returned")
	}

	// List
	rec = env.do(t, "GET", "/api/v1/analyses?company=acme", nil)
	expectStatus(t, rec, http.StatusOK)
	var list []models.AnalysisSummary
	decodeData(t, rec, &list)
	if len(list) != 1 || list[0].ID != a.ID || list[0].RedFlagCount != 1 {
		t.Errorf("list: got %+v", list)
	}

	rec = env.do(t, "GET", "/api/v1/analyses?risk=high", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeData(t, rec, &list)
	if len(list) != 0 {
		t.Errorf("risk=high should match nothing, got %d", len(list))
	}

	// Delete
	rec = env.do(t, "DELETE", "/api/v1/analyses/"+a.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, "GET", "/api/v1/analyses/"+a.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
	rec = env.do(t, "DELETE", "/api/v1/analyses/"+a.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestListAnalyses_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/analyses", nil)
	expectStatus(t, rec, http.StatusOK)
	resp := decodeResponse(t, rec)
	if string(resp.Data) != "[]" {
		t.Errorf("expected [], got %s", resp.Data)
	}
}

func TestListAnalyses_BadParams(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"risk=extreme", "limit=-1", "limit=ten", "offset=x"} {
		rec := env.do(t, "GET", "/api/v1/analyses?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, rec.Code)
		}
	}
}

func TestCreateAnalysis_Overrides(t *testing.T) {
	env := newTestEnv(t)
	a := createAnalysis(t, env, AnalysisRequest{
		Data:      testutil.ReferenceData(),
		Overrides: map[string]float64{"current.receivables": 30000},
	})
	if a.Source != models.SourceMerged {
		t.Errorf("source: got %s, want merged", a.Source)
	}
	if a.Input.Current.Receivables != 30000 {
		t.Errorf("override not applied: %v", a.Input.Current.Receivables)
	}
	if a.FieldConfidence["current.receivables"] != datasource.ConfidenceOverride {
		t.Errorf("override confidence: got %v", a.FieldConfidence["current.receivables"])
	}

	rec := env.do(t, "POST", "/api/v1/analyses", AnalysisRequest{
		Data:      testutil.ReferenceData(),
		Overrides: map[string]float64{"current.goodwill": 1},
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestCreateAnalysis_InvalidNotStored(t *testing.T) {
	env := newTestEnv(t)
	d := testutil.ReferenceData()
	d.FinancialYear = 24
	rec := env.do(t, "POST", "/api/v1/analyses", AnalysisRequest{Data: d})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	var fields []mscore.FieldError
	resp := decodeResponse(t, rec)
	if err := json.Unmarshal(resp.Details, &fields); err != nil || len(fields) == 0 {
		t.Fatalf("expected field errors, got %s (%v)", resp.Details, err)
	}
	if fields[0].Field != "financial_year" {
		t.Errorf("field: got %q", fields[0].Field)
	}
	list, _ := env.store.List(context.Background(), store.ListFilter{})
	if len(list) != 0 {
		t.Errorf("expected nothing stored, got %d", len(list))
	}
}

func TestHandleBatch(t *testing.T) {
	env := newTestEnv(t)
	bad := testutil.ReferenceData()
	bad.Current.TotalAssets = 0

	rec := env.do(t, "POST", "/api/v1/analyses/batch", BatchRequest{
		Workers: 2,
		Items: []AnalysisRequest{
			referenceRequest(),
			{Data: bad},
			{Data: testutil.ReferenceData(), Source: "scraped"},
			referenceRequest(),
		},
	})
	expectStatus(t, rec, http.StatusOK)

	var items []BatchItem
	decodeData(t, rec, &items)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	for i, it := range items {
		if it.Index != i {
			t.Errorf("item %d has index %d", i, it.Index)
		}
	}
	if items[0].Analysis == nil || items[3].Analysis == nil {
		t.Error("valid items should carry an analysis")
	}
	if items[1].Error == "" || items[1].Analysis != nil {
		t.Errorf("item 1: expected validation error, got %+v", items[1])
	}
	if !strings.Contains(items[2].Error, "unknown source") {
		t.Errorf("item 2: got %q", items[2].Error)
	}

	list, _ := env.store.List(context.Background(), store.ListFilter{})
	if len(list) != 2 {
		t.Errorf("expected 2 stored analyses, got %d", len(list))
	}

	rec = env.do(t, "POST", "/api/v1/analyses/batch", BatchRequest{})
	expectStatus(t, rec, http.StatusBadRequest)
}

// ════════════════════════════════════════════════════════════════════
// Reports
// ════════════════════════════════════════════════════════════════════

func TestHandleReport(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.Report.Author = "Audit Desk" })
	a := createAnalysis(t, env, referenceRequest())
	base := "/api/v1/analyses/" + a.ID + "/report"

	rec := env.do(t, "GET", base, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type: got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"<svg", "Acme Industrial", "Audit Desk"} {
		if !strings.Contains(body, want) {
			t.Errorf("html report missing %q", want)
		}
	}

	rec = env.do(t, "GET", base+"?format=text&sections=summary", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type: got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "M-Score:") {
		t.Errorf("text report missing verdict:\n%s", rec.Body.String())
	}
}

func TestHandleReport_Errors(t *testing.T) {
	env := newTestEnv(t)
	a := createAnalysis(t, env, referenceRequest())

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/analyses/" + a.ID + "/report?format=pdf", http.StatusBadRequest},
		{"/api/v1/analyses/" + a.ID + "/report?format=docx", http.StatusBadRequest},
		{"/api/v1/analyses/" + a.ID + "/report?sections=summary,appendix", http.StatusBadRequest},
		{"/api/v1/analyses/missing/report", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := env.do(t, "GET", tt.path, nil)
		if rec.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.path, rec.Code, tt.status)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Extraction
// ════════════════════════════════════════════════════════════════════

func statementHTML(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "internal", "datasource", "testdata", "statement.html"))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleExtract(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/extract", statementHTML(t), "Content-Type", "text/html")
	expectStatus(t, rec, http.StatusOK)

	var ex models.Extraction
	decodeData(t, rec, &ex)
	if ex.Data.CompanyName != "Acme Industrial" || ex.Data.FinancialYear != 2024 {
		t.Errorf("unexpected extraction %+v", ex.Data)
	}
	if len(ex.Missing) != 0 {
		t.Errorf("expected nothing missing, got %v", ex.Missing)
	}
}

func TestHandleExtract_Screen(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/extract?screen=true", statementHTML(t))
	expectStatus(t, rec, http.StatusCreated)

	var got ExtractResponse
	decodeData(t, rec, &got)
	if got.Analysis == nil || got.Analysis.Source != models.SourceExtracted {
		t.Fatalf("expected an extracted analysis, got %+v", got.Analysis)
	}
	testutil.AssertClose(t, "m_score", got.Analysis.Result.MScore, -2.211902, 1e-6)
}

func TestHandleExtract_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/extract", "<html><body><p>Nothing here</p></body></html>")
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	partial := `<table>
<tr><th>Item</th><th>2024</th><th>2023</th></tr>
<tr><td>Net sales</td><td>100</td><td>90</td></tr>
</table>`
	rec = env.do(t, "POST", "/api/v1/extract?screen=1", partial)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	resp := decodeResponse(t, rec)
	if !strings.Contains(string(resp.Details), "missing") {
		t.Errorf("details should list missing fields: %s", resp.Details)
	}

	rec = env.do(t, "POST", "/api/v1/extract?screen=maybe", partial)
	expectStatus(t, rec, http.StatusBadRequest)
}

// ════════════════════════════════════════════════════════════════════
// Filings
// ════════════════════════════════════════════════════════════════════

func TestHandleFilings(t *testing.T) {
	env := newTestEnv(t)
	env.filings.filings = []models.Filing{{ID: "f1", Form: "10-K", CompanyName: "Acme Industrial"}}

	rec := env.do(t, "GET", "/api/v1/filings/320193", nil)
	expectStatus(t, rec, http.StatusOK)
	var got []models.Filing
	decodeData(t, rec, &got)
	if len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("unexpected filings %+v", got)
	}
	if env.filings.got != "0000320193|10-K" {
		t.Errorf("expected normalized CIK and default form, got %q", env.filings.got)
	}

	env.do(t, "GET", "/api/v1/filings/320193?form=8-K", nil)
	if env.filings.got != "0000320193|8-K" {
		t.Errorf("form parameter ignored: %q", env.filings.got)
	}
}

func TestHandleFilings_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/filings/ACME", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	env.filings.err = &datasource.ErrHTTP{StatusCode: 503, Status: "503 Service Unavailable"}
	rec = env.do(t, "GET", "/api/v1/filings/320193", nil)
	expectStatus(t, rec, http.StatusBadGateway)
	if resp := decodeResponse(t, rec); !strings.Contains(string(resp.Details), "503") {
		t.Errorf("details should carry upstream status: %s", resp.Details)
	}

	env.filings.err = fmt.Errorf("fetch: %w", context.DeadlineExceeded)
	rec = env.do(t, "GET", "/api/v1/filings/320193", nil)
	expectStatus(t, rec, http.StatusGatewayTimeout)

	none := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Filings = nil })
	rec = none.do(t, "GET", "/api/v1/filings/320193", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

// ════════════════════════════════════════════════════════════════════
// Auth & config
// ════════════════════════════════════════════════════════════════════

func TestRequireToken(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.API.AuthToken = "s3cret-token" })

	tests := []struct {
		name   string
		path   string
		header []string
		status int
	}{
		{"no token", "/api/v1/model", nil, http.StatusUnauthorized},
		{"wrong token", "/api/v1/model", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/api/v1/model", []string{"Authorization", "Bearer s3cret-token"}, http.StatusOK},
		{"query", "/api/v1/model?token=s3cret-token", nil, http.StatusOK},
		{"public health", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", tt.path, nil, tt.header...)
			expectStatus(t, rec, tt.status)
			if tt.status == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestHandleGetConfig_HidesToken(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.API.AuthToken = "s3cret-token" })
	auth := []string{"Authorization", "Bearer s3cret-token"}

	rec := env.do(t, "GET", "/api/v1/config", nil, auth...)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "s3cret-token") {
		t.Error("config response leaked the auth token")
	}

	rec = env.do(t, "GET", "/api/v1/config/keys", nil, auth...)
	expectStatus(t, rec, http.StatusOK)
	var keys []config.KeyStatus
	decodeData(t, rec, &keys)
	if len(keys) != 1 || !keys[0].IsSet || keys[0].Masked != "s3c...ken" {
		t.Errorf("unexpected key status %+v", keys)
	}
}

// ════════════════════════════════════════════════════════════════════
// Response helpers
// ════════════════════════════════════════════════════════════════════

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, APIResponse{Success: true, Data: map[string]int{"n": 1}})
	if rec.Code != http.StatusCreated {
		t.Errorf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"n":1`) {
		t.Errorf("body: %s", rec.Body.String())
	}
}

func TestWriteJSON_Unencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, APIResponse{Success: true, Data: math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Success {
		t.Errorf("expected a valid error envelope, got %s", rec.Body.String())
	}
}

func TestWriteError_VariousStatusCodes(t *testing.T) {
	for _, code := range []int{400, 401, 404, 422, 500, 502} {
		rec := httptest.NewRecorder()
		writeError(rec, code, "msg")
		if rec.Code != code {
			t.Errorf("status: got %d, want %d", rec.Code, code)
		}
		var resp APIResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if resp.Success || resp.Error != "msg" {
			t.Errorf("unexpected envelope %+v", resp)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", &mscore.InvalidFinancialDataError{Fields: []mscore.FieldError{{Field: "company_name", Message: "is required"}}}, 422},
		{"degenerate", fmt.Errorf("compute: %w", &mscore.ComputationError{Ratio: "dsri", Reason: "zero denominator"}), 422},
		{"non-finite", fmt.Errorf("save analysis: %w", store.ErrNonFinite), 422},
		{"not found", store.ErrNotFound, 404},
		{"exists", store.ErrExists, 409},
		{"canceled", context.Canceled, 503},
		{"other", errors.New("disk full"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg, _ := classifyError(tt.err)
			if status != tt.status {
				t.Errorf("status: got %d, want %d", status, tt.status)
			}
			if status == 500 && msg != "internal error" {
				t.Errorf("internal errors must not leak details, got %q", msg)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket Hub tests
// ════════════════════════════════════════════════════════════════════

func runHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHub_NewWSHub(t *testing.T) {
	hub := NewWSHub()
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount: got %d, want 0", hub.ClientCount())
	}
}

func TestWSHub_RegisterAndUnregister(t *testing.T) {
	hub := runHub(t)
	client := &WSClient{hub: hub, send: make(chan WSMessage, 256)}

	if !hub.Register(client) {
		t.Fatal("Register on a running hub should succeed")
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Unregister(client)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
}

func TestWSHub_NotifyBroadcasts(t *testing.T) {
	hub := runHub(t)
	client1 := &WSClient{hub: hub, send: make(chan WSMessage, 256)}
	client2 := &WSClient{hub: hub, send: make(chan WSMessage, 256)}
	hub.Register(client1)
	hub.Register(client2)
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.Notify(screening.EventAnalysisCreated, map[string]string{"id": "a1"})

	for i, c := range []*WSClient{client1, client2} {
		select {
		case got := <-c.send:
			if got.Type != screening.EventAnalysisCreated {
				t.Errorf("client%d got type=%q", i+1, got.Type)
			}
		case <-time.After(time.Second):
			t.Errorf("client%d did not receive message", i+1)
		}
	}
}

func TestWSHub_SendTargetsOneClient(t *testing.T) {
	hub := runHub(t)
	c1 := &WSClient{hub: hub, send: make(chan WSMessage, 4)}
	c2 := &WSClient{hub: hub, send: make(chan WSMessage, 4)}
	hub.Register(c1)
	hub.Register(c2)
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.Send(c1, WSMessage{Type: "pong"})
	select {
	case got := <-c1.send:
		if got.Type != "pong" {
			t.Errorf("got %q", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("c1 did not receive direct message")
	}
	select {
	case got := <-c2.send:
		t.Errorf("c2 should not receive direct message, got %+v", got)
	case <-time.After(20 * time.Millisecond):
	}

	// Unknown clients are ignored.
	hub.Send(&WSClient{send: make(chan WSMessage)}, WSMessage{Type: "pong"})
}

func TestWSHub_SlowClientDisconnected(t *testing.T) {
	hub := runHub(t)
	slow := &WSClient{hub: hub, send: make(chan WSMessage)} // unbuffered, never read
	hub.Register(slow)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Broadcast(WSMessage{Type: "test"})
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestWSHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewWSHub() // not running, so the buffer fills

	done := make(chan bool)
	go func() {
		for i := 0; i < 300; i++ {
			hub.Broadcast(WSMessage{Type: "test"})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked when buffer was full")
	}
}

func TestWSHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := runHub(t)

	var wg sync.WaitGroup
	numClients := 50
	clients := make([]*WSClient, numClients)
	for i := range clients {
		clients[i] = &WSClient{hub: hub, send: make(chan WSMessage, 256)}
	}

	for _, c := range clients {
		wg.Add(1)
		go func(c *WSClient) {
			defer wg.Done()
			hub.Register(c)
		}(c)
	}
	wg.Wait()
	waitFor(t, func() bool { return hub.ClientCount() == numClients })

	for _, c := range clients {
		wg.Add(1)
		go func(c *WSClient) {
			defer wg.Done()
			hub.Unregister(c)
		}(c)
	}
	wg.Wait()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestWSHub_StopReleasesCallers(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := &WSClient{hub: hub, send: make(chan WSMessage, 1)}
	hub.Register(client)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	cancel()
	<-stopped
	if hub.ClientCount() != 0 {
		t.Error("stopped hub should drop its clients")
	}
	if hub.Register(&WSClient{hub: hub, send: make(chan WSMessage)}) {
		t.Error("Register after stop should report false")
	}
	hub.Unregister(client) // must not block
}

func TestWSMessageJSON_NoData(t *testing.T) {
	b, err := json.Marshal(WSMessage{Type: "pong"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"pong"}` {
		t.Errorf("got %s", b)
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket end to end
// ════════════════════════════════════════════════════════════════════

func TestWebSocket_PushesAnalysisCreated(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	// The pong proves the client is registered with the hub.
	if err := conn.WriteJSON(WSMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "pong" {
		t.Fatalf("expected pong, got %+v (%v)", msg, err)
	}

	body, _ := json.Marshal(referenceRequest())
	resp, err := http.Post(ts.URL+"/api/v1/analyses", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}

	var event struct {
		Type string                 `json:"type"`
		Data models.AnalysisSummary `json:"data"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != screening.EventAnalysisCreated || event.Data.CompanyName != "Acme Industrial" {
		t.Errorf("unexpected event %+v", event)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.API.AuthToken = "s3cret-token" })
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("expected handshake failure without token")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=s3cret-token", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

// ════════════════════════════════════════════════════════════════════
// Serve
// ════════════════════════════════════════════════════════════════════

func TestServe_GracefulShutdown(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	waitFor(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not shut down")
	}
}
