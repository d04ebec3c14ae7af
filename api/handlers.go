package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seenimoa/fraudlens/internal/analysis/mscore"
	"github.com/seenimoa/fraudlens/internal/datasource"
	"github.com/seenimoa/fraudlens/internal/report"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/pkg/models"
	"github.com/seenimoa/fraudlens/pkg/utils"
)

// ============================================================
// Request / Response types
// ============================================================

// AnalysisRequest is the body for POST /api/v1/score and /api/v1/analyses.
type AnalysisRequest struct {
	Data       models.FinancialData `json:"data"`
	Source     models.Source        `json:"source,omitempty"`
	Confidence map[string]float64   `json:"confidence,omitempty"`

	// Overrides correct individual fields by path (e.g. "current.sales").
	// Applying any marks the analysis as merged.
	Overrides map[string]float64 `json:"overrides,omitempty"`
}

// BatchRequest is the body for POST /api/v1/analyses/batch.
type BatchRequest struct {
	Items   []AnalysisRequest `json:"items"`
	Workers int               `json:"workers,omitempty"`
}

// BatchItem is one entry of a batch response, in request order.
type BatchItem struct {
	Index    int              `json:"index"`
	Analysis *models.Analysis `json:"analysis,omitempty"`
	Error    string           `json:"error,omitempty"`
	Details  any              `json:"details,omitempty"`
}

// ModelResponse describes the active scoring model.
type ModelResponse struct {
	Formula    mscore.Formula `json:"formula"`
	Permissive bool           `json:"permissive"`
	Model      mscore.Model   `json:"model"`
}

// ExtractResponse is returned by POST /api/v1/extract?screen=true.
type ExtractResponse struct {
	Extraction *models.Extraction `json:"extraction"`
	Analysis   *models.Analysis   `json:"analysis,omitempty"`
}

// ============================================================
// Middleware
// ============================================================

// requireToken enforces the bearer token when one is configured. Browsers
// cannot set headers on WebSocket upgrades, so a token query parameter is
// accepted as well.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.API.AuthToken
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			got = r.URL.Query().Get("token")
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="fraudlens"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status":     "ok",
			"version":    s.version,
			"formula":    s.svc.Engine().Formula(),
			"store":      s.cfg.Store.Driver,
			"ws_clients": s.hub.ClientCount(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	e := s.svc.Engine()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ModelResponse{
			Formula:    e.Formula(),
			Permissive: e.Permissive(),
			Model:      e.Model(),
		},
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, _, _, err := req.resolve()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Evaluate(r.Context(), data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !resultFinite(res) {
		// Permissive engines return NaN/Inf, which JSON cannot carry.
		writeErrorDetails(w, http.StatusUnprocessableEntity,
			"m-score is not finite for this input", formatComponents(res))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, source, confidence, err := req.resolve()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.svc.Screen(r.Context(), screening.ScreenRequest{
		Data:       data,
		Source:     source,
		Confidence: confidence,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/analyses/"+a.ID)
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: a})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items is required")
		return
	}

	items := make([]BatchItem, len(req.Items))
	reqs := make([]screening.ScreenRequest, 0, len(req.Items))
	index := make([]int, 0, len(req.Items)) // position in reqs -> position in items
	for i, item := range req.Items {
		items[i].Index = i
		data, source, confidence, err := item.resolve()
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		reqs = append(reqs, screening.ScreenRequest{Data: data, Source: source, Confidence: confidence})
		index = append(index, i)
	}

	results, err := s.svc.ScreenBatch(r.Context(), reqs, req.Workers)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	for j, res := range results {
		item := &items[index[j]]
		item.Analysis = res.Analysis
		if res.Err != nil {
			_, msg, details := classifyError(res.Err)
			item.Error = msg
			item.Details = details
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: items})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{Company: q.Get("company")}

	if v := q.Get("risk"); v != "" {
		risk, err := models.ParseRiskLevel(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Risk = risk
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	list, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []models.AnalysisSummary{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: a})
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"deleted": id}})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := report.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if format == report.FormatPDF {
		writeError(w, http.StatusBadRequest, "pdf reports are rendered by the CLI; use format=html or format=text")
		return
	}
	sections, err := parseSections(q.Get("sections"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	cfg := report.DefaultReportConfig()
	cfg.Format = format
	cfg.Title = q.Get("title")
	if s.cfg.Report.Author != "" {
		cfg.Author = s.cfg.Report.Author
	}
	if sections != nil {
		cfg.Sections = sections
	}

	var (
		body        string
		contentType string
	)
	switch format {
	case report.FormatText:
		body, err = report.GenerateText(a, cfg)
		contentType = "text/plain; charset=utf-8"
	default:
		body, err = report.GenerateHTML(a, cfg)
		contentType = "text/html; charset=utf-8"
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	screen := false
	if v := r.URL.Query().Get("screen"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "screen: must be a boolean")
			return
		}
		screen = b
	}

	ex, err := datasource.ExtractHTML(http.MaxBytesReader(w, r.Body, maxHTMLBody))
	if err != nil {
		if errors.Is(err, datasource.ErrNoFigures) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !screen {
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ex})
		return
	}
	if len(ex.Missing) > 0 {
		writeErrorDetails(w, http.StatusUnprocessableEntity,
			"extraction is incomplete; supply the missing fields as overrides",
			ExtractResponse{Extraction: ex})
		return
	}

	a, err := s.svc.Screen(r.Context(), screening.ScreenRequest{
		Data:       ex.Data,
		Source:     models.SourceExtracted,
		Confidence: ex.Confidence,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: ExtractResponse{Extraction: ex, Analysis: a}})
}

func (s *Server) handleFilings(w http.ResponseWriter, r *http.Request) {
	if s.filings == nil {
		writeError(w, http.StatusServiceUnavailable, "filing feed is not configured")
		return
	}
	cik, err := datasource.NormalizeCIK(chi.URLParam(r, "cik"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form := r.URL.Query().Get("form")
	if form == "" {
		form = s.cfg.Filings.Form
	}

	filings, err := s.filings.Recent(r.Context(), cik, form)
	if err != nil {
		var httpErr *datasource.ErrHTTP
		switch {
		case errors.As(err, &httpErr):
			writeErrorDetails(w, http.StatusBadGateway, "filing feed request failed",
				map[string]any{"upstream_status": httpErr.StatusCode})
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "filing feed timed out")
		default:
			s.logger.Warn("filing feed error", "cik", cik, "error", err)
			writeError(w, http.StatusBadGateway, "filing feed unavailable")
		}
		return
	}
	if filings == nil {
		filings = []models.Filing{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: filings})
}

// ============================================================
// Helpers
// ============================================================

// resolve applies overrides and defaults the source.
func (req AnalysisRequest) resolve() (models.FinancialData, models.Source, map[string]float64, error) {
	switch req.Source {
	case "", models.SourceManual, models.SourceExtracted, models.SourceMerged:
	default:
		return models.FinancialData{}, "", nil, fmt.Errorf("unknown source %q", req.Source)
	}
	if len(req.Overrides) == 0 {
		return req.Data, req.Source, req.Confidence, nil
	}
	merged, err := datasource.Merge(&models.Extraction{Data: req.Data, Confidence: req.Confidence}, req.Overrides)
	if err != nil {
		return models.FinancialData{}, "", nil, err
	}
	return merged.Data, models.SourceMerged, merged.Confidence, nil
}

// classifyError maps service errors onto an HTTP status, client message and
// optional details.
func classifyError(err error) (int, string, any) {
	var (
		invalid *mscore.InvalidFinancialDataError
		degen   *mscore.ComputationError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, mscore.ErrInvalidFinancialData.Error(), invalid.Fields
	case errors.As(err, &degen):
		return http.StatusUnprocessableEntity, mscore.ErrDegenerateComputation.Error(), degen
	case errors.Is(err, store.ErrNonFinite):
		return http.StatusUnprocessableEntity, store.ErrNonFinite.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "analysis not found", nil
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict, "analysis already exists", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled", nil
	}
	return http.StatusInternalServerError, "internal error", nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status, msg, details := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeErrorDetails(w, status, msg, details)
}

func resultFinite(res *models.MScoreResult) bool {
	if math.IsNaN(res.MScore) || math.IsInf(res.MScore, 0) {
		return false
	}
	for _, name := range mscore.ComponentNames() {
		v, _ := mscore.Value(res.Components, name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// formatComponents renders every component as text so NaN/Inf survive JSON.
func formatComponents(res *models.MScoreResult) map[string]string {
	out := map[string]string{"m_score": utils.FormatRatio(res.MScore)}
	for _, name := range mscore.ComponentNames() {
		v, _ := mscore.Value(res.Components, name)
		out[name] = utils.FormatRatio(v)
	}
	return out
}

func parseSections(raw string) ([]report.ReportSection, error) {
	if raw == "" {
		return nil, nil
	}
	known := report.AllSections()
	var out []report.ReportSection
	for _, part := range strings.Split(raw, ",") {
		sec := report.ReportSection(strings.TrimSpace(part))
		if !slices.Contains(known, sec) {
			return nil, fmt.Errorf("unknown report section %q", part)
		}
		out = append(out, sec)
	}
	return out, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}
