package unitecon

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/engine"
	"unit_economics/pkg/core/kpi"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/xbrl"
)

// FilingRequest names a filing: a cached accession number, or an inline
// fact dump in the loader's wire format.
type FilingRequest struct {
	Accession string          `json:"accession_number"`
	Filing    json.RawMessage `json:"filing,omitempty"`
	Ticker    string          `json:"ticker,omitempty"`
	Enforce   bool            `json:"enforce,omitempty"`
}

type ScreenRequest struct {
	FilingRequest
	Expr string `json:"expr"`
}

type ScreenResponse struct {
	Pass   bool       `json:"pass"`
	Report kpi.Report `json:"report"`
}

type CanonicalizeRequest struct {
	Text string `json:"text"`
}

type CanonicalizeResponse struct {
	Input     string `json:"input"`
	Canonical string `json:"canonical"`
	Stage     string `json:"stage"`
}

type BundleRequest struct {
	Ticker string `json:"ticker"`
}

// Handler holds dependencies for unit-economics endpoints
type Handler struct {
	Engine *engine.Engine
}

// NewHandler creates a new handler
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{Engine: e}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/canonicalize", h.HandleCanonicalize)
	mux.HandleFunc("/api/unit-economics", h.HandleUnitEconomics)
	mux.HandleFunc("/api/kpi", h.HandleKPI)
	mux.HandleFunc("/api/screen", h.HandleScreen)
	mux.HandleFunc("/api/bundle", h.HandleBundle)
}

// NewServer returns an HTTP server with every endpoint mounted.
func NewServer(e *engine.Engine, addr string) *http.Server {
	mux := http.NewServeMux()
	NewHandler(e).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// cors writes the local-dev CORS headers and reports whether the request
// was a preflight that is already answered.
func cors(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.Warnw("[API] encode response failed", "error", err)
	}
}

func (h *Handler) HandleCanonicalize(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	var req CanonicalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	canonical, stage := h.Engine.Canon.Explain(r.Context(), req.Text)
	writeJSON(w, CanonicalizeResponse{Input: req.Text, Canonical: canonical, Stage: stage})
}

// atlasFor resolves the request's filing; on failure the response is
// already written.
func (h *Handler) atlasFor(w http.ResponseWriter, r *http.Request, req FilingRequest) (*atlas.Atlas, bool) {
	var f *xbrl.Filing
	switch {
	case len(req.Filing) > 0:
		f = xbrl.LoadJSON(req.Filing)
	case req.Accession != "":
		cached, err := h.Engine.Cache.Get(r.Context(), req.Accession)
		if err != nil {
			logging.Logger.Errorw("[API] cache lookup failed", logging.FieldAccession, req.Accession, "error", err)
			http.Error(w, "cache lookup failed", http.StatusInternalServerError)
			return nil, false
		}
		if cached == nil {
			http.Error(w, "filing not found: "+req.Accession, http.StatusNotFound)
			return nil, false
		}
		f = cached
	default:
		http.Error(w, "accession_number or filing is required", http.StatusBadRequest)
		return nil, false
	}
	a, err := h.Engine.Atlas(f, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return a, true
}

func (h *Handler) HandleUnitEconomics(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	var req FilingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	a, ok := h.atlasFor(w, r, req)
	if !ok {
		return
	}
	res, err := h.Engine.UnitEconomics(r.Context(), a, req.Ticker, req.Enforce)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	logging.Logger.Infow("[API] unit economics", logging.FieldTicker, res.Ticker, logging.FieldRunID, res.RunID)
	writeJSON(w, res)
}

func (h *Handler) HandleKPI(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	var req FilingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	a, ok := h.atlasFor(w, r, req)
	if !ok {
		return
	}
	report, err := h.Engine.KPIs(r.Context(), a)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func (h *Handler) HandleScreen(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	var req ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := kpi.ParseScreen(req.Expr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, ok := h.atlasFor(w, r, req.FilingRequest)
	if !ok {
		return
	}
	report, err := h.Engine.KPIs(r.Context(), a)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pass, err := kpi.Screen(req.Expr, report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, ScreenResponse{Pass: pass, Report: report})
}

func (h *Handler) HandleBundle(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	var req BundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ticker == "" {
		http.Error(w, "ticker is required", http.StatusBadRequest)
		return
	}
	filings, err := h.Engine.Cache.ByTicker(r.Context(), req.Ticker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(filings) == 0 {
		http.Error(w, "no cached filings for "+strings.ToUpper(req.Ticker), http.StatusNotFound)
		return
	}
	b, err := h.Engine.Bundle(r.Context(), filings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, b)
}
