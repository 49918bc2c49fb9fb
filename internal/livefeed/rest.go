package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/minhos/mdic/internal/model"
)

// RESTServer exposes status/latest/historical over HTTP, adapted from the
// teacher's api.Server route-registration shape.
type RESTServer struct {
	svc *Service
}

// NewRESTServer builds a RESTServer over svc.
func NewRESTServer(svc *Service) *RESTServer {
	return &RESTServer{svc: svc}
}

// Register attaches livefeed routes to mux.
func (s *RESTServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/live/status", s.handleStatus)
	mux.HandleFunc("GET /api/live/latest/{root}", s.handleLatest)
	mux.HandleFunc("GET /api/live/historical/{symbol}", s.handleHistorical)
	mux.HandleFunc("GET /api/live/ws", Handler(s.svc))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTimeParam(r *http.Request, key string, def time.Time) time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return def
	}
	return t
}

// statusResponse mirrors Status but with JSON-friendly freshness keys.
type statusResponse struct {
	PerSymbolFreshness map[string]time.Time `json:"per_symbol_freshness"`
	IsDegraded         bool                 `json:"is_degraded"`
}

// handleStatus implements status() -> {per_symbol_freshness, is_degraded}
// (spec.md §4.8).
func (s *RESTServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		PerSymbolFreshness: st.PerSymbolFreshness,
		IsDegraded:         st.IsDegraded,
	})
}

// handleLatest implements latest(symbol) -> Tick | None, keyed by logical
// root (spec.md §4.8).
func (s *RESTServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	root := r.PathValue("root")
	t, ok := s.svc.Latest(root)
	if !ok {
		writeError(w, http.StatusNotFound, "no live tick for root: "+root)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// historicalResponse wraps the bar slice with the request's echoed range.
type historicalResponse struct {
	Symbol    string           `json:"symbol"`
	Timeframe string           `json:"timeframe"`
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Bars      []model.DailyBar `json:"bars"`
}

// handleHistorical implements historical(symbol, timeframe, [t0,t1)) ->
// Sequence of Bar (spec.md §4.8), keyed by contract symbol.
func (s *RESTServer) handleHistorical(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	tf := model.TimeframeDaily
	if q := r.URL.Query().Get("timeframe"); q != "" {
		parsed, err := model.ParseTimeframe(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tf = parsed
	}

	now := time.Now().UTC()
	from := parseTimeParam(r, "from", now.AddDate(0, 0, -30))
	to := parseTimeParam(r, "to", now)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	bars, err := s.svc.Historical(ctx, symbol, tf, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, historicalResponse{
		Symbol: symbol, Timeframe: string(tf), From: from, To: to, Bars: bars,
	})
}
