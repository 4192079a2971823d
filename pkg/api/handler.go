package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/ripdb/pkg/dataset"
	"github.com/hazyhaar/ripdb/pkg/kit"
)

// Router serves the RIPDB API routes, the event stream and the MCP
// endpoint. Close it on shutdown.
type Router struct {
	handler     http.Handler
	hub         *Hub
	unsubscribe func()
}

// NewRouter wires every route to ds. sources may be nil, in which case
// /v1/sources answers 503.
func NewRouter(ds Dataset, sources SourceLister, version string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	eps := newEndpoints(ds, sources, logger)
	h := &handler{eps: eps, ds: ds}

	hub := NewHub(logger)
	unsubscribe := ds.Subscribe(func(ev dataset.Event) { hub.BroadcastJSON(ev) })
	h.hub = hub

	mcpSrv := server.NewMCPServer("ripdb", version, server.WithToolCapabilities(false))
	registerMCPTools(mcpSrv, eps)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/actors", h.handleActors)
	mux.HandleFunc("GET /v1/actors/search", h.handleSearch)
	mux.HandleFunc("GET /v1/actors/random", h.handleRandom)
	mux.HandleFunc("GET /v1/actors/{id}", h.handleActor)
	mux.HandleFunc("GET /v1/deaths", h.handleDeaths)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/reload", methodNotAllowed) // reload is POST only
	mux.HandleFunc("POST /v1/reload", h.handleReload)
	mux.HandleFunc("GET /v1/sources", h.handleSources)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /v1/events", hub)
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))

	return &Router{handler: cors(mux), hub: hub, unsubscribe: unsubscribe}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Close stops forwarding events and disconnects WebSocket clients.
func (rt *Router) Close() {
	rt.unsubscribe()
	rt.hub.Close()
}

type handler struct {
	eps *endpoints
	ds  Dataset
	hub *Hub
}

// serve runs ep and writes its response, mapping endpoint errors to
// status codes.
func (h *handler) serve(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	ctx := kit.WithTransport(r.Context(), "http")
	if id := r.Header.Get("X-Request-ID"); id != "" {
		ctx = kit.WithRequestID(ctx, id)
	}
	resp, err := ep(ctx, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errNoRegistry), errors.Is(err, dataset.ErrDisposed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// --- actors ---

func (h *handler) handleActors(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.actors, nil)
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.search, &searchReq{Query: r.URL.Query().Get("q")})
}

func (h *handler) handleRandom(w http.ResponseWriter, r *http.Request) {
	n, ok := queryInt(w, r, "n")
	if !ok {
		return
	}
	h.serve(w, r, h.eps.random, &randomReq{N: n})
}

func (h *handler) handleActor(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.actor, &actorReq{NameOrID: r.PathValue("id")})
}

// --- deaths ---

func (h *handler) handleDeaths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := &dataset.Filters{
		Actor:     q.Get("actor"),
		Movie:     q.Get("movie"),
		Genre:     q.Get("genre"),
		Director:  q.Get("director"),
		DeathType: q.Get("death_type"),
	}
	var ok bool
	if f.YearStart, ok = queryInt(w, r, "year_start"); !ok {
		return
	}
	if f.YearEnd, ok = queryInt(w, r, "year_end"); !ok {
		return
	}
	h.serve(w, r, h.eps.deaths, f)
}

// --- dataset ---

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.stats, nil)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.status, nil)
}

func (h *handler) handleReload(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.reload, nil)
}

func (h *handler) handleSources(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.eps.listSources, nil)
}

// --- health ---

type healthResponse struct {
	Status     string        `json:"status"`
	State      dataset.State `json:"state"`
	DataSource string        `json:"data_source,omitempty"`
	Actors     int           `json:"actors"`
	WSClients  int           `json:"ws_clients"`
}

// handleHealth answers 200 whenever data can be served, mock included.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.ds.Status()
	resp := healthResponse{
		Status:     "ok",
		State:      st.State,
		DataSource: st.DataSource,
		Actors:     st.Actors,
		WSClients:  h.hub.Stats().WSClients,
	}
	code := http.StatusOK
	if st.Actors == 0 {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if st.DataSource == dataset.DataSourceMock {
		resp.Status = "degraded"
	}
	writeJSON(w, code, resp)
}

// --- helpers ---

// queryInt parses an optional integer parameter; it writes a 400 and
// reports false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+key+": "+v)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
