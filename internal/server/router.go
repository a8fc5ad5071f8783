package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidecar/internal/app"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/supervisor"
)

// HistoryReader lists recent lifecycle events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router exposes read-only diagnostics for the backend.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/status
//	GET {basePath}/history?limit=N   (404 when no history store is configured)
//	GET {basePath}/metrics
type Router struct {
	app      *app.App
	hist     HistoryReader
	basePath string
}

func NewRouter(a *app.App, hist HistoryReader, basePath string) *Router {
	return &Router{app: a, hist: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/status", r.handleStatus)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer listens on addr and serves the router in the background.
// Listen errors are returned immediately.
func NewServer(addr, basePath string, a *app.App, hist HistoryReader) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           NewRouter(a, hist, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, ln.Addr(), nil
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK       bool `json:"ok"`
	Degraded bool `json:"degraded"`
}

type statusResp struct {
	supervisor.Status
	Degraded  bool                    `json:"degraded"`
	LastError string                  `json:"last_error,omitempty"`
	Resources *metrics.ProcessMetrics `json:"resources,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.app.Supervisor().Status()
	ok := !r.app.Degraded() && st.Alive
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, healthResp{OK: ok, Degraded: r.app.Degraded()})
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.app.Supervisor().Status()
	resp := statusResp{Status: st, Degraded: r.app.Degraded()}
	if err := r.app.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if st.Alive {
		if m, err := metrics.SampleProcess(c.Request.Context(), st.Name, st.PID); err == nil {
			resp.Resources = &m
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history store not configured"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	evs, err := r.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}
