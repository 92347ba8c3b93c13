// Package server exposes the read-only HTTP surface: population status and
// Prometheus metrics. Grounded on the teacher's internal/server router, but
// reduced to what SPEC_FULL's control surface actually needs: all mutation
// (start/stop/restart/reload/fork) happens through CLI dispatch against the
// supervisor directly, never over HTTP, so the teacher's /start, /stop, and
// /debug/* handlers have no component left to protect.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vrosnet/hadc/internal/auth"
	"github.com/vrosnet/hadc/internal/metrics"
	"github.com/vrosnet/hadc/internal/supervisor"
)

// Router serves GET {basePath}/status and GET {basePath}/metrics.
type Router struct {
	sup      *supervisor.Supervisor
	auth     *auth.Middleware
	basePath string
}

// NewRouter constructs a Router over sup, gated by mw (mw.Token == "" disables
// the check). basePath may be empty or start with '/'; no trailing slash.
func NewRouter(sup *supervisor.Supervisor, mw *auth.Middleware, basePath string) *Router {
	if mw == nil {
		mw = auth.New("")
	}
	return &Router{sup: sup, auth: mw, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted behind
// internal/tls's listener or served directly.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.Use(r.auth.GinAuth())
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", r.handleMetrics)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. TLS
// termination, when configured, is the caller's responsibility via
// internal/tls.SetupTLS wrapping the returned *http.Server.
func NewServer(addr string, sup *supervisor.Supervisor, mw *auth.Middleware, basePath string) *http.Server {
	r := NewRouter(sup, mw, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleMetrics(c *gin.Context) {
	metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
