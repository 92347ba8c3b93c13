package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vrosnet/hadc/internal/auth"
	"github.com/vrosnet/hadc/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, token string) *Router {
	t.Helper()
	sup := supervisor.New(supervisor.Config{Name: "test"}, nil)
	return NewRouter(sup, auth.New(token), "")
}

func TestHandleStatusReturnsEmptyPopulation(t *testing.T) {
	r := newTestRouter(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got == "" {
		t.Fatal("expected non-empty status body")
	}
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	r := newTestRouter(t, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRouterRejectsUnauthenticatedRequests(t *testing.T) {
	r := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRouterAcceptsAuthenticatedRequests(t *testing.T) {
	r := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNewServerConfiguresTimeouts(t *testing.T) {
	sup := supervisor.New(supervisor.Config{Name: "test"}, nil)
	srv := NewServer(":0", sup, auth.New(""), "/api")
	if srv.Addr != ":0" {
		t.Fatalf("unexpected addr: %s", srv.Addr)
	}
	if srv.Handler == nil {
		t.Fatal("expected handler to be set")
	}
}
