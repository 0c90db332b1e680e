package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.handler())
	r.GET("/tasks/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.DELETE("/tasks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/tasks/t-1", http.StatusOK},
		{http.MethodGet, "/tasks/t-2", http.StatusOK},
		{http.MethodDelete, "/tasks/t-1", http.StatusNoContent},
		{http.MethodGet, "/nope/abc", http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	counts := map[[3]string]float64{
		{"GET", "/tasks/:id", "200"}:    2,
		{"DELETE", "/tasks/:id", "204"}: 1,
		{"GET", unmatchedPath, "404"}:   1,
	}
	for l, want := range counts {
		if got := testutil.ToFloat64(m.requests.WithLabelValues(l[0], l[1], l[2])); got != want {
			t.Errorf("requests%v = %v; want %v", l, got, want)
		}
	}
	if n := testutil.CollectAndCount(m.requests); n != 3 {
		t.Errorf("request series = %d; want 3 (ids must not leak into labels)", n)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Errorf("inflight = %v; want 0", got)
	}
	if n := testutil.CollectAndCount(m.latency); n != 3 {
		t.Errorf("latency series = %d; want 3", n)
	}
}

func TestMetrics_CountsReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry())
	lookup := func(_ context.Context, _, _, key string, _ time.Time) (bool, error) { return key == "seen", nil }

	r := gin.New()
	r.Use(m.handler(), IdempotencyValidator(IdempotencyOptions{Scope: func(*gin.Context) string { return "tasks" }}, lookup))
	r.POST("/tasks", func(c *gin.Context) { c.Status(http.StatusCreated) })

	for _, key := range []string{"seen", "fresh", "seen", ""} {
		req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	if got := testutil.ToFloat64(m.replays.WithLabelValues("POST", "/tasks")); got != 2 {
		t.Fatalf("replays = %v; want 2", got)
	}
}
