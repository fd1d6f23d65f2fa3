package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/observability"
	"github.com/velo-automation/velo/internal/receivables/httpapi"
	_ "github.com/velo-automation/velo/internal/testing/guard"
	"github.com/velo-automation/velo/jobs"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{
		StoreDriver:         StoreMemory,
		SeedDemo:            true,
		DefaultTenant:       "demo",
		RateLimitPerMinute:  1000,
		EventLimitPerMinute: 10,
	}
	metrics := observability.NewMetrics()
	services, err := BuildServices(context.Background(), cfg, logger, ServiceOptions{Registerer: metrics.Registerer()})
	require.NoError(t, err)
	t.Cleanup(services.Close)
	require.Nil(t, services.Redis)
	require.Nil(t, services.Locker)

	return NewRouter(RouterParams{
		Logger:     logger,
		Config:     cfg,
		API:        httpapi.NewHandler(logger, services.Service, cfg.DefaultTenant, cfg.EventLimitPerMinute),
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    metrics,
	})
}

func TestRouterServesAPI(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	require.Len(t, invoices, 5, "demo data is seeded into the default tenant")

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set(httpapi.TenantHeader, "empty")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "velo_http_requests_total"), "request metrics exported")
}
