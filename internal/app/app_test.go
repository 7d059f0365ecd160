package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/shared/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Log.Level = "error"
	cfg.Webhook.Workers = 1
	cfg.Webhook.QueueSize = 4
	cfg.ApplyFrontendDefaults()

	a, err := NewWithDeps(cfg, Deps{
		DB:       gdb,
		Registry: prometheus.NewRegistry(),
		Clock:    clock.NewFixed(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.Stop(ctx)
	})
	return a
}

func TestRoutes(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"swagger ui", http.MethodGet, "/swagger/index.html", "", http.StatusOK},
		{"swagger doc", http.MethodGet, "/swagger/doc.json", "", http.StatusOK},
		{"subscription needs a token", http.MethodGet, "/api/subscription/status", "", http.StatusUnauthorized},
		{"checkout needs a token", http.MethodPost, "/api/subscription/checkout", `{"plan":"PRO"}`, http.StatusUnauthorized},
		{"notifications need a token", http.MethodGet, "/api/notifications", "", http.StatusUnauthorized},
		{"api keys need a token", http.MethodGet, "/api/api-keys", "", http.StatusUnauthorized},
		{"token sync needs an api key", http.MethodPost, "/api/token-usage/sync", `{}`, http.StatusUnauthorized},
		{"usage record needs an api key", http.MethodPost, "/api/usage/record", `{}`, http.StatusUnauthorized},
		{"stripe webhook without stripe", http.MethodPost, "/api/webhooks/stripe", `{}`, http.StatusServiceUnavailable},
		{"paypal webhook always acknowledged", http.MethodPost, "/api/webhooks/paypal", `{"id":"WH-1","event_type":"X"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			a.Router().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMetricsExposeBillingCollectors(t *testing.T) {
	a := newTestApp(t)
	a.metrics.RecordWebhookEvent("stripe", "invoice.paid", "processed")

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "inkwell_billing_webhook_events_total")
}
