package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/payment/provider"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/utils/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(f *fixture, mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, f.userID)
		c.Next()
	})
	NewHandler(f.svc).RegisterRoutes(api, mw...)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func post(t *testing.T, r *gin.Engine, path, body string, headers ...string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHandler_Checkout(t *testing.T) {
	f := newFixture(t)
	f.stripe.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&provider.CheckoutSession{ID: "cs_1", URL: "https://checkout/cs_1"}, nil)

	code, env := post(t, newRouter(f), "/api/subscription/checkout", `{"plan":"PRO"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"sessionId":"cs_1","url":"https://checkout/cs_1"}`, string(env.Data))
}

func TestHandler_CheckoutValidation(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	for _, body := range []string{`{}`, `{"plan":"FREE"}`, `{"plan":"GOLD"}`, `not json`} {
		code, env := post(t, r, "/api/subscription/checkout", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, apperrors.CodeValidation, env.Error.Code, body)
	}
	f.stripe.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestHandler_CheckoutProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"declined", &provider.Error{Provider: "stripe", Code: apperrors.CodeCardDeclined, Message: "declined"}, http.StatusPaymentRequired, apperrors.CodeCardDeclined},
		{"misconfigured", provider.Misconfigured("stripe", "bad key"), http.StatusServiceUnavailable, apperrors.CodeProviderMisconfigured},
		{"outage", &provider.Error{Provider: "stripe", Code: apperrors.CodeProviderError, Message: "down"}, http.StatusBadGateway, apperrors.CodeProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.stripe.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil, tt.err)
			code, env := post(t, newRouter(f), "/api/subscription/checkout", `{"plan":"ENTERPRISE"}`)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestHandler_CheckoutIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := newFixture(t)
	f.stripe.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&provider.CheckoutSession{ID: "cs_1", URL: "https://checkout/cs_1"}, nil).Once()
	r := newRouter(f, middleware.Idempotency(rdb, 0))

	key := uuid.NewString()
	_, first := post(t, r, "/api/subscription/checkout", `{"plan":"PRO"}`, middleware.IdempotencyKeyHeader, key)
	_, second := post(t, r, "/api/subscription/checkout", `{"plan":"PRO"}`, middleware.IdempotencyKeyHeader, key)
	assert.JSONEq(t, string(first.Data), string(second.Data))
	f.stripe.AssertNumberOfCalls(t, "CreateCheckoutSession", 1)
}

func TestHandler_Portal(t *testing.T) {
	f := newFixture(t)
	code, env := post(t, newRouter(f), "/api/subscription/portal", ``)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperrors.CodeValidation, env.Error.Code)
}

func TestHandler_PayPalExecute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.subs.SetPayPalPending(context.Background(), f.userID, "I-1"))
	f.paypal.On("GetSubscription", mock.Anything, "I-1").Return(&provider.PayPalSubscription{
		ID: "I-1", Status: "ACTIVE", PlanID: "P-PRO",
	}, nil)
	r := newRouter(f)

	code, env := post(t, r, "/api/subscription/paypal/execute", `{"subscriptionId":"I-1","token":"EC-1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"subscriptionId":"I-1","status":"ACTIVE","plan":"PRO"}`, string(env.Data))

	code, _ = post(t, r, "/api/subscription/paypal/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
