package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paypalServer struct {
	*httptest.Server
	tokens atomic.Int32
	routes map[string]http.HandlerFunc
}

func newPayPalServer(t *testing.T, routes map[string]http.HandlerFunc) (*paypalServer, *PayPalClient) {
	t.Helper()
	ps := &paypalServer{routes: routes}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			ps.tokens.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		h, ok := ps.routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(ps.Close)

	c, err := NewPayPalClient(PayPalConfig{
		BaseURL:      ps.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
		BrandName:    "Inkwell",
	}, nil)
	require.NoError(t, err)
	return ps, c
}

func TestPayPalClient_CreateSubscription(t *testing.T) {
	var creates atomic.Int32
	ps, c := newPayPalServer(t, map[string]http.HandlerFunc{
		"POST /v1/billing/subscriptions": func(w http.ResponseWriter, r *http.Request) {
			creates.Add(1)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "P-PRO", body["plan_id"])
			assert.Equal(t, "user-1", body["custom_id"])
			ctx := body["application_context"].(map[string]any)
			assert.Equal(t, "Inkwell", ctx["brand_name"])
			assert.Equal(t, "https://app/return", ctx["return_url"])
			assert.Equal(t, "https://app/cancel", ctx["cancel_url"])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"I-1","status":"APPROVAL_PENDING","links":[{"href":"https://paypal/self","rel":"self"},{"href":"https://paypal/approve","rel":"approve"}]}`))
		},
	})
	params := PayPalSubscriptionParams{
		PlanID: "P-PRO", CustomID: "user-1", ReturnURL: "https://app/return", CancelURL: "https://app/cancel",
	}

	sub, err := c.CreateSubscription(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "I-1", sub.ID)
	assert.Equal(t, "APPROVAL_PENDING", sub.Status)
	assert.Equal(t, "https://paypal/approve", sub.ApprovalURL)

	_, err = c.CreateSubscription(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int32(2), creates.Load())
	assert.Equal(t, int32(1), ps.tokens.Load(), "token is reused until it expires")
}

func TestPayPalClient_CreateSubscriptionWithoutApproveLink(t *testing.T) {
	_, c := newPayPalServer(t, map[string]http.HandlerFunc{
		"POST /v1/billing/subscriptions": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"I-1","status":"APPROVAL_PENDING","links":[]}`))
		},
	})
	_, err := c.CreateSubscription(context.Background(), PayPalSubscriptionParams{PlanID: "P-PRO"})
	assert.Equal(t, apperrors.CodeProviderError, AsAppError(err).Code)
}

func TestPayPalClient_GetSubscription(t *testing.T) {
	_, c := newPayPalServer(t, map[string]http.HandlerFunc{
		"GET /v1/billing/subscriptions/I-1": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"id":"I-1","status":"ACTIVE","plan_id":"P-PRO",
				"start_time":"2026-03-01T00:00:00Z",
				"subscriber":{"payer_id":"PAYER1","email_address":"p@example.com"},
				"billing_info":{"next_billing_time":"2026-04-01T10:00:00Z","last_payment":{"time":"2026-03-01T10:00:00Z"}}
			}`))
		},
	})

	sub, err := c.GetSubscription(context.Background(), "I-1")
	require.NoError(t, err)
	assert.Equal(t, "P-PRO", sub.PlanID)
	assert.Equal(t, "PAYER1", sub.PayerID)
	assert.Equal(t, "p@example.com", sub.PayerEmail)
	assert.Equal(t, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), sub.NextBillingTime.UTC())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), sub.LastPaymentTime.UTC())
}

func TestPayPalClient_Errors(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		_, c := newPayPalServer(t, map[string]http.HandlerFunc{
			"GET /v1/billing/subscriptions/I-1": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"declined","details":[{"issue":"INSTRUMENT_DECLINED"}]}`))
			},
		})
		_, err := c.GetSubscription(context.Background(), "I-1")
		assert.Equal(t, apperrors.CodeCardDeclined, AsAppError(err).Code)
	})

	t.Run("bad credentials", func(t *testing.T) {
		ps, _ := newPayPalServer(t, nil)
		_, err := NewPayPalClient(PayPalConfig{BaseURL: ps.URL, ClientID: "client", ClientSecret: "wrong"}, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeProviderMisconfigured, AsAppError(err).Code)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := NewPayPalClient(PayPalConfig{}, nil)
		assert.Equal(t, apperrors.CodeProviderMisconfigured, AsAppError(err).Code)
	})

	t.Run("missing plan", func(t *testing.T) {
		_, c := newPayPalServer(t, nil)
		_, err := c.CreateSubscription(context.Background(), PayPalSubscriptionParams{})
		assert.Equal(t, apperrors.CodeProviderMisconfigured, AsAppError(err).Code)
	})
}

func TestPayPalClient_VerifyWebhookSignature(t *testing.T) {
	headers := WebhookHeaders{
		AuthAlgo:         "SHA256withRSA",
		CertURL:          "https://api.paypal.com/cert",
		TransmissionID:   "tx-1",
		TransmissionSig:  "sig",
		TransmissionTime: "2026-03-15T12:00:00Z",
	}
	event := []byte(`{"id":"WH-EVT-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED"}`)

	status := "SUCCESS"
	_, c := newPayPalServer(t, map[string]http.HandlerFunc{
		"POST /v1/notifications/verify-webhook-signature": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				WebhookID      string          `json:"webhook_id"`
				TransmissionID string          `json:"transmission_id"`
				WebhookEvent   json.RawMessage `json:"webhook_event"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WH-1", body.WebhookID)
			assert.Equal(t, "tx-1", body.TransmissionID)
			assert.JSONEq(t, string(event), string(body.WebhookEvent))
			w.Write([]byte(`{"verification_status":"` + status + `"}`))
		},
	})

	ok, err := c.VerifyWebhookSignature(context.Background(), headers, event)
	require.NoError(t, err)
	assert.True(t, ok)

	status = "FAILURE"
	ok, err = c.VerifyWebhookSignature(context.Background(), headers, event)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.VerifyWebhookSignature(context.Background(), WebhookHeaders{AuthAlgo: "x"}, event)
	require.NoError(t, err)
	assert.False(t, ok, "incomplete headers are rejected locally")
}
