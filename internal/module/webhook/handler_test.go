package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inkwell/server/internal/module/payment/provider"
	"github.com/inkwell/server/internal/module/subscription"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPayPal struct {
	ok      bool
	err     error
	headers provider.WebhookHeaders
}

func (s *stubPayPal) VerifyWebhookSignature(_ context.Context, h provider.WebhookHeaders, _ []byte) (bool, error) {
	s.headers = h
	return s.ok, s.err
}

type handlerFixture struct {
	*fixture
	events     *memoryEvents
	dispatcher *Dispatcher
	router     *gin.Engine
}

func newHandlerFixture(t *testing.T, paypal PayPalVerifier) *handlerFixture {
	t.Helper()
	f := newFixture(t)
	events := newMemoryEvents()
	d := NewDispatcher(1, 8, time.Second, zap.NewNop(), nil)
	t.Cleanup(d.Stop)

	stripeProvider := provider.NewStripeProvider(provider.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"}, nil)
	h := NewHandler(stripeProvider, paypal, newProcessor(f, events, nil), d, zap.NewNop())

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return &handlerFixture{fixture: f, events: events, dispatcher: d, router: r}
}

func (hf *handlerFixture) post(path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	hf.router.ServeHTTP(w, req)
	return w
}

func stripeEventBody(id, eventType string, created time.Time, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"api_version":"2019-01-01","data":{"object":%s}}`,
		id, eventType, created.Unix(), object))
}

func TestHandleStripe(t *testing.T) {
	hf := newHandlerFixture(t, nil)
	hf.seed(func(s *subscription.Subscription) { s.Status = subscription.StatusCancelled })

	payload := stripeEventBody("evt_1", StripeInvoicePaid, t0, `{"id":"in_1","object":"invoice","subscription":"sub_1"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	w := hf.post("/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": signed.Header})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	hf.dispatcher.Stop()
	assert.Equal(t, subscription.StatusActive, hf.current(t).Status)
	row := hf.events.get(ProviderStripe, "evt_1")
	require.NotNil(t, row)
	assert.Equal(t, "processed", row.Outcome)
}

func TestHandleStripe_BadSignature(t *testing.T) {
	hf := newHandlerFixture(t, nil)
	hf.seed(nil)

	payload := stripeEventBody("evt_1", StripeSubscriptionDeleted, t0, `{"id":"sub_1","object":"subscription"}`)
	w := hf.post("/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "WEBHOOK_UNVERIFIED")

	hf.dispatcher.Stop()
	assert.Nil(t, hf.events.get(ProviderStripe, "evt_1"))
	assert.Equal(t, subscription.StatusActive, hf.current(t).Status)
}

func TestHandleStripe_NotConfigured(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(1, 1, time.Second, zap.NewNop(), nil)
	defer d.Stop()
	h := NewHandler(nil, nil, newProcessor(f, newMemoryEvents(), nil), d, zap.NewNop())
	r := gin.New()
	h.RegisterRoutes(r.Group(""))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func paypalBody(id, eventType, subID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"event_type":%q,"create_time":%q,"resource":{"id":%q}}`,
		id, eventType, t0.Add(time.Hour).Format(time.RFC3339), subID))
}

var paypalHeaders = map[string]string{
	"PAYPAL-AUTH-ALGO":         "SHA256withRSA",
	"PAYPAL-CERT-URL":          "https://api.paypal.com/cert.pem",
	"PAYPAL-TRANSMISSION-ID":   "tx-1",
	"PAYPAL-TRANSMISSION-SIG":  "sig",
	"PAYPAL-TRANSMISSION-TIME": "2026-03-15T13:00:00Z",
}

func TestHandlePayPal(t *testing.T) {
	verifier := &stubPayPal{ok: true}
	hf := newHandlerFixture(t, verifier)
	hf.seed(nil)

	w := hf.post("/api/v1/webhooks/paypal", paypalBody("WH-1", PayPalSubscriptionCancelled, "I-PAYPAL1"), paypalHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	hf.dispatcher.Stop()
	assert.Equal(t, subscription.StatusCancelled, hf.current(t).Status)
	assert.Equal(t, "tx-1", verifier.headers.TransmissionID)
	assert.True(t, verifier.headers.Complete())
}

func TestHandlePayPal_UnverifiedIsDropped(t *testing.T) {
	tests := []struct {
		name     string
		verifier *stubPayPal
	}{
		{"rejected", &stubPayPal{ok: false}},
		{"verification error", &stubPayPal{err: errors.New("paypal unavailable")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hf := newHandlerFixture(t, tt.verifier)
			hf.seed(nil)

			w := hf.post("/api/v1/webhooks/paypal", paypalBody("WH-1", PayPalSubscriptionCancelled, "I-PAYPAL1"), paypalHeaders)
			assert.Equal(t, http.StatusOK, w.Code)

			hf.dispatcher.Stop()
			assert.Equal(t, subscription.StatusActive, hf.current(t).Status)
			assert.Nil(t, hf.events.get(ProviderPayPal, "WH-1"))
		})
	}
}

func TestHandlePayPal_MalformedStillAcknowledged(t *testing.T) {
	hf := newHandlerFixture(t, &stubPayPal{ok: true})

	w := hf.post("/api/v1/webhooks/paypal", []byte(`not json`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_RejectOversizedBody(t *testing.T) {
	padding := `"` + strings.Repeat("x", maxBodyBytes) + `"`

	t.Run("stripe", func(t *testing.T) {
		hf := newHandlerFixture(t, &stubPayPal{ok: true})
		body := stripeEventBody("evt_big", "customer.subscription.updated", time.Now(), `{"padding":`+padding+`}`)

		w := hf.post("/api/v1/webhooks/stripe", body, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodePayloadTooLarge)

		hf.dispatcher.Stop()
		assert.Nil(t, hf.events.get(ProviderStripe, "evt_big"))
	})

	t.Run("paypal", func(t *testing.T) {
		verifier := &stubPayPal{ok: true}
		hf := newHandlerFixture(t, verifier)
		body := []byte(`{"id":"WH-BIG","event_type":"BILLING.SUBSCRIPTION.CANCELLED","padding":` + padding + `}`)

		w := hf.post("/api/v1/webhooks/paypal", body, paypalHeaders)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodePayloadTooLarge)

		hf.dispatcher.Stop()
		assert.False(t, verifier.headers.Complete(), "oversized deliveries are never verified")
		assert.Nil(t, hf.events.get(ProviderPayPal, "WH-BIG"))
	})
}
