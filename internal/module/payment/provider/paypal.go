package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/paypal"
	"github.com/go-pay/gopay/pkg/xhttp"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/sony/gobreaker/v2"
)

// PayPalConfig holds PayPal REST configuration.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	IsProd       bool   // Live API instead of the sandbox
	BaseURL      string // Overrides the API root for both modes
	WebhookID    string
	BrandName    string
	Timeout      time.Duration
	Breaker      BreakerConfig
}

// PayPalClient talks to the PayPal subscriptions and webhook APIs.
type PayPalClient struct {
	client    *paypal.Client
	webhookID string
	brandName string
	breaker   *gobreaker.CircuitBreaker[any]
	metrics   *metrics.Metrics
}

// NewPayPalClient creates a PayPal client. Creating it fetches the first
// access token; gopay refreshes it in the background afterwards.
func NewPayPalClient(cfg PayPalConfig, m *metrics.Metrics) (*PayPalClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	opts := []paypal.Option{paypal.WithHttpClient(xhttp.NewClient().SetTimeout(cfg.Timeout))}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		opts = append(opts, paypal.WithProxyUrl(base, base))
	}

	client, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.IsProd, opts...)
	if err != nil {
		return nil, tokenError(err)
	}

	return &PayPalClient{
		client:    client,
		webhookID: cfg.WebhookID,
		brandName: cfg.BrandName,
		breaker:   newBreaker(NamePayPal, cfg.Breaker),
		metrics:   m,
	}, nil
}

// tokenError classifies a failed client-credentials exchange. gopay only
// reports the HTTP status in the message.
func tokenError(err error) error {
	out := &Error{Provider: NamePayPal, Code: apperrors.CodeProviderError, Message: "authentication failed", Err: err}
	msg := err.Error()
	if errors.Is(err, gopay.MissPayPalInitParamErr) ||
		strings.Contains(msg, "StatusCode = 401") || strings.Contains(msg, "StatusCode = 403") {
		out.Code = apperrors.CodeProviderMisconfigured
	}
	return out
}

func toSubscription(d *paypal.SubscriptionDetail) *PayPalSubscription {
	out := &PayPalSubscription{
		ID:        d.ID,
		Status:    d.Status,
		PlanID:    d.PlanID,
		StartTime: parsePayPalTime(d.StartTime),
	}
	if d.Subscriber != nil {
		out.PayerID = d.Subscriber.PayerId
		out.PayerEmail = d.Subscriber.EmailAddress
	}
	if d.BillingInfo != nil {
		out.NextBillingTime = parsePayPalTime(d.BillingInfo.NextBillingTime)
		if d.BillingInfo.LastPayment != nil {
			out.LastPaymentTime = parsePayPalTime(d.BillingInfo.LastPayment.Time)
		}
	}
	for _, l := range d.Links {
		if l != nil && l.Rel == "approve" {
			out.ApprovalURL = l.Href
		}
	}
	return out
}

func parsePayPalTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// CreateSubscription creates a subscription awaiting buyer approval.
func (c *PayPalClient) CreateSubscription(ctx context.Context, in PayPalSubscriptionParams) (*PayPalSubscription, error) {
	if in.PlanID == "" {
		return nil, Misconfigured(NamePayPal, "missing plan id")
	}
	bm := make(gopay.BodyMap)
	bm.Set("plan_id", in.PlanID).
		Set("custom_id", in.CustomID).
		SetBodyMap("application_context", func(b gopay.BodyMap) {
			b.Set("brand_name", c.brandName).
				Set("locale", "en-US").
				Set("shipping_preference", "NO_SHIPPING").
				Set("user_action", "SUBSCRIBE_NOW").
				Set("return_url", in.ReturnURL).
				Set("cancel_url", in.CancelURL).
				SetBodyMap("payment_method", func(pm gopay.BodyMap) {
					pm.Set("payer_selected", "PAYPAL").
						Set("payee_preferred", "IMMEDIATE_PAYMENT_REQUIRED")
				})
		})

	return call(c.breaker, c.metrics, NamePayPal, "create_subscription", func() (*PayPalSubscription, error) {
		rsp, err := c.client.SubscriptionCreate(ctx, bm)
		if err != nil {
			return nil, transportError(err)
		}
		if rsp.Code != paypal.Success {
			return nil, responseError(rsp.Code, rsp.ErrorResponse)
		}
		sub := toSubscription(rsp.Response)
		if sub.ApprovalURL == "" {
			return nil, &Error{Provider: NamePayPal, Code: apperrors.CodeProviderError, Message: "no approval link returned"}
		}
		return sub, nil
	})
}

// GetSubscription fetches a subscription.
func (c *PayPalClient) GetSubscription(ctx context.Context, id string) (*PayPalSubscription, error) {
	return call(c.breaker, c.metrics, NamePayPal, "get_subscription", func() (*PayPalSubscription, error) {
		rsp, err := c.client.SubscriptionDetails(ctx, id, make(gopay.BodyMap))
		if err != nil {
			return nil, transportError(err)
		}
		if rsp.Code != paypal.Success {
			return nil, responseError(rsp.Code, rsp.ErrorResponse)
		}
		return toSubscription(rsp.Response), nil
	})
}

// VerifyWebhookSignature asks PayPal whether a delivery is authentic.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, h WebhookHeaders, body []byte) (bool, error) {
	if c.webhookID == "" {
		return false, Misconfigured(NamePayPal, "missing webhook id")
	}
	var event map[string]any
	if !h.Complete() || json.Unmarshal(body, &event) != nil {
		return false, nil
	}
	bm := make(gopay.BodyMap)
	bm.Set("auth_algo", h.AuthAlgo).
		Set("cert_url", h.CertURL).
		Set("transmission_id", h.TransmissionID).
		Set("transmission_sig", h.TransmissionSig).
		Set("transmission_time", h.TransmissionTime).
		Set("webhook_id", c.webhookID).
		Set("webhook_event", event)

	return call(c.breaker, c.metrics, NamePayPal, "verify_webhook", func() (bool, error) {
		rsp, err := c.client.VerifyWebhookSignature(ctx, bm)
		if err != nil {
			return false, transportError(err)
		}
		return rsp.VerificationStatus == "SUCCESS", nil
	})
}

func transportError(err error) error {
	return &Error{Provider: NamePayPal, Code: apperrors.CodeProviderError, Message: "request failed", Err: err}
}

// responseError maps a non-success PayPal response. gopay puts the HTTP
// status in code.
func responseError(code int, body *paypal.ErrorResponse) error {
	out := &Error{Provider: NamePayPal, Status: code, Code: apperrors.CodeProviderError}
	if body != nil {
		out.Message = body.Message
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("unexpected status %d", code)
	}

	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		out.Code = apperrors.CodeProviderMisconfigured
	}
	if body != nil {
		for _, d := range body.Details {
			if d.Issue == "INSTRUMENT_DECLINED" || d.Issue == "PAYER_CANNOT_PAY" {
				out.Code = apperrors.CodeCardDeclined
			}
		}
	}
	return out
}
