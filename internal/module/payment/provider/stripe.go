package provider

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Breaker       BreakerConfig
	// Backends overrides the API endpoint, used by tests.
	Backends *stripe.Backends
}

// StripeProvider creates checkout and portal sessions and verifies webhooks.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
	metrics       *metrics.Metrics
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(cfg StripeConfig, m *metrics.Metrics) *StripeProvider {
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		webhookSecret: cfg.WebhookSecret,
		breaker:       newBreaker(NameStripe, cfg.Breaker),
		metrics:       m,
	}
}

// CreateCheckoutSession opens a hosted checkout for a recurring price.
// Metadata is written to both the session and the resulting subscription.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	if in.PriceID == "" {
		return nil, Misconfigured(NameStripe, "missing price id")
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
	}
	params.Context = ctx
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	return call(p.breaker, p.metrics, NameStripe, "checkout_session", func() (*CheckoutSession, error) {
		s, err := p.api.CheckoutSessions.New(params)
		if err != nil {
			return nil, stripeError("create checkout session", err)
		}
		return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
	})
}

// CreatePortalSession opens the billing portal for a customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	return call(p.breaker, p.metrics, NameStripe, "portal_session", func() (string, error) {
		s, err := p.api.BillingPortalSessions.New(params)
		if err != nil {
			return "", stripeError("create portal session", err)
		}
		return s.URL, nil
	})
}

// ConstructEvent verifies the Stripe-Signature header and parses the event.
// API version mismatches are tolerated: only the fields we read matter.
func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if p.webhookSecret == "" {
		return stripe.Event{}, Misconfigured(NameStripe, "missing webhook secret")
	}
	return webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &Error{Provider: NameStripe, Code: apperrors.CodeProviderError, Message: op + " failed", Err: err}
	}

	out := &Error{Provider: NameStripe, Status: se.HTTPStatusCode, Message: se.Msg, Err: err}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		out.Code = apperrors.CodeCardDeclined
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		out.Code = apperrors.CodeProviderMisconfigured
	case se.Type == stripe.ErrorTypeInvalidRequest && se.Code == stripe.ErrorCodeResourceMissing:
		out.Code = apperrors.CodeProviderMisconfigured
	default:
		out.Code = apperrors.CodeProviderError
	}
	if out.Message == "" {
		out.Message = op + " failed"
	}
	return out
}
