package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"go.uber.org/zap"
)

// PayPal event types.
const (
	PayPalSubscriptionCreated   = "BILLING.SUBSCRIPTION.CREATED"
	PayPalSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	PayPalSubscriptionUpdated   = "BILLING.SUBSCRIPTION.UPDATED"
	PayPalSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	PayPalSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	PayPalSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	PayPalSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	PayPalSaleDenied            = "PAYMENT.SALE.DENIED"
)

type paypalEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type paypalResource struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	PlanID             string `json:"plan_id"`
	CustomID           string `json:"custom_id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	CreateTime         string `json:"create_time"`
	UpdateTime         string `json:"update_time"`
	Subscriber         struct {
		PayerID string `json:"payer_id"`
	} `json:"subscriber"`
	BillingInfo struct {
		LastPayment struct {
			Time string `json:"time"`
		} `json:"last_payment"`
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
}

// subscriptionID is the PayPal subscription the resource belongs to. Sale
// resources carry it as the billing agreement.
func (r *paypalResource) subscriptionID(eventType string) string {
	if strings.HasPrefix(eventType, "PAYMENT.SALE.") {
		return r.BillingAgreementID
	}
	return r.ID
}

// PayPalEnvelope parses a raw PayPal webhook body.
func PayPalEnvelope(body []byte) (Envelope, error) {
	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing id or event_type", ErrMalformedEvent)
	}
	return Envelope{
		Provider:   ProviderPayPal,
		EventID:    ev.ID,
		EventType:  ev.EventType,
		OccurredAt: parsePayPalTime(ev.CreateTime),
		Payload:    body,
	}, nil
}

func parsePayPalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// PayPalStatus maps a PayPal subscription status onto a local status.
func PayPalStatus(s string) (subscription.Status, bool) {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return subscription.StatusActive, true
	case "CANCELLED", "SUSPENDED":
		return subscription.StatusCancelled, true
	case "EXPIRED":
		return subscription.StatusExpired, true
	default:
		return "", false
	}
}

// PayPalReconciler applies PayPal events.
type PayPalReconciler struct {
	subs   Subscriptions
	logger *zap.Logger
}

// NewPayPalReconciler creates a PayPal reconciler.
func NewPayPalReconciler(subs Subscriptions, logger *zap.Logger) *PayPalReconciler {
	return &PayPalReconciler{subs: subs, logger: logger}
}

// Reconcile implements Reconciler.
func (r *PayPalReconciler) Reconcile(ctx context.Context, env Envelope) (Outcome, error) {
	var ev paypalEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var res paypalResource
	if len(ev.Resource) > 0 {
		if err := json.Unmarshal(ev.Resource, &res); err != nil {
			return Outcome{}, fmt.Errorf("%w: resource: %v", ErrMalformedEvent, err)
		}
	}
	at := eventTime(env, r.subs)

	switch env.EventType {
	case PayPalSubscriptionActivated:
		return r.activated(ctx, &res, at)
	case PayPalSubscriptionUpdated:
		return r.updated(ctx, &res, at)
	case PayPalSubscriptionCancelled, PayPalSubscriptionSuspended:
		return r.setStatus(ctx, &res, env.EventType, subscription.StatusCancelled, ptr(true), at, "cancelled")
	case PayPalSubscriptionExpired:
		return r.setStatus(ctx, &res, env.EventType, subscription.StatusExpired, nil, at, "expired")
	case PayPalSaleCompleted:
		return r.saleCompleted(ctx, &res, at)
	case PayPalSaleDenied:
		r.logger.Warn("paypal payment denied",
			zap.String("paypal_subscription_id", res.subscriptionID(env.EventType)),
			zap.String("sale_id", res.ID),
		)
		return applied("logged"), nil
	default:
		r.logger.Debug("unhandled paypal event type", zap.String("type", env.EventType))
		return skipped(ReasonUnhandledEventType), nil
	}
}

func (r *PayPalReconciler) find(ctx context.Context, id string) (*subscription.Subscription, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	sub, found, err := r.subs.FindByPayPalSubscriptionID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		r.logger.Info("paypal subscription not found", zap.String("paypal_subscription_id", id))
	}
	return sub, found, nil
}

func (r *PayPalReconciler) activated(ctx context.Context, res *paypalResource, at time.Time) (Outcome, error) {
	start := parsePayPalTime(res.BillingInfo.LastPayment.Time)
	end := parsePayPalTime(res.BillingInfo.NextBillingTime)

	sub, found, err := r.find(ctx, res.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		// Approval can reach us before the buyer returns to the site; the
		// custom id set at checkout names the user.
		userID, perr := uuid.Parse(res.CustomID)
		tier, ok := r.subs.Catalog().TierFromProviderRef(plan.PayPalPlan{PlanID: res.PlanID})
		if res.ID == "" || perr != nil || !ok {
			return skipped(ReasonSubscriptionNotFound), nil
		}
		sub, err = r.subs.ApplyPlanChange(ctx, userID, tier, subscription.ProviderLinks{
			PayPalSubscriptionID: res.ID,
			PayPalPayerID:        res.Subscriber.PayerID,
			PayPalPlanID:         res.PlanID,
		})
		if err != nil {
			return Outcome{}, err
		}
		if err := r.subs.ExtendPeriod(ctx, sub.ID, start, end); err != nil {
			return Outcome{}, err
		}
		return applied("linked"), nil
	}

	ok, err := r.subs.SetStatusAt(ctx, sub.ID, subscription.StatusActive, ptr(false), at)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.subs.ExtendPeriod(ctx, sub.ID, start, end); err != nil {
		return Outcome{}, err
	}
	return statusOutcome("activated", ok), nil
}

func (r *PayPalReconciler) updated(ctx context.Context, res *paypalResource, at time.Time) (Outcome, error) {
	sub, found, err := r.find(ctx, res.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return skipped(ReasonSubscriptionNotFound), nil
	}

	if tier, ok := r.subs.Catalog().TierFromProviderRef(plan.PayPalPlan{PlanID: res.PlanID}); ok && tier != sub.Tier {
		if _, err := r.subs.SetTier(ctx, sub.ID, tier, at); err != nil {
			return Outcome{}, err
		}
	}
	ok := true
	if status, known := PayPalStatus(res.Status); known {
		if ok, err = r.subs.SetStatusAt(ctx, sub.ID, status, nil, at); err != nil {
			return Outcome{}, err
		}
	}
	start := parsePayPalTime(res.BillingInfo.LastPayment.Time)
	end := parsePayPalTime(res.BillingInfo.NextBillingTime)
	if err := r.subs.ExtendPeriod(ctx, sub.ID, start, end); err != nil {
		return Outcome{}, err
	}
	return statusOutcome("subscription_synced", ok), nil
}

func (r *PayPalReconciler) setStatus(ctx context.Context, res *paypalResource, eventType string, status subscription.Status, cancel *bool, at time.Time, action string) (Outcome, error) {
	sub, found, err := r.find(ctx, res.subscriptionID(eventType))
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return skipped(ReasonSubscriptionNotFound), nil
	}
	ok, err := r.subs.SetStatusAt(ctx, sub.ID, status, cancel, at)
	if err != nil {
		return Outcome{}, err
	}
	return statusOutcome(action, ok), nil
}

func (r *PayPalReconciler) saleCompleted(ctx context.Context, res *paypalResource, at time.Time) (Outcome, error) {
	subID := res.subscriptionID(PayPalSaleCompleted)
	if subID == "" {
		return skipped(ReasonMissingSubscription), nil
	}
	sub, found, err := r.find(ctx, subID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return skipped(ReasonSubscriptionNotFound), nil
	}

	ok, err := r.subs.SetStatusAt(ctx, sub.ID, subscription.StatusActive, nil, at)
	if err != nil {
		return Outcome{}, err
	}
	start := parsePayPalTime(res.UpdateTime)
	if start.IsZero() {
		start = parsePayPalTime(res.CreateTime)
	}
	if !start.IsZero() {
		if err := r.subs.ExtendPeriod(ctx, sub.ID, start, start.AddDate(0, 1, 0)); err != nil {
			return Outcome{}, err
		}
	}
	return statusOutcome("payment_recorded", ok), nil
}
