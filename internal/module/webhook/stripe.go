package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

// Stripe event types.
const (
	StripeCheckoutCompleted       = "checkout.session.completed"
	StripeSubscriptionCreated     = "customer.subscription.created"
	StripeSubscriptionUpdated     = "customer.subscription.updated"
	StripeSubscriptionDeleted     = "customer.subscription.deleted"
	StripeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	StripeInvoicePaid             = "invoice.paid"
	StripeInvoicePaymentFailed    = "invoice.payment_failed"
)

// StripeEnvelope converts a verified Stripe event. The payload is the event's
// data object.
func StripeEnvelope(event stripe.Event) Envelope {
	return Envelope{
		Provider:   ProviderStripe,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    event.Data.Raw,
	}
}

// StripeReconciler applies Stripe events.
type StripeReconciler struct {
	subs   Subscriptions
	logger *zap.Logger
}

// NewStripeReconciler creates a Stripe reconciler.
func NewStripeReconciler(subs Subscriptions, logger *zap.Logger) *StripeReconciler {
	return &StripeReconciler{subs: subs, logger: logger}
}

// Reconcile implements Reconciler.
func (r *StripeReconciler) Reconcile(ctx context.Context, env Envelope) (Outcome, error) {
	switch env.EventType {
	case StripeCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(env.Payload, &sess); err != nil {
			return Outcome{}, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		return r.checkoutCompleted(ctx, &sess)
	case StripeSubscriptionCreated, StripeSubscriptionUpdated, StripeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			return Outcome{}, fmt.Errorf("%w: subscription: %v", ErrMalformedEvent, err)
		}
		if env.EventType == StripeSubscriptionDeleted {
			return r.subscriptionDeleted(ctx, &sub, eventTime(env, r.subs))
		}
		return r.subscriptionChanged(ctx, env.EventType, &sub, eventTime(env, r.subs))
	case StripeInvoicePaymentSucceeded, StripeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(env.Payload, &inv); err != nil {
			return Outcome{}, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
		}
		return r.invoicePaid(ctx, &inv, eventTime(env, r.subs))
	case StripeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(env.Payload, &inv); err != nil {
			return Outcome{}, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
		}
		r.logger.Warn("stripe invoice payment failed",
			zap.String("invoice_id", inv.ID),
			zap.String("subscription_id", invoiceSubscriptionID(&inv)),
		)
		return applied("logged"), nil
	default:
		r.logger.Debug("unhandled stripe event type", zap.String("type", env.EventType))
		return skipped(ReasonUnhandledEventType), nil
	}
}

func (r *StripeReconciler) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (Outcome, error) {
	userID, err := uuid.Parse(sess.Metadata["userId"])
	if err != nil {
		r.logger.Warn("checkout session without user id", zap.String("session_id", sess.ID))
		return skipped(ReasonMissingUser), nil
	}
	tier, ok := r.subs.Catalog().TierFromMetadata(sess.Metadata)
	if !ok {
		r.logger.Warn("checkout session without resolvable tier",
			zap.String("session_id", sess.ID),
			zap.String("user_id", userID.String()),
		)
		return skipped(ReasonInvalidTier), nil
	}

	links := subscription.ProviderLinks{}
	if sess.Subscription != nil {
		links.StripeSubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		links.StripeCustomerID = sess.Customer.ID
	}

	existing, found, err := r.subs.FindByUserID(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if found && links.StripeSubscriptionID != "" &&
		existing.StripeSubscriptionID == links.StripeSubscriptionID && existing.Tier == tier {
		return applied("already_applied"), nil
	}

	if _, err := r.subs.ApplyPlanChange(ctx, userID, tier, links); err != nil {
		return Outcome{}, err
	}
	r.logger.Info("stripe checkout applied",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)),
		zap.String("stripe_subscription_id", links.StripeSubscriptionID),
	)
	return applied("plan_changed"), nil
}

func (r *StripeReconciler) subscriptionChanged(ctx context.Context, eventType string, ss *stripe.Subscription, at time.Time) (Outcome, error) {
	catalog := r.subs.Catalog()
	tier, tierKnown := catalog.TierFromProviderRef(plan.StripePrice{PriceID: stripePriceID(ss)})

	sub, found, err := r.subs.FindByStripeSubscriptionID(ctx, ss.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		// A subscription created before checkout completion is linked through
		// the metadata stamped on it at checkout.
		userID, perr := uuid.Parse(ss.Metadata["userId"])
		if eventType != StripeSubscriptionCreated || perr != nil || !tierKnown {
			r.logger.Info("stripe subscription not found", zap.String("stripe_subscription_id", ss.ID))
			return skipped(ReasonSubscriptionNotFound), nil
		}
		links := subscription.ProviderLinks{StripeSubscriptionID: ss.ID}
		if ss.Customer != nil {
			links.StripeCustomerID = ss.Customer.ID
		}
		if sub, err = r.subs.ApplyPlanChange(ctx, userID, tier, links); err != nil {
			return Outcome{}, err
		}
		if err := r.subs.ExtendPeriod(ctx, sub.ID, unixTime(ss.CurrentPeriodStart), unixTime(ss.CurrentPeriodEnd)); err != nil {
			return Outcome{}, err
		}
		return applied("linked"), nil
	}

	if tierKnown && tier != sub.Tier {
		if _, err := r.subs.SetTier(ctx, sub.ID, tier, at); err != nil {
			return Outcome{}, err
		}
	}

	ok := true
	if status, known := StripeStatus(ss.Status); known {
		ok, err = r.subs.SetStatusAt(ctx, sub.ID, status, ptr(ss.CancelAtPeriodEnd), at)
		if err != nil {
			return Outcome{}, err
		}
	}
	if err := r.subs.ExtendPeriod(ctx, sub.ID, unixTime(ss.CurrentPeriodStart), unixTime(ss.CurrentPeriodEnd)); err != nil {
		return Outcome{}, err
	}
	return statusOutcome("subscription_synced", ok), nil
}

func (r *StripeReconciler) subscriptionDeleted(ctx context.Context, ss *stripe.Subscription, at time.Time) (Outcome, error) {
	sub, found, err := r.subs.FindByStripeSubscriptionID(ctx, ss.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		r.logger.Info("stripe subscription not found", zap.String("stripe_subscription_id", ss.ID))
		return skipped(ReasonSubscriptionNotFound), nil
	}
	ok, err := r.subs.SetStatusAt(ctx, sub.ID, subscription.StatusCancelled, ptr(true), at)
	if err != nil {
		return Outcome{}, err
	}
	return statusOutcome("cancelled", ok), nil
}

func (r *StripeReconciler) invoicePaid(ctx context.Context, inv *stripe.Invoice, at time.Time) (Outcome, error) {
	subID := invoiceSubscriptionID(inv)
	if subID == "" {
		return skipped(ReasonMissingSubscription), nil
	}
	sub, found, err := r.subs.FindByStripeSubscriptionID(ctx, subID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		r.logger.Info("stripe subscription not found", zap.String("stripe_subscription_id", subID))
		return skipped(ReasonSubscriptionNotFound), nil
	}

	ok, err := r.subs.SetStatusAt(ctx, sub.ID, subscription.StatusActive, nil, at)
	if err != nil {
		return Outcome{}, err
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			if err := r.subs.ExtendPeriod(ctx, sub.ID, unixTime(line.Period.Start), unixTime(line.Period.End)); err != nil {
				return Outcome{}, err
			}
			break
		}
	}
	return statusOutcome("payment_recorded", ok), nil
}

// StripeStatus maps a Stripe subscription status onto a local status.
func StripeStatus(s stripe.SubscriptionStatus) (subscription.Status, bool) {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return subscription.StatusActive, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return subscription.StatusCancelled, true
	case stripe.SubscriptionStatusIncompleteExpired:
		return subscription.StatusExpired, true
	default:
		return "", false
	}
}

func stripePriceID(ss *stripe.Subscription) string {
	if ss.Items == nil {
		return ""
	}
	for _, item := range ss.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Subscription == nil {
		return ""
	}
	return inv.Subscription.ID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
