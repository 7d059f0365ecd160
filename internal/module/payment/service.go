package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/payment/provider"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/user"
	"github.com/inkwell/server/internal/utils/requestctx"
	"go.uber.org/zap"
)

// StripeGateway is the Stripe surface checkout needs.
type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, in provider.CheckoutParams) (*provider.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// PayPalGateway is the PayPal surface checkout needs.
type PayPalGateway interface {
	CreateSubscription(ctx context.Context, in provider.PayPalSubscriptionParams) (*provider.PayPalSubscription, error)
	GetSubscription(ctx context.Context, id string) (*provider.PayPalSubscription, error)
}

// Subscriptions is the subscription state checkout reads and writes.
type Subscriptions interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error)
	ApplyPlanChange(ctx context.Context, userID uuid.UUID, tier plan.Tier, links subscription.ProviderLinks) (*subscription.Subscription, error)
	SetPayPalPending(ctx context.Context, userID uuid.UUID, paypalSubID string) error
	Catalog() *plan.Catalog
}

// Users resolves the checkout customer email.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// URLs are the redirect targets handed to the providers.
type URLs struct {
	StripeSuccess      string
	StripeCancel       string
	StripePortalReturn string
	PayPalReturn       string
	PayPalCancel       string
}

// Config wires a checkout service. A nil gateway disables that provider.
type Config struct {
	Stripe        StripeGateway
	PayPal        PayPalGateway
	Subscriptions Subscriptions
	Users         Users
	URLs          URLs
	Logger        *zap.Logger
}

// Service starts provider checkouts. Tier changes only land through
// ApplyPlanChange, here for PayPal execution and in webhook reconciliation.
type Service struct {
	stripe StripeGateway
	paypal PayPalGateway
	subs   Subscriptions
	users  Users
	urls   URLs
	logger *zap.Logger
}

// NewService creates a checkout service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stripe: cfg.Stripe,
		paypal: cfg.PayPal,
		subs:   cfg.Subscriptions,
		users:  cfg.Users,
		urls:   cfg.URLs,
		logger: logger,
	}
}

// ParsePaidTier accepts PRO or ENTERPRISE in any case.
func ParsePaidTier(s string) (plan.Tier, error) {
	t := plan.Tier(strings.ToUpper(strings.TrimSpace(s)))
	if t != plan.TierPro && t != plan.TierEnterprise {
		return "", ErrUnsupportedPlan
	}
	return t, nil
}

// CreateStripeCheckout opens a Stripe checkout session for tier. The
// session metadata carries the user and tier so the completion webhook
// can apply the plan change.
func (s *Service) CreateStripeCheckout(ctx context.Context, userID uuid.UUID, tier plan.Tier) (*CheckoutResponse, error) {
	if s.stripe == nil {
		return nil, provider.Misconfigured(provider.NameStripe, "stripe is not enabled")
	}
	catalog := s.subs.Catalog()
	priceID, ok := catalog.StripePriceID(tier)
	if !ok {
		return nil, provider.Misconfigured(provider.NameStripe, fmt.Sprintf("no Stripe price for %s", tier))
	}

	sub, err := s.subs.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	md := catalog.Plan(tier).Metadata()
	md["userId"] = userID.String()
	md["plan"] = string(tier)

	params := provider.CheckoutParams{
		PriceID:           priceID,
		CustomerID:        sub.StripeCustomerID,
		ClientReferenceID: userID.String(),
		SuccessURL:        s.urls.StripeSuccess,
		CancelURL:         s.urls.StripeCancel,
		Metadata:          md,
	}
	if params.CustomerID == "" && s.users != nil {
		if u, err := s.users.GetByID(ctx, userID); err == nil {
			params.CustomerEmail = u.Email
		}
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.logger.Error("stripe checkout failed",
			zap.String("user_id", userID.String()),
			zap.String("tier", string(tier)),
			zap.String("request_id", requestctx.RequestID(ctx)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("stripe checkout created",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)),
		zap.String("session_id", session.ID),
	)
	return &CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession opens the Stripe billing portal for the user.
func (s *Service) CreatePortalSession(ctx context.Context, userID uuid.UUID) (*PortalResponse, error) {
	if s.stripe == nil {
		return nil, provider.Misconfigured(provider.NameStripe, "stripe is not enabled")
	}
	sub, err := s.subs.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.StripeCustomerID == "" {
		return nil, ErrNoStripeCustomer
	}

	url, err := s.stripe.CreatePortalSession(ctx, sub.StripeCustomerID, s.urls.StripePortalReturn)
	if err != nil {
		return nil, err
	}
	return &PortalResponse{URL: url}, nil
}

// CreatePayPalCheckout creates a PayPal subscription awaiting approval.
func (s *Service) CreatePayPalCheckout(ctx context.Context, userID uuid.UUID, tier plan.Tier) (*PayPalCheckoutResponse, error) {
	if s.paypal == nil {
		return nil, provider.Misconfigured(provider.NamePayPal, "paypal is not enabled")
	}
	planID, ok := s.subs.Catalog().PayPalPlanID(tier)
	if !ok {
		return nil, provider.Misconfigured(provider.NamePayPal, fmt.Sprintf("no PayPal plan for %s", tier))
	}

	sub, err := s.paypal.CreateSubscription(ctx, provider.PayPalSubscriptionParams{
		PlanID:    planID,
		CustomID:  userID.String(),
		ReturnURL: s.urls.PayPalReturn,
		CancelURL: s.urls.PayPalCancel,
	})
	if err != nil {
		s.logger.Error("paypal checkout failed",
			zap.String("user_id", userID.String()),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return nil, err
	}
	if err := s.subs.SetPayPalPending(ctx, userID, sub.ID); err != nil {
		return nil, err
	}

	s.logger.Info("paypal checkout created",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)),
		zap.String("paypal_subscription_id", sub.ID),
	)
	return &PayPalCheckoutResponse{SubscriptionID: sub.ID, ApprovalURL: sub.ApprovalURL, Status: sub.Status}, nil
}

// ExecutePayPal applies an approved PayPal subscription to the user.
// The tier is derived from the subscription's plan id, never from the client.
// Only the subscription the user's own checkout created is accepted, and
// executing an already linked subscription on the same tier is a no-op.
func (s *Service) ExecutePayPal(ctx context.Context, userID uuid.UUID, subscriptionID string) (*PayPalExecuteResponse, error) {
	if s.paypal == nil {
		return nil, provider.Misconfigured(provider.NamePayPal, "paypal is not enabled")
	}

	local, err := s.subs.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	linked := subscriptionID != "" && local.PayPalSubscriptionID == subscriptionID
	if !linked && (subscriptionID == "" || local.PayPalPendingID != subscriptionID) {
		s.logger.Warn("paypal subscription owner mismatch",
			zap.String("user_id", userID.String()),
			zap.String("paypal_subscription_id", subscriptionID),
		)
		return nil, ErrSubscriptionMismatch
	}

	remote, err := s.paypal.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if remote.ID != subscriptionID {
		return nil, ErrSubscriptionMismatch
	}
	if remote.Status != "ACTIVE" && remote.Status != "APPROVED" {
		return nil, ErrNotApproved
	}

	tier, ok := s.subs.Catalog().TierFromProviderRef(plan.PayPalPlan{PlanID: remote.PlanID})
	if !ok {
		s.logger.Error("unmapped paypal plan", zap.String("plan_id", remote.PlanID))
		return nil, ErrUnknownPayPalPlan
	}

	res := &PayPalExecuteResponse{SubscriptionID: remote.ID, Status: remote.Status, Plan: tier}
	if linked && local.Tier == tier && local.Status == subscription.StatusActive {
		s.logger.Info("paypal subscription already applied",
			zap.String("user_id", userID.String()),
			zap.String("paypal_subscription_id", remote.ID),
		)
		return res, nil
	}

	if _, err := s.subs.ApplyPlanChange(ctx, userID, tier, subscription.ProviderLinks{
		PayPalSubscriptionID: remote.ID,
		PayPalPayerID:        remote.PayerID,
		PayPalPlanID:         remote.PlanID,
	}); err != nil {
		return nil, err
	}
	return res, nil
}
