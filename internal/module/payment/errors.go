package payment

import "errors"

// Module errors.
var (
	ErrUnsupportedPlan      = errors.New("plan must be PRO or ENTERPRISE")
	ErrNoStripeCustomer     = errors.New("no Stripe customer on file")
	ErrSubscriptionMismatch = errors.New("PayPal subscription belongs to another user")
	ErrNotApproved          = errors.New("PayPal subscription has not been approved")
	ErrUnknownPayPalPlan    = errors.New("PayPal plan is not mapped to a tier")
)
