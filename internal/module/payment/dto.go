package payment

import "github.com/inkwell/server/internal/module/plan"

// CheckoutRequest selects the plan to buy.
type CheckoutRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// CheckoutResponse is a created Stripe checkout session.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PortalResponse is a Stripe billing portal link.
type PortalResponse struct {
	URL string `json:"url"`
}

// PayPalCheckoutResponse is a PayPal subscription awaiting approval.
type PayPalCheckoutResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	ApprovalURL    string `json:"approvalUrl"`
	Status         string `json:"status"`
}

// PayPalExecuteRequest confirms an approved PayPal subscription.
type PayPalExecuteRequest struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
	Token          string `json:"token"`
}

// PayPalExecuteResponse reports the applied plan.
type PayPalExecuteResponse struct {
	SubscriptionID string    `json:"subscriptionId"`
	Status         string    `json:"status"`
	Plan           plan.Tier `json:"plan"`
}
