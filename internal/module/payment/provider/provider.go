// Package provider holds the outbound clients for the payment providers.
package provider

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/inkwell/server/internal/shared/errors"
)

// Provider names.
const (
	NameStripe = "stripe"
	NamePayPal = "paypal"
)

// CheckoutParams describes a hosted Stripe subscription checkout.
type CheckoutParams struct {
	PriceID           string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
}

// CheckoutSession is a created Stripe checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// PayPalSubscriptionParams describes a PayPal subscription to create.
type PayPalSubscriptionParams struct {
	PlanID    string
	CustomID  string
	ReturnURL string
	CancelURL string
}

// PayPalSubscription is the subset of a PayPal billing subscription we use.
type PayPalSubscription struct {
	ID              string
	Status          string
	PlanID          string
	PayerID         string
	PayerEmail      string
	ApprovalURL     string
	StartTime       time.Time
	LastPaymentTime time.Time
	NextBillingTime time.Time
}

// WebhookHeaders are the transmission headers PayPal signs a delivery with.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// Complete reports whether every header is present.
func (h WebhookHeaders) Complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" &&
		h.TransmissionSig != "" && h.TransmissionTime != ""
}

// Error is a failed provider call. Code is one of the provider error codes
// in internal/shared/errors.
type Error struct {
	Provider string
	Code     string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// userFacing reports whether the failure was caused by the request rather
// than the provider being unhealthy.
func (e *Error) userFacing() bool {
	return e.Code == apperrors.CodeCardDeclined ||
		(e.Status >= 400 && e.Status < 500 && e.Status != 429)
}

// Misconfigured returns a PROVIDER_MISCONFIGURED error.
func Misconfigured(provider, message string) *Error {
	return &Error{Provider: provider, Code: apperrors.CodeProviderMisconfigured, Message: message}
}

// AsAppError converts a provider failure into the client-facing error.
func AsAppError(err error) *apperrors.AppError {
	var pe *Error
	if errors.As(err, &pe) {
		msg := pe.Message
		if pe.Code == apperrors.CodeProviderMisconfigured {
			msg = "payment provider is not configured"
		}
		return apperrors.Provider(pe.Code, msg, err)
	}
	return apperrors.Provider(apperrors.CodeProviderError, "payment provider request failed", err)
}
