package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkwell/server/internal/module/payment/provider"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// StripeVerifier checks a Stripe-Signature header against the raw body.
type StripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// PayPalVerifier checks PayPal transmission headers with PayPal.
type PayPalVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers provider.WebhookHeaders, body []byte) (bool, error)
}

// Handler receives provider webhooks, acknowledges them and hands
// reconciliation to the dispatcher.
type Handler struct {
	stripe     StripeVerifier
	paypal     PayPalVerifier
	processor  *Processor
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewHandler creates a webhook handler. Either verifier may be nil when the
// provider is not configured.
func NewHandler(stripe StripeVerifier, paypal PayPalVerifier, processor *Processor, dispatcher *Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{
		stripe:     stripe,
		paypal:     paypal,
		processor:  processor,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterRoutes registers the unauthenticated webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	wh := r.Group("/webhooks")
	{
		wh.POST("/stripe", h.HandleStripe)
		wh.POST("/paypal", h.HandlePayPal)
	}
}

// readBody reads at most maxBodyBytes. A larger body is answered with 413
// and reported as not ok.
func (h *Handler) readBody(c *gin.Context, source string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.logger.Warn("webhook body too large", zap.String("provider", source), zap.Int64("limit", tooLarge.Limit))
		response.Fail(c, http.StatusRequestEntityTooLarge, apperrors.CodePayloadTooLarge, "payload too large", nil)
		return nil, false
	}
	h.logger.Error("failed to read webhook body", zap.String("provider", source), zap.Error(err))
	response.Fail(c, http.StatusBadRequest, apperrors.CodeValidation, "failed to read body", nil)
	return nil, false
}

func received(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// HandleStripe verifies the signature before acknowledging.
//
//	@Summary		Stripe webhook
//	@Tags			Webhooks
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header	string	true	"Stripe signature"
//	@Success		200				{object}	map[string]bool
//	@Failure		400				{object}	response.Envelope	"Invalid signature"
//	@Failure		413				{object}	response.Envelope	"Payload too large"
//	@Router			/webhooks/stripe [post]
func (h *Handler) HandleStripe(c *gin.Context) {
	payload, ok := h.readBody(c, ProviderStripe)
	if !ok {
		return
	}
	if h.stripe == nil {
		response.Fail(c, http.StatusServiceUnavailable, apperrors.CodeProviderMisconfigured, "stripe is not configured", nil)
		return
	}

	event, err := h.stripe.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) && pe.Code == apperrors.CodeProviderMisconfigured {
			h.logger.Error("stripe webhook secret missing")
			response.Fail(c, http.StatusServiceUnavailable, apperrors.CodeProviderMisconfigured, pe.Message, nil)
			return
		}
		h.logger.Warn("invalid stripe webhook signature", zap.Error(err))
		h.processor.metrics.RecordWebhookEvent(ProviderStripe, "", "unverified")
		response.Fail(c, http.StatusBadRequest, apperrors.CodeWebhookUnverified, ErrUnverified.Error(), nil)
		return
	}

	env := StripeEnvelope(event)
	err = h.submit(env, func(ctx context.Context) error {
		_, err := h.processor.Process(ctx, env)
		return err
	})
	if err != nil {
		// Stripe retries non-2xx deliveries.
		response.Fail(c, http.StatusServiceUnavailable, apperrors.CodeInternal, "webhook processing unavailable", nil)
		return
	}
	received(c)
}

// HandlePayPal acknowledges every readable delivery; verification runs
// with the job.
//
//	@Summary		PayPal webhook
//	@Tags			Webhooks
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]bool
//	@Failure		413	{object}	response.Envelope	"Payload too large"
//	@Router			/webhooks/paypal [post]
func (h *Handler) HandlePayPal(c *gin.Context) {
	body, ok := h.readBody(c, ProviderPayPal)
	if !ok {
		return
	}
	env, err := PayPalEnvelope(body)
	if err != nil {
		h.logger.Warn("malformed paypal webhook", zap.Error(err))
		received(c)
		return
	}

	headers := provider.WebhookHeaders{
		AuthAlgo:         c.GetHeader("Paypal-Auth-Algo"),
		CertURL:          c.GetHeader("Paypal-Cert-Url"),
		TransmissionID:   c.GetHeader("Paypal-Transmission-Id"),
		TransmissionSig:  c.GetHeader("Paypal-Transmission-Sig"),
		TransmissionTime: c.GetHeader("Paypal-Transmission-Time"),
	}
	_ = h.submit(env, func(ctx context.Context) error {
		if h.paypal == nil {
			h.logger.Warn("paypal webhook dropped, paypal is not configured", zap.String("event_id", env.EventID))
			return nil
		}
		ok, err := h.paypal.VerifyWebhookSignature(ctx, headers, body)
		if err != nil || !ok {
			h.logger.Warn("unverified paypal webhook dropped",
				zap.String("event_id", env.EventID),
				zap.String("type", env.EventType),
				zap.Error(err),
			)
			h.processor.metrics.RecordWebhookEvent(ProviderPayPal, env.EventType, "unverified")
			return nil
		}
		_, err = h.processor.Process(ctx, env)
		return err
	})
	received(c)
}

func (h *Handler) submit(env Envelope, run func(ctx context.Context) error) error {
	err := h.dispatcher.Submit(Job{Provider: env.Provider, EventType: env.EventType, Run: run})
	if err != nil {
		h.logger.Error("webhook dispatch failed",
			zap.String("provider", env.Provider),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
	}
	return err
}
