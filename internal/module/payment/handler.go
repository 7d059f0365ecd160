package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/payment/provider"
	"github.com/inkwell/server/internal/module/subscription"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrUnsupportedPlan, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrNoStripeCustomer, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrNotApproved, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrSubscriptionMismatch, Status: http.StatusForbidden, Code: apperrors.CodeForbidden},
	{Err: ErrUnknownPayPalPlan, Status: http.StatusServiceUnavailable, Code: apperrors.CodeProviderMisconfigured},
	{Err: subscription.ErrSubscriptionNotFound, Status: http.StatusInternalServerError, Code: apperrors.CodeSubscriptionNotFound},
	{Err: subscription.ErrInvalidTier, Status: http.StatusInternalServerError, Code: apperrors.CodeInvalidTier},
}

func handleError(c *gin.Context, err error) {
	var pe *provider.Error
	if errors.As(err, &pe) {
		err = provider.AsAppError(err)
	}
	response.HandleError(c, err, errorMappings)
}

// Handler serves the checkout endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers checkout routes on an authenticated group.
// Extra middleware (idempotency) wraps the session-creating routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	chain := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mw...), h)
	}

	sub := r.Group("/subscription")
	{
		sub.POST("/checkout", chain(h.CreateCheckout)...)
		sub.POST("/portal", h.CreatePortal)
		sub.POST("/paypal/checkout", chain(h.CreatePayPalCheckout)...)
		sub.POST("/paypal/execute", h.ExecutePayPal)
	}
}

func (h *Handler) bindPlan(c *gin.Context) (uuid.UUID, *CheckoutRequest, bool) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return uuid.Nil, nil, false
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Plan is required", nil)
		return uuid.Nil, nil, false
	}
	return userID, &req, true
}

// CreateCheckout opens a Stripe checkout session.
//
//	@Summary		Create Stripe checkout
//	@Tags			Payment
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			Idempotency-Key	header		string				false	"Idempotency key"
//	@Param			request			body		payment.CheckoutRequest	true	"Plan to buy"
//	@Success		200				{object}	response.Envelope{data=payment.CheckoutResponse}
//	@Failure		400				{object}	response.Envelope	"Invalid plan"
//	@Failure		503				{object}	response.Envelope	"Provider not configured"
//	@Router			/subscription/checkout [post]
func (h *Handler) CreateCheckout(c *gin.Context) {
	userID, req, ok := h.bindPlan(c)
	if !ok {
		return
	}
	tier, err := ParsePaidTier(req.Plan)
	if err != nil {
		response.ValidationError(c, "Invalid plan. Must be PRO or ENTERPRISE", nil)
		return
	}

	resp, err := h.service.CreateStripeCheckout(c.Request.Context(), userID, tier)
	if err != nil {
		handleError(c, err)
		return
	}
	response.OK(c, resp)
}

// CreatePortal opens the Stripe billing portal.
//
//	@Summary		Open Stripe billing portal
//	@Tags			Payment
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope{data=payment.PortalResponse}
//	@Failure		400		{object}	response.Envelope	"No Stripe customer"
//	@Router			/subscription/portal [post]
func (h *Handler) CreatePortal(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	resp, err := h.service.CreatePortalSession(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.OK(c, resp)
}

// CreatePayPalCheckout creates a PayPal subscription awaiting approval.
//
//	@Summary		Create PayPal checkout
//	@Tags			Payment
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			Idempotency-Key	header		string				false	"Idempotency key"
//	@Param			request			body		payment.CheckoutRequest	true	"Plan to buy"
//	@Success		200				{object}	response.Envelope{data=payment.PayPalCheckoutResponse}
//	@Failure		400				{object}	response.Envelope	"Invalid plan"
//	@Failure		503				{object}	response.Envelope	"Provider not configured"
//	@Router			/subscription/paypal/checkout [post]
func (h *Handler) CreatePayPalCheckout(c *gin.Context) {
	userID, req, ok := h.bindPlan(c)
	if !ok {
		return
	}
	tier, err := ParsePaidTier(req.Plan)
	if err != nil {
		response.ValidationError(c, "Invalid plan. Must be PRO or ENTERPRISE", nil)
		return
	}

	resp, err := h.service.CreatePayPalCheckout(c.Request.Context(), userID, tier)
	if err != nil {
		handleError(c, err)
		return
	}
	response.OK(c, resp)
}

// ExecutePayPal applies an approved PayPal subscription.
//
//	@Summary		Execute PayPal subscription
//	@Tags			Payment
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		payment.PayPalExecuteRequest	true	"Approved subscription"
//	@Success		200		{object}	response.Envelope{data=payment.PayPalExecuteResponse}
//	@Failure		400		{object}	response.Envelope	"Not approved"
//	@Failure		403		{object}	response.Envelope	"Subscription belongs to another checkout"
//	@Router			/subscription/paypal/execute [post]
func (h *Handler) ExecutePayPal(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}
	var req PayPalExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Subscription ID is required", nil)
		return
	}

	resp, err := h.service.ExecutePayPal(c.Request.Context(), userID, req.SubscriptionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.OK(c, resp)
}
