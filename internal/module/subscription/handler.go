package subscription

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrSubscriptionNotFound, Status: http.StatusInternalServerError, Code: apperrors.CodeSubscriptionNotFound},
	{Err: ErrInvalidTier, Status: http.StatusInternalServerError, Code: apperrors.CodeInvalidTier},
}

// HandleError renders subscription errors.
func HandleError(c *gin.Context, err error) {
	response.HandleError(c, err, errorMappings)
}

// Handler serves the subscription lifecycle endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sub := r.Group("/subscription")
	{
		sub.GET("/status", h.GetStatus)
		sub.GET("/limits", h.GetLimits)
		sub.GET("/plans", h.ListPlans)
		sub.POST("/cancel", h.Cancel)
		sub.POST("/reactivate", h.Reactivate)
	}
}

// GetStatus returns the caller's subscription.
//
//	@Summary		Get subscription status
//	@Tags			Subscription
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope{data=subscription.StatusView}
//	@Failure		401		{object}	response.Envelope	"Unauthorized"
//	@Router			/subscription/status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	view, err := h.service.Status(c.Request.Context(), userID)
	if err != nil {
		HandleError(c, err)
		return
	}
	response.OK(c, view)
}

// GetLimits returns the limits of the caller's effective plan.
//
//	@Summary		Get plan limits
//	@Tags			Subscription
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope{data=subscription.LimitsResponse}
//	@Failure		401		{object}	response.Envelope	"Unauthorized"
//	@Router			/subscription/limits [get]
func (h *Handler) GetLimits(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	_, p, err := h.service.EffectivePlan(c.Request.Context(), userID)
	if err != nil {
		HandleError(c, err)
		return
	}
	response.OK(c, LimitsResponse{Plan: p.Tier, Limits: p.Limits})
}

// ListPlans returns the plan catalog.
//
//	@Summary		List plans
//	@Tags			Subscription
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=subscription.PlansResponse}
//	@Router			/subscription/plans [get]
func (h *Handler) ListPlans(c *gin.Context) {
	response.OK(c, PlansResponse{Plans: h.service.Catalog().Plans()})
}

// Cancel schedules cancellation at period end.
//
//	@Summary		Cancel subscription
//	@Tags			Subscription
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope	"Unauthorized"
//	@Router			/subscription/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	if err := h.service.Cancel(c.Request.Context(), userID); err != nil {
		HandleError(c, err)
		return
	}
	response.Message(c, "Subscription will be cancelled at the end of the billing period")
}

// Reactivate clears a scheduled cancellation.
//
//	@Summary		Reactivate subscription
//	@Tags			Subscription
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope	"Unauthorized"
//	@Router			/subscription/reactivate [post]
func (h *Handler) Reactivate(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	if err := h.service.Reactivate(c.Request.Context(), userID); err != nil {
		HandleError(c, err)
		return
	}
	response.Message(c, "Subscription reactivated")
}
