package usage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrQuotaExceeded, Status: http.StatusForbidden, Code: apperrors.CodeQuotaExceeded, Message: "Quota exceeded. Upgrade your plan to continue."},
	{Err: ErrInvalidAmount, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrUnknownFeature, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: subscription.ErrSubscriptionNotFound, Status: http.StatusInternalServerError, Code: apperrors.CodeSubscriptionNotFound},
}

// Handler serves usage reports and platform usage submissions.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers user routes on a JWT-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/subscription/usage", h.GetUsage)
}

// RegisterPlatformRoutes registers routes on an API-key-authenticated group.
func (h *Handler) RegisterPlatformRoutes(r *gin.RouterGroup) {
	r.POST("/usage/record", h.Record)
}

// GetUsage reports the current window's usage.
//
//	@Summary		Get usage
//	@Tags			Usage
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	response.Envelope{data=usage.Report}
//	@Failure		401		{object}	response.Envelope	"Unauthorized"
//	@Router			/subscription/usage [get]
func (h *Handler) GetUsage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Fail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
		return
	}

	report, err := h.service.Stats(c.Request.Context(), userID)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.OK(c, report)
}

// Record counts usage reported by a connected platform.
//
//	@Summary		Record usage
//	@Description	API key authenticated. Requires a plan with API access.
//	@Tags			Usage
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		usage.RecordRequest	true	"Usage to record"
//	@Success		200		{object}	response.Envelope{data=usage.RecordResponse}
//	@Failure		400		{object}	response.Envelope	"Invalid request"
//	@Failure		403		{object}	response.Envelope	"Quota exceeded or feature not available"
//	@Router			/usage/record [post]
func (h *Handler) Record(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	feature, ok := plan.NormalizeFeature(req.Feature)
	if !ok {
		response.ValidationError(c, "unknown feature", map[string]any{"feature": req.Feature})
		return
	}

	period, err := h.service.Increment(c.Request.Context(), userID, feature, req.Amount)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.OK(c, RecordResponse{Feature: string(feature), Used: period.Used(feature)})
}
