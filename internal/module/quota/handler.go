package quota

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/usage"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

// Incrementer records consumed units after the gate allowed them.
type Incrementer interface {
	Increment(ctx context.Context, userID uuid.UUID, feature plan.Feature, amount int64) (*usage.Period, error)
}

var errorMappings = []response.ErrorMapping{
	{Err: usage.ErrQuotaExceeded, Status: http.StatusForbidden, Code: apperrors.CodeQuotaExceeded, Message: "Quota exceeded. Upgrade your plan to continue."},
	{Err: usage.ErrInvalidAmount, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: subscription.ErrSubscriptionNotFound, Status: http.StatusInternalServerError, Code: apperrors.CodeSubscriptionNotFound},
}

// Handler exposes quota checks and gated consumption to signed-in users.
type Handler struct {
	gate   *Gate
	ledger Incrementer
}

func NewHandler(gate *Gate, ledger Incrementer) *Handler {
	return &Handler{gate: gate, ledger: ledger}
}

// ConsumeRequest is the body of a consume call.
type ConsumeRequest struct {
	Amount int64 `json:"amount"`
}

// ConsumeResponse reports the quota left after consuming.
type ConsumeResponse struct {
	Feature   string `json:"feature"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

// CheckResponse is the result of a pre-flight check.
type CheckResponse struct {
	Decision
	Tokens *TokenDecision `json:"tokenQuota,omitempty"`
}

// RegisterRoutes registers routes on a JWT-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/quota")
	g.GET("/check", h.Check)
	for _, f := range plan.Features() {
		g.POST("/"+string(f)+"/consume", h.gate.Middleware(string(f)), h.consume(f))
	}
}

// Check answers whether the user may perform feature, and optionally
// whether a token budget fits.
//
//	@Summary		Check quota
//	@Tags			Quota
//	@Produce		json
//	@Security		BearerAuth
//	@Param			feature	query		string	true	"Feature name"
//	@Param			tokens	query		int		false	"Token budget to check"
//	@Success		200		{object}	response.Envelope{data=quota.CheckResponse}
//	@Failure		400		{object}	response.Envelope	"Invalid request"
//	@Router			/quota/check [get]
func (h *Handler) Check(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	feature := c.Query("feature")
	if feature == "" {
		response.ValidationError(c, "feature is required", nil)
		return
	}

	d, err := h.gate.CanPerform(ctx, userID, feature)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	resp := CheckResponse{Decision: d}

	if raw := c.Query("tokens"); raw != "" {
		tokens, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tokens < 0 {
			response.ValidationError(c, "tokens must be a non-negative integer", map[string]any{"tokens": raw})
			return
		}
		td, err := h.gate.CheckTokens(ctx, userID, tokens)
		if err != nil {
			response.HandleError(c, err, errorMappings)
			return
		}
		resp.Tokens = &td
		resp.Allowed = resp.Allowed && td.Allowed
	}
	response.OK(c, resp)
}

func (h *Handler) consume(f plan.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConsumeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.ValidationError(c, "invalid request body", map[string]any{"error": err.Error()})
				return
			}
		}
		if req.Amount == 0 {
			req.Amount = 1
		}

		period, err := h.ledger.Increment(c.Request.Context(), middleware.GetUserID(c), f, req.Amount)
		if err != nil {
			if errors.Is(err, usage.ErrQuotaExceeded) {
				if d, ok := c.Get(DecisionKey); ok {
					abortExceeded(c, d.(Decision))
					return
				}
			}
			response.HandleError(c, err, errorMappings)
			return
		}

		d, _ := c.Get(DecisionKey)
		limit := d.(Decision).Limit
		used := period.Used(f)
		response.OK(c, ConsumeResponse{
			Feature:   string(f),
			Used:      used,
			Limit:     limit,
			Remaining: plan.Remaining(used, limit),
		})
	}
}
