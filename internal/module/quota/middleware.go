package quota

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
	"go.uber.org/zap"
)

// DecisionKey is the gin context key holding the allowed Decision.
const DecisionKey = "quota_decision"

// Middleware denies requests whose user is out of feature quota or out of
// daily API calls. The call is counted once the handler has succeeded.
func (g *Gate) Middleware(feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == uuid.Nil {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
			return
		}
		ctx := c.Request.Context()

		d, err := g.CanPerform(ctx, userID, feature)
		if err != nil {
			g.logger.Error("quota check failed", zap.String("user_id", userID.String()), zap.Error(err))
			response.AbortFail(c, apperrors.GetStatusCode(err), apperrors.CodeInternal, "quota check failed", nil)
			return
		}
		if !d.Allowed {
			abortExceeded(c, d)
			return
		}

		daily, err := g.CheckDailyCalls(ctx, userID)
		if err != nil {
			g.logger.Error("daily call check failed", zap.String("user_id", userID.String()), zap.Error(err))
			response.AbortFail(c, apperrors.GetStatusCode(err), apperrors.CodeInternal, "quota check failed", nil)
			return
		}
		if !daily.Allowed {
			abortExceeded(c, daily)
			return
		}

		c.Set(DecisionKey, d)
		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		if _, err := g.RecordCall(ctx, userID); err != nil {
			g.logger.Warn("daily call not counted", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

// RequireFeature denies users whose effective plan does not list the named
// capability.
func (g *Gate) RequireFeature(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == uuid.Nil {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "unauthorized", nil)
			return
		}

		_, p, err := g.plans.EffectivePlan(c.Request.Context(), userID)
		if err != nil {
			g.logger.Error("plan lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
			response.AbortFail(c, apperrors.GetStatusCode(err), apperrors.CodeInternal, "plan lookup failed", nil)
			return
		}
		if !p.HasFeature(name) {
			response.AbortFail(c, http.StatusForbidden, apperrors.CodeFeatureNotAvailable,
				"This feature is not available on your plan. Upgrade to continue.",
				map[string]any{"feature": name, "plan": p.Tier})
			return
		}
		c.Next()
	}
}

func abortExceeded(c *gin.Context, d Decision) {
	response.AbortFail(c, http.StatusForbidden, apperrors.CodeQuotaExceeded,
		"Quota exceeded. Upgrade your plan to continue.",
		map[string]any{
			"feature":      d.Feature,
			"currentUsage": d.CurrentUsage,
			"limit":        d.Limit,
			"remaining":    d.Remaining,
			"plan":         d.Tier,
		})
}
