package tokenusage

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrMissingAction, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrInvalidTokens, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrInvalidRange, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
	{Err: ErrUserMismatch, Status: http.StatusForbidden, Code: apperrors.CodeForbidden},
}

// Handler serves the token usage API for connected platforms.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPlatformRoutes registers routes on an API-key-authenticated group.
func (h *Handler) RegisterPlatformRoutes(r *gin.RouterGroup) {
	g := r.Group("/token-usage")
	{
		g.POST("/sync", h.Sync)
		g.GET("/stats", h.Stats)
	}
}

// Sync records usage reported by a connected platform.
//
//	@Summary		Sync token usage
//	@Description	API key authenticated. Requires a plan with API access.
//	@Tags			Token Usage
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		tokenusage.SyncRequest	true	"Usage entry"
//	@Success		200		{object}	response.Envelope{data=tokenusage.SyncResponse}
//	@Failure		400		{object}	response.Envelope	"Invalid payload"
//	@Failure		403		{object}	response.Envelope	"User mismatch or feature not available"
//	@Router			/token-usage/sync [post]
func (h *Handler) Sync(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Invalid payload", map[string]any{"errors": []string{err.Error()}})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.ValidationError(c, "Invalid payload", map[string]any{"errors": errs})
		return
	}
	if req.UserID != "" && req.UserID != userID.String() {
		response.HandleError(c, ErrUserMismatch, errorMappings)
		return
	}

	source := req.Source
	if source == "" {
		source = SourceWordPress
	}
	meta := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Timestamp != "" {
		meta["timestamp"] = req.Timestamp
	}
	meta["ip"] = c.ClientIP()
	meta["userAgent"] = c.Request.UserAgent()

	rec, err := h.service.Record(c.Request.Context(), userID, Entry{
		Action:     req.Action,
		Provider:   req.Provider,
		Source:     source,
		TokensUsed: *req.TokensUsed,
		Metadata:   meta,
	})
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.OK(c, SyncResponse{ID: rec.ID.String(), Recorded: true, Timestamp: rec.CreatedAt})
}

// Stats summarizes the key owner's usage.
//
//	@Summary		Token usage stats
//	@Tags			Token Usage
//	@Produce		json
//	@Security		BearerAuth
//	@Param			startDate	query		string	false	"Start date (ISO)"
//	@Param			endDate		query		string	false	"End date (ISO)"
//	@Success		200			{object}	response.Envelope{data=tokenusage.Stats}
//	@Failure		400			{object}	response.Envelope	"Invalid date"
//	@Router			/token-usage/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	start, ok := parseDate(c, "startDate")
	if !ok {
		return
	}
	end, ok := parseDate(c, "endDate")
	if !ok {
		return
	}
	// A bare date as the end bound covers that whole day.
	if !end.IsZero() && end.Equal(end.Truncate(24*time.Hour)) {
		end = end.Add(24 * time.Hour)
	}

	stats, err := h.service.Stats(c.Request.Context(), middleware.GetUserID(c), start, end)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.OK(c, stats)
}

func parseDate(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	response.ValidationError(c, "Invalid "+name+" format. Use ISO date string.", nil)
	return time.Time{}, false
}
