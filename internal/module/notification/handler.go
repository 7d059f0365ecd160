package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
	"github.com/inkwell/server/internal/utils/pagination"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrNotificationNotFound, Status: http.StatusNotFound, Code: apperrors.CodeNotFound},
}

// Handler serves in-app notifications.
type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

// RegisterRoutes registers routes on a JWT-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/notifications")
	{
		g.GET("", h.List)
		g.PATCH("/:id/read", h.MarkRead)
	}
}

// List returns unread notifications, newest first.
//
//	@Summary		List unread notifications
//	@Tags			Notifications
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Max results"	default(10)
//	@Success		200		{object}	response.Envelope{data=[]notification.Record}
//	@Router			/notifications [get]
func (h *Handler) List(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"), pagination.DefaultLimit)
	if err != nil {
		response.ValidationError(c, err.Error(), nil)
		return
	}

	records, err := h.gate.ListUnread(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	if records == nil {
		records = []Record{}
	}
	response.OK(c, records)
}

// MarkRead marks a notification read.
//
//	@Summary		Mark notification read
//	@Tags			Notifications
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Notification ID"
//	@Success		200	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope	"Not found"
//	@Router			/notifications/{id}/read [patch]
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid notification id", nil)
		return
	}

	if err := h.gate.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.Message(c, "Notification marked as read")
}
