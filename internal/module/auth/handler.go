package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/middleware"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrAPIKeyNotFound, Status: http.StatusNotFound, Code: apperrors.CodeNotFound},
	{Err: ErrTooManyAPIKeys, Status: http.StatusBadRequest, Code: apperrors.CodeValidation},
}

// Handler serves API key management for signed-in users.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateAPIKeyRequest names a new key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"max=100"`
}

// RegisterRoutes registers routes on a JWT-authenticated group. Extra
// middleware (the plan capability check) wraps key creation only, so
// downgraded users can still list and revoke their keys.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, createMW ...gin.HandlerFunc) {
	keys := r.Group("/api-keys")
	{
		keys.GET("", h.List)
		keys.POST("", append(append([]gin.HandlerFunc{}, createMW...), h.Create)...)
		keys.DELETE("/:id", h.Revoke)
	}
}

// Create issues an API key. The secret is only returned here.
//
//	@Summary		Create API key
//	@Tags			API Keys
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		auth.CreateAPIKeyRequest	false	"Key name"
//	@Success		201		{object}	response.Envelope{data=auth.CreatedAPIKey}
//	@Failure		400		{object}	response.Envelope	"Too many keys"
//	@Failure		403		{object}	response.Envelope	"Feature not available"
//	@Router			/api-keys [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateAPIKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request body", map[string]any{"error": err.Error()})
			return
		}
	}

	key, err := h.service.CreateAPIKey(c.Request.Context(), middleware.GetUserID(c), req.Name)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusCreated, response.Envelope{Success: true, Data: key})
}

// List returns the caller's API keys.
//
//	@Summary		List API keys
//	@Tags			API Keys
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=[]auth.APIKey}
//	@Router			/api-keys [get]
func (h *Handler) List(c *gin.Context) {
	keys, err := h.service.ListAPIKeys(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	response.OK(c, keys)
}

// Revoke deletes one of the caller's API keys.
//
//	@Summary		Revoke API key
//	@Tags			API Keys
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"API key ID"
//	@Success		200	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope	"Not found"
//	@Router			/api-keys/{id} [delete]
func (h *Handler) Revoke(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid API key id", nil)
		return
	}
	if err := h.service.RevokeAPIKey(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	response.Message(c, "API key revoked")
}
