package subscription_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(svc *subscription.Service, userID uuid.UUID) *gin.Engine {
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	subscription.NewHandler(svc).RegisterRoutes(api)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, r *gin.Engine, method, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHandler_Status(t *testing.T) {
	svc, _, _ := newService()
	r := newRouter(svc, uuid.New())

	code, env := do(t, r, http.MethodGet, "/api/subscription/status")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	var view subscription.StatusView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "FREE", string(view.Plan))
	assert.True(t, view.IsActive)
	assert.Equal(t, int64(10), view.Limits.Articles)
}

func TestHandler_CancelReactivate(t *testing.T) {
	svc, _, _ := newService()
	r := newRouter(svc, uuid.New())

	code, env := do(t, r, http.MethodPost, "/api/subscription/cancel")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, env.Message)

	code, _ = do(t, r, http.MethodPost, "/api/subscription/reactivate")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_Plans(t *testing.T) {
	svc, _, _ := newService()
	r := newRouter(svc, uuid.Nil)

	code, env := do(t, r, http.MethodGet, "/api/subscription/plans")
	assert.Equal(t, http.StatusOK, code)

	var plans subscription.PlansResponse
	require.NoError(t, json.Unmarshal(env.Data, &plans))
	assert.Len(t, plans.Plans, 3)
}

func TestHandler_Unauthorized(t *testing.T) {
	svc, _, _ := newService()
	r := newRouter(svc, uuid.Nil)

	code, env := do(t, r, http.MethodGet, "/api/subscription/limits")
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}
