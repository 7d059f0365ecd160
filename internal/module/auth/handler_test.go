package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/inkwell/server/internal/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(repo APIKeyRepository, userID uuid.UUID, createMW ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	NewHandler(newTestService(repo)).RegisterRoutes(api, createMW...)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Create(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	userID := uuid.New()
	repo.On("CountActiveByUser", mock.Anything, userID).Return(int64(0), nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	w := do(newRouter(repo, userID), http.MethodPost, "/api/api-keys", `{"name":"My blog"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			Name      string `json:"name"`
			Key       string `json:"key"`
			KeyPrefix string `json:"key_prefix"`
			KeyHash   string `json:"key_hash"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "My blog", body.Data.Name)
	assert.True(t, IsValidAPIKeyFormat(body.Data.Key))
	assert.Equal(t, GetAPIKeyPrefix(body.Data.Key), body.Data.KeyPrefix)
	assert.Empty(t, body.Data.KeyHash)
}

func TestHandler_CreateLimit(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	userID := uuid.New()
	repo.On("CountActiveByUser", mock.Anything, userID).Return(int64(MaxAPIKeysPerUser), nil)

	w := do(newRouter(repo, userID), http.MethodPost, "/api/api-keys", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestHandler_List(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	userID := uuid.New()
	repo.On("ListByUser", mock.Anything, userID).Return(nil, nil)

	w := do(newRouter(repo, userID), http.MethodGet, "/api/api-keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestHandler_Revoke(t *testing.T) {
	userID := uuid.New()
	keyID := uuid.New()

	t.Run("revoked", func(t *testing.T) {
		repo := new(MockAPIKeyRepository)
		repo.On("Deactivate", mock.Anything, keyID, userID).Return(nil)
		w := do(newRouter(repo, userID), http.MethodDelete, "/api/api-keys/"+keyID.String(), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not owned", func(t *testing.T) {
		repo := new(MockAPIKeyRepository)
		repo.On("Deactivate", mock.Anything, keyID, userID).Return(ErrAPIKeyNotFound)
		w := do(newRouter(repo, userID), http.MethodDelete, "/api/api-keys/"+keyID.String(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := do(newRouter(new(MockAPIKeyRepository), userID), http.MethodDelete, "/api/api-keys/nope", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_CreateMiddlewareGuardsCreationOnly(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	userID := uuid.New()
	repo.On("ListByUser", mock.Anything, userID).Return(nil, nil)
	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false})
	}
	r := newRouter(repo, userID, deny)

	w := do(r, http.MethodPost, "/api/api-keys", `{"name":"My blog"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	w = do(r, http.MethodGet, "/api/api-keys", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
