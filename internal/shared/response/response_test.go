package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errTierMissing = errors.New("tier missing")

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Err: errTierMissing, Status: http.StatusInternalServerError, Code: apperrors.CodeInvalidTier},
	}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"app error", apperrors.QuotaExceeded("limit reached", map[string]any{"limit": 10}), http.StatusForbidden, apperrors.CodeQuotaExceeded},
		{"mapped sentinel", fmt.Errorf("apply: %w", errTierMissing), http.StatusInternalServerError, apperrors.CodeInvalidTier},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			HandleError(c, tt.err, mappings)

			assert.Equal(t, tt.status, w.Code)
			var body Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, gin.H{"url": "https://billing.example"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"url":"https://billing.example"}}`, w.Body.String())
}
