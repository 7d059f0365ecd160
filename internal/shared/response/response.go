package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/inkwell/server/internal/shared/errors"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the error part of a failed response.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// OK writes a 200 success envelope with data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Message writes a 200 success envelope with a message.
func Message(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: message})
}

// Fail writes a failure envelope.
func Fail(c *gin.Context, status int, code, message string, details map[string]any) {
	c.JSON(status, Envelope{
		Success: false,
		Error:   &ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// AbortFail writes a failure envelope and aborts the handler chain.
func AbortFail(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, Envelope{
		Success: false,
		Error:   &ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// ValidationError writes a 400 VALIDATION_ERROR envelope.
func ValidationError(c *gin.Context, message string, details map[string]any) {
	Fail(c, http.StatusBadRequest, apperrors.CodeValidation, message, details)
}

// ErrorMapping maps a module sentinel to an HTTP response.
type ErrorMapping struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// HandleError writes the response for err. AppErrors are rendered as-is,
// sentinels go through mappings, anything else is a 500.
func HandleError(c *gin.Context, err error, mappings []ErrorMapping) {
	if appErr, ok := apperrors.As(err); ok {
		Fail(c, appErr.StatusCode, appErr.Code, appErr.Message, appErr.Details)
		return
	}

	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			msg := m.Message
			if msg == "" {
				msg = m.Err.Error()
			}
			code := m.Code
			if code == "" {
				code = apperrors.CodeInternal
			}
			Fail(c, m.Status, code, msg, nil)
			return
		}
	}

	Fail(c, apperrors.GetStatusCode(err), apperrors.CodeInternal, "internal error", nil)
}
