package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func Error(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// FromError maps a classified error to its HTTP status.
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	Error(c, StatusOf(kind), string(kind), err)
}

func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalid, apperr.KindInvalidParent, apperr.KindParentRequired,
		apperr.KindUnsupported, apperr.KindNoContent:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
