package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	errx "github.com/ss2dbx/server/internal/core/error"
	logx "github.com/ss2dbx/server/pkg/logger"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes the error envelope. The status and message come from
// errx so internal details are not leaked.
func RespondError(c *gin.Context, err error) {
	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: errx.MessageOf(err),
			Code:    codeFor(status),
		},
	})
}

// RespondBadRequest reports a request body that could not be decoded.
func RespondBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorEnvelope{
		Error: APIError{Message: "invalid request body: " + err.Error(), Code: "bad_request"},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_error"
	case http.StatusBadGateway:
		return "upstream_error"
	default:
		return "internal_error"
	}
}
