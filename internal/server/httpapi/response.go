package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
)

var (
	errRouteNotFound   = fmt.Errorf("%w: route", common.ErrorNotFound)
	errTooManyRequests = errors.New("too many requests, please try again later")
)

// envelope is the body of every response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, common.ErrPasscodeNotConfigured):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

// fail writes the error envelope. Internal errors get a generic message;
// the full chain goes to detail outside production.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := envelope{Success: false, Message: err.Error()}

	if status >= http.StatusInternalServerError {
		body.Message = "internal server error"
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	if !s.production {
		body.Detail = err.Error()
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", common.ErrorBadRequest, err)
}
