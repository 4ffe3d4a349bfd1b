// Package handlers provides the HTTP endpoints of the bridge: the MAX
// webhook and the admin API.
//
// This file defines the response helpers shared by every endpoint. Errors
// always use the ErrorResponse envelope; fail logs 5xx responses with the
// request-scoped logger, and failErr maps service errors to a status and
// code in one place.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_configured",
//	  "message": "bot token is not configured"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/max-bridge/internal/http/middleware"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error. Server errors are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps an error from the service layer. fallback is the code used
// for unclassified server errors.
func failErr(c *gin.Context, err error, fallback string) {
	var apiErr *maxapi.APIError
	switch {
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrNotConfigured), errors.Is(err, services.ErrNoWebhookURL),
		errors.Is(err, services.ErrPollUnavailable), errors.Is(err, services.ErrNoSession),
		errors.Is(err, maxapi.ErrNotConfigured):
		fail(c, http.StatusConflict, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.As(err, &apiErr), errors.Is(err, maxapi.ErrTransport), errors.Is(err, maxapi.ErrDecode):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
