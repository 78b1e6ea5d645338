// Package server exposes the HTTP surface of the service: the chat endpoint,
// the history read/clear endpoints, and a health check, all speaking the JSON
// envelope the chat front ends expect.
package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatkeep/chatkeep/internal/logger"
)

// New creates the configured echo server with routes registered. Responses
// carry permissive CORS headers so any front end origin can talk to the
// service; preflight requests short-circuit with 204.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	h.RegisterRoutes(e)

	return e
}

// errorHandler keeps every error response inside the JSON envelope, including
// echo's own 404/405 for unmatched routes.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if s, ok := httpErr.Message.(string); ok {
			message = s
		} else {
			message = http.StatusText(code)
		}
	}
	// echo's stock messages ("Not Found", ...) get the envelope casing
	if message == http.StatusText(code) {
		message = strings.ToLower(message)
	}

	if err := c.JSON(code, errorResponse{Success: false, Error: message}); err != nil {
		logger.L.Error("failed to write error response", "error", err)
	}
}
