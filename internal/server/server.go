package server

import (
	"errors"
	"net/http"
	"time"

	"eino_session_agent/internal/config"
	"eino_session_agent/src/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// New creates the echo server with middleware and routes registered
func New(cfg config.HTTPConfig, h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.errorHandler

	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
	}))

	h.RegisterRoutes(e)
	return e
}

// requestLogger attaches a request-scoped zerolog logger to the request context
// and logs every completed request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			l := logger.Logger.With().
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Logger()
			c.SetRequest(req.WithContext(l.WithContext(req.Context())))

			l.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Msg("Request received")

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			l.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("Request completed")
			return nil
		}
	}
}

// errorHandler renders framework errors (unknown routes, bad methods, panics) in the API error shape
func (h *Handler) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := "An unexpected error occurred"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}

	if code >= http.StatusInternalServerError {
		logger.Ctx(c.Request().Context()).Error().Err(err).Msg("Unhandled error")
	}

	resp := ErrorResponse{
		Error:     http.StatusText(code),
		Detail:    detail,
		Timestamp: unixSeconds(h.now()),
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}
