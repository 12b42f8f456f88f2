package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// LoggingMiddleware ログミドルウェア
// ErrorHandlerMiddlewareの外側に置き、書き込まれたステータスでログレベルを決める
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			logger.Debug(req.Context(), "HTTP request started", map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"remote_addr": req.RemoteAddr,
				"user_agent":  req.UserAgent(),
			})

			err := next(c)

			fields := map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"route":       c.Path(),
				"status_code": c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
				fields["request_id"] = requestID
			}
			if ownerID, ok := OwnerID(c); ok {
				fields["owner_id"] = ownerID
			}

			switch {
			case err != nil:
				logger.Error(c.Request().Context(), "HTTP request failed", err, fields)
			case c.Response().Status >= http.StatusInternalServerError:
				logger.Error(c.Request().Context(), "HTTP request failed", nil, fields)
			case c.Response().Status >= http.StatusBadRequest:
				logger.Warn(c.Request().Context(), "HTTP request rejected", fields)
			default:
				logger.Info(c.Request().Context(), "HTTP request completed", fields)
			}

			return err
		}
	}
}
