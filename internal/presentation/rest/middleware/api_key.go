package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

const (
	// HeaderAPIKey 管理APIキーのヘッダー
	HeaderAPIKey = "X-API-Key"
	// HeaderDeviceKey 会場端末キーのヘッダー
	HeaderDeviceKey = "X-Device-Key"
)

// APIKeyMiddleware 管理API用のAPIキー認証ミドルウェア
func APIKeyMiddleware(cfg *config.AdminAPIConfig, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return keyMiddleware("Admin API", HeaderAPIKey, cfg.APIKey, cfg.AllowedIPs, logger)
}

// DeviceKeyMiddleware 会場端末（スキャナー）用のキー認証ミドルウェア
func DeviceKeyMiddleware(cfg *config.DeviceAPIConfig, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return keyMiddleware("Device API", HeaderDeviceKey, cfg.APIKey, nil, logger)
}

func keyMiddleware(name, header, expected string, allowedIPs []string, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			// キーが未設定の場合はAPI自体を無効とする
			if expected == "" {
				logger.Warn(ctx, name+" is disabled", nil)
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden",
					Message: name + " is disabled",
				})
			}

			key := c.Request().Header.Get(header)
			if key == "" {
				logger.Warn(ctx, "Missing "+header+" header", nil)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Missing " + header + " header",
				})
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				logger.Warn(ctx, "Invalid key", map[string]interface{}{
					"header": header,
				})
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid API key",
				})
			}

			if len(allowedIPs) > 0 {
				clientIP := getClientIP(c)
				if !isIPAllowed(clientIP, allowedIPs) {
					logger.Warn(ctx, "IP address not allowed", map[string]interface{}{
						"ip": clientIP,
					})
					return c.JSON(http.StatusForbidden, ErrorResponse{
						Error:   "forbidden",
						Message: "IP address not allowed",
					})
				}
			}

			return next(c)
		}
	}
}

// getClientIP クライアントのIPアドレスを取得
func getClientIP(c echo.Context) string {
	// X-Forwarded-Forヘッダーから取得（プロキシ経由の場合）
	if forwardedFor := c.Request().Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	if realIP := c.Request().Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

// isIPAllowed IPアドレスが許可リスト（IPまたはCIDR）に含まれているかチェック
func isIPAllowed(ip string, allowedIPs []string) bool {
	parsed := net.ParseIP(ip)
	for _, allowed := range allowedIPs {
		if ip == allowed {
			return true
		}
		if parsed == nil || !strings.Contains(allowed, "/") {
			continue
		}
		_, network, err := net.ParseCIDR(allowed)
		if err == nil && network.Contains(parsed) {
			return true
		}
	}
	return false
}
