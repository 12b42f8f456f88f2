package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeadersMiddleware セキュリティヘッダーを設定するミドルウェア
func SecurityHeadersMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Response().Header()

			header.Set("X-XSS-Protection", "1; mode=block")
			header.Set("X-Frame-Options", "DENY")
			header.Set("X-Content-Type-Options", "nosniff")

			path := c.Request().URL.Path
			var csp string
			if isSwaggerPath(path) {
				// Swagger UI用: unpkg.comとcdn.jsdelivr.netを許可
				csp = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.jsdelivr.net; style-src 'self' 'unsafe-inline' https://unpkg.com https://fonts.googleapis.com; font-src 'self' https://fonts.gstatic.com; img-src 'self' data: https:;"
			} else {
				csp = "default-src 'none'; frame-ancestors 'none'"
			}
			header.Set("Content-Security-Policy", csp)

			// QRコード画像は入場券そのものなので中間キャッシュに残さない
			if isTicketImagePath(path) {
				header.Set("Cache-Control", "no-store")
				header.Set("Pragma", "no-cache")
			}

			if c.Scheme() == "https" {
				header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			header.Set("Referrer-Policy", "no-referrer")

			return next(c)
		}
	}
}

// isSwaggerPath Swagger関連のパスかどうかを判定
func isSwaggerPath(path string) bool {
	return path == "/swagger" || path == "/redoc" || path == "/openapi.yaml" || strings.HasPrefix(path, "/swagger/")
}

// isTicketImagePath チケット画像のパスかどうかを判定
func isTicketImagePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/tickets/") && strings.HasSuffix(path, "/image")
}
