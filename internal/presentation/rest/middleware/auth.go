package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	authapp "ticket-wallet/internal/application/auth"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// ContextKeyOwnerID 認証済み所有者IDのコンテキストキー
const ContextKeyOwnerID = "owner_id"

// TokenVerifier JWTトークンの検証
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*authapp.VerifiedToken, error)
}

// AuthMiddleware JWT認証ミドルウェア
func AuthMiddleware(verifier TokenVerifier, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn(ctx, "Missing authorization header", nil)
				return c.JSON(401, ErrorResponse{
					Error:   "unauthorized",
					Message: "Missing authorization header",
				})
			}

			// Bearerトークンの形式を確認
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Warn(ctx, "Invalid authorization header format", nil)
				return c.JSON(401, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid authorization header format",
				})
			}

			verified, err := verifier.VerifyToken(ctx, parts[1])
			if err != nil {
				logger.Warn(ctx, "Invalid token", map[string]interface{}{
					"error": err.Error(),
				})
				return c.JSON(401, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid or expired token",
				})
			}

			c.Set(ContextKeyOwnerID, verified.OwnerID)
			return next(c)
		}
	}
}

// OwnerID 認証済みの所有者IDを返す
func OwnerID(c echo.Context) (string, bool) {
	ownerID, ok := c.Get(ContextKeyOwnerID).(string)
	return ownerID, ok && ownerID != ""
}
