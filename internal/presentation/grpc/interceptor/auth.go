package interceptor

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authapp "ticket-wallet/internal/application/auth"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

type ownerIDKey struct{}

// TokenVerifier 所有者トークンの検証
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*authapp.VerifiedToken, error)
}

// AuthInterceptor JWT認証インターセプター
func AuthInterceptor(verifier TokenVerifier, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warn(ctx, "Missing authorization header", nil)
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		// Bearerトークンの形式を確認
		parts := strings.SplitN(authHeaders[0], " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			logger.Warn(ctx, "Invalid authorization header format", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		verified, err := verifier.VerifyToken(ctx, parts[1])
		if err != nil {
			logger.Warn(ctx, "Invalid token", map[string]interface{}{
				"error":  err.Error(),
				"method": info.FullMethod,
			})
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(context.WithValue(ctx, ownerIDKey{}, verified.OwnerID), req)
	}
}

// OwnerIDFromContext 認証済みの所有者IDを取得
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDKey{}).(string)
	return ownerID, ok && ownerID != ""
}

// ForService サービス名の接頭辞に一致するメソッドにだけインターセプターを適用する
func ForService(service string, ic grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	prefix := "/" + service + "/"
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		return ic(ctx, req, info, handler)
	}
}
