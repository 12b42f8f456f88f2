package interceptor

import (
	"context"
	"crypto/subtle"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

const (
	// MetadataAPIKey 管理APIキーのメタデータ名
	MetadataAPIKey = "x-api-key"
	// MetadataDeviceKey ゲート端末キーのメタデータ名
	MetadataDeviceKey = "x-device-key"
)

// APIKeyInterceptor 管理APIキー認証インターセプター
func APIKeyInterceptor(cfg *config.AdminAPIConfig, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return keyInterceptor("admin", MetadataAPIKey, cfg.APIKey, cfg.AllowedIPs, logger)
}

// DeviceKeyInterceptor ゲート端末キー認証インターセプター
func DeviceKeyInterceptor(cfg *config.DeviceAPIConfig, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return keyInterceptor("device", MetadataDeviceKey, cfg.APIKey, nil, logger)
}

func keyInterceptor(name, key, expected string, allowedIPs []string, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		fields := map[string]interface{}{"api": name, "method": info.FullMethod}

		// キー未設定のAPIは無効
		if expected == "" {
			logger.Warn(ctx, "API is disabled", fields)
			return nil, status.Errorf(codes.PermissionDenied, "%s API is disabled", name)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", fields)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		values := md.Get(key)
		if len(values) == 0 || values[0] == "" {
			logger.Warn(ctx, "Missing key metadata", fields)
			return nil, status.Errorf(codes.Unauthenticated, "missing %s metadata", key)
		}

		if subtle.ConstantTimeCompare([]byte(values[0]), []byte(expected)) != 1 {
			logger.Warn(ctx, "Invalid key", fields)
			return nil, status.Error(codes.Unauthenticated, "invalid key")
		}

		if len(allowedIPs) > 0 {
			clientIP := clientIPFromContext(ctx, md)
			if !isIPAllowed(clientIP, allowedIPs) {
				fields["ip"] = clientIP
				logger.Warn(ctx, "IP address not allowed", fields)
				return nil, status.Error(codes.PermissionDenied, "IP address not allowed")
			}
		}

		return handler(ctx, req)
	}
}

// clientIPFromContext クライアントのIPアドレスを取得
// X-Forwarded-For、X-Real-IP、接続元アドレスの順に参照する
func clientIPFromContext(ctx context.Context, md metadata.MD) string {
	if forwardedFor := md.Get("x-forwarded-for"); len(forwardedFor) > 0 {
		ips := strings.Split(forwardedFor[0], ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := md.Get("x-real-ip"); len(realIP) > 0 {
		return realIP[0]
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err == nil {
			return host
		}
		return p.Addr.String()
	}
	return ""
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
		if _, network, err := net.ParseCIDR(allowed); err == nil && network.Contains(parsed) {
			return true
		}
	}
	return false
}
