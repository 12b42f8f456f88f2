package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

var (
	// ErrOwnerIDRequired 所有者IDが指定されていない
	ErrOwnerIDRequired = errors.New("owner_id is required")
	// ErrInvalidToken トークンが無効または期限切れ
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AuthApplicationService 認証アプリケーションサービス
type AuthApplicationService struct {
	jwtConfig *config.JWTConfig
	logger    *otelinfra.Logger
	now       func() time.Time
}

// NewAuthApplicationService 新しいAuthApplicationServiceを作成
func NewAuthApplicationService(jwtConfig *config.JWTConfig, logger *otelinfra.Logger) *AuthApplicationService {
	return &AuthApplicationService{
		jwtConfig: jwtConfig,
		logger:    logger,
		now:       time.Now,
	}
}

// GenerateToken ウォレット所有者のJWTトークンを生成
func (s *AuthApplicationService) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "AuthApplicationService.GenerateToken")
	defer span.End()

	span.SetAttributes(
		attribute.String("owner_id", req.OwnerID),
	)

	if req.OwnerID == "" {
		span.RecordError(ErrOwnerIDRequired)
		span.SetStatus(codes.Error, ErrOwnerIDRequired.Error())
		s.logger.Error(ctx, "Owner ID is required", ErrOwnerIDRequired, nil)
		return nil, ErrOwnerIDRequired
	}

	now := s.now()
	expiresAt := now.Add(s.jwtConfig.Expiration)

	claims := OwnerClaims{
		OwnerID: req.OwnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.OwnerID,
			Issuer:    s.jwtConfig.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "Failed to generate token", err, map[string]interface{}{
			"owner_id": req.OwnerID,
		})
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info(ctx, "Token generated successfully", map[string]interface{}{
		"owner_id":   req.OwnerID,
		"expires_at": expiresAt.Unix(),
	})

	return &GenerateTokenResponse{
		Token:     tokenString,
		ExpiresIn: int64(s.jwtConfig.Expiration.Seconds()),
		TokenType: "Bearer",
	}, nil
}

// VerifyToken トークンを検証し所有者IDを返す
// HMAC以外の署名、発行者の不一致、期限切れはErrInvalidToken
func (s *AuthApplicationService) VerifyToken(ctx context.Context, tokenString string) (*VerifiedToken, error) {
	tracer := otel.Tracer("auth-service")
	_, span := tracer.Start(ctx, "AuthApplicationService.VerifyToken")
	defer span.End()

	claims := &OwnerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtConfig.Secret), nil
	},
		jwt.WithIssuer(s.jwtConfig.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		if err == nil {
			err = ErrInvalidToken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.OwnerID == "" {
		span.SetStatus(codes.Error, "missing owner_id")
		return nil, fmt.Errorf("%w: missing owner_id", ErrInvalidToken)
	}

	span.SetAttributes(attribute.String("owner_id", claims.OwnerID))
	return &VerifiedToken{
		OwnerID:   claims.OwnerID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
