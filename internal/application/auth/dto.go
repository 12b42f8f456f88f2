package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateTokenRequest トークン生成リクエスト
type GenerateTokenRequest struct {
	OwnerID string
}

// GenerateTokenResponse トークン生成レスポンス
type GenerateTokenResponse struct {
	Token     string
	ExpiresIn int64  // 秒単位
	TokenType string // "Bearer"
}

// OwnerClaims ウォレット所有者トークンのクレーム
type OwnerClaims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// VerifiedToken 検証済みトークン
type VerifiedToken struct {
	OwnerID   string
	ExpiresAt time.Time
}
