package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authapp "ticket-wallet/internal/application/auth"
	"ticket-wallet/internal/infrastructure/config"
)

func newAuthService(secret string) *authapp.AuthApplicationService {
	return authapp.NewAuthApplicationService(&config.JWTConfig{
		Secret:     secret,
		Issuer:     "test-issuer",
		Expiration: time.Hour,
	}, newTestLogger())
}

func issueToken(t *testing.T, svc *authapp.AuthApplicationService, ownerID string) string {
	t.Helper()
	resp, err := svc.GenerateToken(context.Background(), &authapp.GenerateTokenRequest{OwnerID: ownerID})
	require.NoError(t, err)
	return resp.Token
}

func TestAuthInterceptor(t *testing.T) {
	svc := newAuthService("test-secret")
	valid := issueToken(t, svc, "user-1")
	forged := issueToken(t, newAuthService("other-secret"), "user-1")

	tests := []struct {
		name         string
		md           metadata.MD
		expectedCode codes.Code
	}{
		{name: "正常系: 有効なトークン", md: metadata.Pairs("authorization", "Bearer "+valid), expectedCode: codes.OK},
		{name: "異常系: メタデータなし", expectedCode: codes.Unauthenticated},
		{name: "異常系: authorizationなし", md: metadata.Pairs("other", "x"), expectedCode: codes.Unauthenticated},
		{name: "異常系: Bearer以外の形式", md: metadata.Pairs("authorization", "Basic "+valid), expectedCode: codes.Unauthenticated},
		{name: "異常系: 別の鍵で署名", md: metadata.Pairs("authorization", "Bearer "+forged), expectedCode: codes.Unauthenticated},
		{name: "異常系: 不正な形式のトークン", md: metadata.Pairs("authorization", "Bearer not.a.jwt"), expectedCode: codes.Unauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			var gotOwner string
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				gotOwner, _ = OwnerIDFromContext(ctx)
				return "ok", nil
			}

			ic := AuthInterceptor(svc, newTestLogger())
			_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/ticketwallet.v1.WalletService/GetBalance"}, handler)
			if tt.expectedCode == codes.OK {
				require.NoError(t, err)
				assert.Equal(t, "user-1", gotOwner)
				return
			}
			assert.Equal(t, tt.expectedCode, status.Code(err))
			assert.Empty(t, gotOwner)
		})
	}
}

func TestForService(t *testing.T) {
	deny := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return nil, status.Error(codes.PermissionDenied, "denied")
	}
	ic := ForService("ticketwallet.v1.GateService", deny)

	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/ticketwallet.v1.GateService/ScanTicket"}, okHandler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	// 接頭辞が似ているだけの別サービスには適用しない
	resp, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/ticketwallet.v1.GateServiceAdmin/Do"}, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestOwnerIDFromContext(t *testing.T) {
	_, ok := OwnerIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := context.WithValue(context.Background(), ownerIDKey{}, "user-1")
	ownerID, ok := OwnerIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", ownerID)
}
