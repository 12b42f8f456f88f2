package grpc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	authapp "ticket-wallet/internal/application/auth"
	issuanceapp "ticket-wallet/internal/application/issuance"
	ledgerapp "ticket-wallet/internal/application/ledger"
	redemptionapp "ticket-wallet/internal/application/redemption"
	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
	"ticket-wallet/internal/infrastructure/persistence/memory"
	"ticket-wallet/internal/infrastructure/qrcode"
	settlementinfra "ticket-wallet/internal/infrastructure/settlement"
)

const bufSize = 1024 * 1024

type testServer struct {
	conn     *grpc.ClientConn
	store    *memory.Store
	auth     *authapp.AuthApplicationService
	wallet   *walletapp.WalletApplicationService
	payload  []byte
	ticketID string
}

// newTestServer bufconn上でサーバーを起動し、wallet-1でevent-1のチケットを1枚購入しておく
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	logger.SetOutput(&bytes.Buffer{})
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	locker := memory.NewLocker(store)

	now := time.Now().UTC()
	store.Events().Put(event.MustNewEvent("event-1", 1000, now.Add(time.Hour), now.Add(3*time.Hour)))

	codec, err := qrpayload.NewCodec([]byte("grpc-test-secret"))
	require.NoError(t, err)
	imager := qrcode.NewImager(256)

	ledgerService := ledgerapp.NewLedgerApplicationService(store.Transactions(), store.Wallets(), locker, logger, metrics, time.Minute, 10)
	issuanceService := issuanceapp.NewIssuanceApplicationService(store.Tickets(), store.Transactions(), store.Wallets(),
		store.Events(), codec, imager, 6*time.Hour, logger, metrics)
	walletService := walletapp.NewWalletApplicationService(store.Wallets(), store.Transactions(), store.Tickets(), store.Events(),
		locker, ledgerService, settlementinfra.NewInstantGateway(), issuanceService, "JPY", logger, metrics)
	authService := authapp.NewAuthApplicationService(&config.JWTConfig{
		Secret:     "grpc-test-jwt",
		Issuer:     "test-issuer",
		Expiration: time.Hour,
	}, logger)

	cfg := &config.Config{
		DeviceAPI:   config.DeviceAPIConfig{APIKey: "device-key"},
		Environment: "development",
	}

	listener := bufconn.Listen(bufSize)
	server, err := NewServerWithListener(cfg, logger, Services{
		Auth:       authService,
		Wallet:     walletService,
		Redemption: redemptionapp.NewRedemptionApplicationService(store.Tickets(), codec, imager, nil, logger, metrics),
	}, listener, 0)
	require.NoError(t, err)

	go func() {
		_ = server.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	_, err = walletService.Deposit(ctx, &walletapp.DepositRequest{
		WalletID: "wallet-1", OwnerID: "user-1", Amount: 5000, IdempotencyKey: "dep-1",
	})
	require.NoError(t, err)
	bought, err := walletService.Purchase(ctx, &walletapp.PurchaseRequest{
		WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1", IdempotencyKey: "buy-1",
	})
	require.NoError(t, err)
	issued, err := store.Tickets().FindByTicketID(ctx, bought.TicketID)
	require.NoError(t, err)

	return &testServer{
		conn:     conn,
		store:    store,
		auth:     authService,
		wallet:   walletService,
		payload:  issued.Payload(),
		ticketID: bought.TicketID,
	}
}

func (s *testServer) scan(ctx context.Context, fields map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	err = s.conn.Invoke(ctx, "/ticketwallet.v1.GateService/ScanTicket", req, resp)
	return resp, err
}

func withMetadata(kv ...string) context.Context {
	return metadata.NewOutgoingContext(context.Background(), metadata.Pairs(kv...))
}

func TestServer_ScanTicket(t *testing.T) {
	s := newTestServer(t)
	ctx := withMetadata("x-device-key", "device-key")

	resp, err := s.scan(ctx, map[string]interface{}{
		"payload":    string(s.payload),
		"device_id":  "gate-a",
		"scanner_id": "staff-1",
	})
	require.NoError(t, err)
	fields := resp.GetFields()
	assert.Equal(t, "success", fields["outcome"].GetStringValue())
	assert.Equal(t, s.ticketID, fields["ticket_id"].GetStringValue())
	assert.Equal(t, "user-1", fields["owner_id"].GetStringValue())
	assert.Equal(t, "event-1", fields["event_id"].GetStringValue())
	assert.NotEmpty(t, fields["redeemed_at"].GetStringValue())

	// 2回目は入場済み
	resp, err = s.scan(ctx, map[string]interface{}{
		"payload":   string(s.payload),
		"device_id": "gate-b",
	})
	require.NoError(t, err)
	fields = resp.GetFields()
	assert.Equal(t, "already_redeemed", fields["outcome"].GetStringValue())
	assert.NotContains(t, fields, "owner_id")
	assert.NotContains(t, fields, "redeemed_at")
}

func TestServer_ScanTicket_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name         string
		ctx          context.Context
		fields       map[string]interface{}
		expectedCode codes.Code
		outcome      string
	}{
		{
			name:         "異常系: 端末キーなし",
			ctx:          context.Background(),
			fields:       map[string]interface{}{"payload": "x", "device_id": "gate-a"},
			expectedCode: codes.Unauthenticated,
		},
		{
			name:         "異常系: 端末キーが無効",
			ctx:          withMetadata("x-device-key", "wrong"),
			fields:       map[string]interface{}{"payload": "x", "device_id": "gate-a"},
			expectedCode: codes.Unauthenticated,
		},
		{
			name:         "異常系: device_idなし",
			ctx:          withMetadata("x-device-key", "device-key"),
			fields:       map[string]interface{}{"payload": "x"},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:         "異常系: payloadも画像もない",
			ctx:          withMetadata("x-device-key", "device-key"),
			fields:       map[string]interface{}{"device_id": "gate-a"},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:         "異常系: 画像のbase64が不正",
			ctx:          withMetadata("x-device-key", "device-key"),
			fields:       map[string]interface{}{"image_base64": "%%%", "device_id": "gate-a"},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:         "正常系: 壊れたコンテナは判定結果で返す",
			ctx:          withMetadata("x-device-key", "device-key"),
			fields:       map[string]interface{}{"payload": "not-a-container", "device_id": "gate-a"},
			expectedCode: codes.OK,
			outcome:      "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.scan(tt.ctx, tt.fields)
			if tt.expectedCode != codes.OK {
				assert.Equal(t, tt.expectedCode, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, resp.GetFields()["outcome"].GetStringValue())
		})
	}
}

func TestServer_GetBalance(t *testing.T) {
	s := newTestServer(t)
	owner, err := s.auth.GenerateToken(context.Background(), &authapp.GenerateTokenRequest{OwnerID: "user-1"})
	require.NoError(t, err)
	other, err := s.auth.GenerateToken(context.Background(), &authapp.GenerateTokenRequest{OwnerID: "user-2"})
	require.NoError(t, err)

	tests := []struct {
		name         string
		ctx          context.Context
		walletID     string
		expectedCode codes.Code
	}{
		{name: "正常系: 所有者の残高", ctx: withMetadata("authorization", "Bearer "+owner.Token), walletID: "wallet-1", expectedCode: codes.OK},
		{name: "異常系: トークンなし", ctx: context.Background(), walletID: "wallet-1", expectedCode: codes.Unauthenticated},
		{name: "異常系: 他人のウォレット", ctx: withMetadata("authorization", "Bearer "+other.Token), walletID: "wallet-1", expectedCode: codes.PermissionDenied},
		{name: "異常系: 存在しないウォレット", ctx: withMetadata("authorization", "Bearer "+owner.Token), walletID: "wallet-x", expectedCode: codes.NotFound},
		{name: "異常系: wallet_idなし", ctx: withMetadata("authorization", "Bearer "+owner.Token), expectedCode: codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]interface{}{}
			if tt.walletID != "" {
				fields["wallet_id"] = tt.walletID
			}
			req, err := structpb.NewStruct(fields)
			require.NoError(t, err)
			resp := new(structpb.Struct)
			err = s.conn.Invoke(tt.ctx, "/ticketwallet.v1.WalletService/GetBalance", req, resp)
			if tt.expectedCode != codes.OK {
				assert.Equal(t, tt.expectedCode, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "4000", resp.GetFields()["balance"].GetStringValue())
			assert.Equal(t, "5000", resp.GetFields()["total_deposited"].GetStringValue())
			assert.Equal(t, "1000", resp.GetFields()["total_spent"].GetStringValue())
			assert.Equal(t, "JPY", resp.GetFields()["currency"].GetStringValue())
		})
	}
}

func TestServer_HealthCheck(t *testing.T) {
	s := newTestServer(t)
	client := healthpb.NewHealthClient(s.conn)

	// ヘルスチェックは認証不要
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "ticketwallet.v1.GateService"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestServer_Port(t *testing.T) {
	listener := bufconn.Listen(bufSize)
	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	logger.SetOutput(&bytes.Buffer{})
	server, err := NewServerWithListener(&config.Config{}, logger, Services{}, listener, 9090)
	require.NoError(t, err)
	assert.Equal(t, 9090, server.Port())
	require.NoError(t, server.Stop(context.Background()))
}
