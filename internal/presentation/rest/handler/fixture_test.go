package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	authapp "ticket-wallet/internal/application/auth"
	historyapp "ticket-wallet/internal/application/history"
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
	restmiddleware "ticket-wallet/internal/presentation/rest/middleware"
)

type fixture struct {
	store      *memory.Store
	codec      *qrpayload.Codec
	imager     *qrcode.Imager
	auth       *authapp.AuthApplicationService
	ledger     *ledgerapp.LedgerApplicationService
	history    *historyapp.HistoryApplicationService
	issuance   *issuanceapp.IssuanceApplicationService
	redemption *redemptionapp.RedemptionApplicationService
	wallet     *walletapp.WalletApplicationService
	echo       *echo.Echo
}

// newFixture インメモリストア上に全サービスを組み立てる
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	logger.SetOutput(&bytes.Buffer{})
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	locker := memory.NewLocker(store)

	now := time.Now().UTC()
	store.Events().Put(event.MustNewEvent("event-1", 3000, now.Add(time.Hour), now.Add(3*time.Hour)))

	codec, err := qrpayload.NewCodec([]byte("handler-test-secret"))
	require.NoError(t, err)
	imager := qrcode.NewImager(256)

	ledgerService := ledgerapp.NewLedgerApplicationService(store.Transactions(), store.Wallets(), locker, logger, metrics, time.Minute, 10)
	issuanceService := issuanceapp.NewIssuanceApplicationService(store.Tickets(), store.Transactions(), store.Wallets(),
		store.Events(), codec, imager, 6*time.Hour, logger, metrics)
	redemptionService := redemptionapp.NewRedemptionApplicationService(store.Tickets(), codec, imager, nil, logger, metrics)
	walletService := walletapp.NewWalletApplicationService(store.Wallets(), store.Transactions(), store.Tickets(), store.Events(),
		locker, ledgerService, settlementinfra.NewInstantGateway(), issuanceService, "JPY", logger, metrics)

	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))

	return &fixture{
		store:  store,
		codec:  codec,
		imager: imager,
		auth: authapp.NewAuthApplicationService(&config.JWTConfig{
			Secret:     "handler-test-jwt",
			Issuer:     "test-issuer",
			Expiration: time.Hour,
		}, logger),
		ledger:     ledgerService,
		history:    historyapp.NewHistoryApplicationService(store.Wallets(), store.Transactions(), logger, metrics),
		issuance:   issuanceService,
		redemption: redemptionService,
		wallet:     walletService,
		echo:       e,
	}
}

// asOwner トークン検証済みの所有者としてハンドラーを呼ぶ
func asOwner(ownerID string, h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ownerID != "" {
			c.Set(restmiddleware.ContextKeyOwnerID, ownerID)
		}
		return h(c)
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if _, raw := body.([]byte); !raw {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

// deposit wallet-1（所有者user-1）に入金する
func (f *fixture) deposit(t *testing.T, amount int64, key string) {
	t.Helper()
	_, err := f.wallet.Deposit(context.Background(), &walletapp.DepositRequest{
		WalletID:       "wallet-1",
		OwnerID:        "user-1",
		Amount:         amount,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
}

// purchase wallet-1でevent-1のチケットを購入する
func (f *fixture) purchase(t *testing.T, key string) *walletapp.PurchaseResponse {
	t.Helper()
	resp, err := f.wallet.Purchase(context.Background(), &walletapp.PurchaseRequest{
		WalletID:       "wallet-1",
		OwnerID:        "user-1",
		EventID:        "event-1",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	if code == "" {
		return
	}
	var body ErrorResponse
	decodeJSON(t, rec, &body)
	require.Equal(t, code, body.Error)
}
