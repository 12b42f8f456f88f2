package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ticket-wallet/internal/application/issuance"
	"ticket-wallet/internal/application/ledger"
	"ticket-wallet/internal/application/redemption"
	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/settlement"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
	"ticket-wallet/internal/infrastructure/persistence/memory"
	"ticket-wallet/internal/infrastructure/qrcode"
	settlementinfra "ticket-wallet/internal/infrastructure/settlement"
)

// MockGateway モック外部決済
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Collect(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(settlement.Result), args.Error(1)
}

func (m *MockGateway) Payout(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(settlement.Result), args.Error(1)
}

// MockTicketIssuer モックチケット発行
type MockTicketIssuer struct {
	mock.Mock
}

func (m *MockTicketIssuer) IssueTicket(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	args := m.Called(ctx, purchaseTransactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ticket.Ticket), args.Error(1)
}

// flakyIssuer 最初のfailures回だけ失敗し、以降はnextに委譲する
type flakyIssuer struct {
	failures int
	calls    int
	next     TicketIssuer
}

func (i *flakyIssuer) IssueTicket(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	i.calls++
	if i.calls <= i.failures {
		return nil, errors.New("ticket store unavailable")
	}
	return i.next.IssueTicket(ctx, purchaseTransactionID)
}

type fixture struct {
	store      *memory.Store
	ledger     *ledger.LedgerApplicationService
	issuance   *issuance.IssuanceApplicationService
	redemption *redemption.RedemptionApplicationService
	service    *WalletApplicationService
}

// newFixture gatewayとissuerがnilの場合は即時決済と実際の発行サービスを使う
func newFixture(t *testing.T, gateway settlement.Gateway, issuer TicketIssuer) *fixture {
	t.Helper()
	store := memory.New()
	logger := otelinfra.NewLogger(otel.Tracer("test"))
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	locker := memory.NewLocker(store)

	now := time.Now().UTC()
	store.Events().Put(event.MustNewEvent("event-1", 3000, now.Add(time.Hour), now.Add(3*time.Hour)))
	store.Events().Put(event.MustNewEvent("event-past", 1000, now.Add(-3*time.Hour), now.Add(-time.Hour)))

	codec, err := qrpayload.NewCodec([]byte("wallet-test-secret"))
	require.NoError(t, err)
	imager := qrcode.NewImager(256)

	ledgerService := ledger.NewLedgerApplicationService(store.Transactions(), store.Wallets(), locker, logger, metrics, time.Minute, 10)
	issuanceService := issuance.NewIssuanceApplicationService(store.Tickets(), store.Transactions(), store.Wallets(),
		store.Events(), codec, imager, time.Hour, logger, metrics)
	redemptionService := redemption.NewRedemptionApplicationService(store.Tickets(), codec, imager, nil, logger, metrics)

	if gateway == nil {
		gateway = settlementinfra.NewInstantGateway()
	}
	if issuer == nil {
		issuer = issuanceService
	}

	service := NewWalletApplicationService(
		store.Wallets(),
		store.Transactions(),
		store.Tickets(),
		store.Events(),
		locker,
		ledgerService,
		gateway,
		issuer,
		"JPY",
		logger,
		metrics,
	)
	return &fixture{store: store, ledger: ledgerService, issuance: issuanceService, redemption: redemptionService, service: service}
}

func (f *fixture) deposit(t *testing.T, amount int64, key string) *TransactionResponse {
	t.Helper()
	resp, err := f.service.Deposit(context.Background(), &DepositRequest{
		WalletID:       "wallet-1",
		OwnerID:        "user-1",
		Amount:         amount,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) balance(t *testing.T) *BalanceResponse {
	t.Helper()
	resp, err := f.service.GetBalance(context.Background(), &GetBalanceRequest{WalletID: "wallet-1", OwnerID: "user-1"})
	require.NoError(t, err)
	return resp
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := f.ledger.Reconcile(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "faults: %+v", report.Faults)
	assert.Equal(t, report.Balance, report.TotalDeposited-report.TotalSpent)
}

func TestWalletApplicationService_EntryToVenue(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	dep := f.deposit(t, 5000, "dep-1")
	assert.Equal(t, "completed", dep.Status)
	assert.Equal(t, "instant-collect-"+dep.TransactionID, *dep.ExternalRef)
	bal := f.balance(t)
	assert.Equal(t, int64(5000), bal.Balance)
	assert.Equal(t, int64(5000), bal.TotalDeposited)
	assert.Equal(t, "5000", bal.BalanceDisplay)

	purchase, err := f.service.Purchase(ctx, &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1"})
	require.NoError(t, err)
	assert.Equal(t, "issued", purchase.TicketState)
	assert.Equal(t, int64(3000), purchase.Transaction.Amount)
	assert.Equal(t, int64(2000), f.balance(t).Balance)

	tk, err := f.store.Tickets().FindByTicketID(ctx, purchase.TicketID)
	require.NoError(t, err)

	first, err := f.redemption.ValidateScan(ctx, &redemption.ValidateScanRequest{Payload: tk.Payload(), DeviceID: "gate-1"})
	require.NoError(t, err)
	assert.Equal(t, redemption.OutcomeSuccess, first.Outcome)

	second, err := f.redemption.ValidateScan(ctx, &redemption.ValidateScanRequest{Payload: tk.Payload(), DeviceID: "gate-2"})
	require.NoError(t, err)
	assert.Equal(t, redemption.OutcomeAlreadyRedeemed, second.Outcome)

	f.assertConsistent(t)
}

func TestWalletApplicationService_Withdraw_InsufficientFunds(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Collect", mock.Anything, mock.Anything).Return(settlement.Result{Reference: "psp-1"}, nil)
	f := newFixture(t, gw, nil)
	ctx := context.Background()
	f.deposit(t, 2000, "dep-1")

	resp, err := f.service.Withdraw(ctx, &WithdrawRequest{WalletID: "wallet-1", OwnerID: "user-1", Amount: 5000, IdempotencyKey: "wd-1"})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Nil(t, resp)
	assert.Equal(t, int64(2000), f.balance(t).Balance)
	gw.AssertNotCalled(t, "Payout", mock.Anything, mock.Anything)

	// 失敗した出金も監査記録として残る
	failed, err := f.store.Transactions().FindByIdempotencyKey(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.TransactionStatusFailed, failed.Status())
	assert.Equal(t, transaction.TransactionTypeWithdrawal, failed.TransactionType())

	f.assertConsistent(t)
}

func TestWalletApplicationService_Deposit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		key     string
		wantErr error
	}{
		{name: "異常系: 0円の入金", amount: 0, key: "dep-0", wantErr: transaction.ErrInvalidAmount},
		{name: "異常系: 負の入金", amount: -100, key: "dep-neg", wantErr: transaction.ErrInvalidAmount},
		{name: "異常系: 上限超過", amount: transaction.MaxAmount + 1, key: "dep-max", wantErr: transaction.ErrAmountTooLarge},
		{name: "異常系: 冪等キーなし", amount: 100, key: "", wantErr: transaction.ErrInvalidIdempotencyKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			f := newFixture(t, gw, nil)

			resp, err := f.service.Deposit(context.Background(), &DepositRequest{
				WalletID: "wallet-1", OwnerID: "user-1", Amount: tt.amount, IdempotencyKey: tt.key,
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, resp)
			gw.AssertNotCalled(t, "Collect", mock.Anything, mock.Anything)

			txs, err := f.store.Transactions().FindByWalletID(context.Background(), "wallet-1", 0, 0)
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}

func TestWalletApplicationService_Purchase_IssuanceFailureRefunds(t *testing.T) {
	issuer := new(MockTicketIssuer)
	issuer.On("IssueTicket", mock.Anything, mock.Anything).Return(nil, errors.New("ticket store unavailable"))
	f := newFixture(t, nil, issuer)
	ctx := context.Background()
	f.deposit(t, 5000, "dep-1")

	resp, err := f.service.Purchase(ctx, &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1", IdempotencyKey: "buy-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket store unavailable")
	assert.Nil(t, resp)

	bal := f.balance(t)
	assert.Equal(t, int64(5000), bal.Balance)
	assert.Equal(t, int64(0), bal.TotalSpent)

	purchase, err := f.store.Transactions().FindByIdempotencyKey(ctx, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.TransactionStatusCompleted, purchase.Status())

	refund, err := f.store.Transactions().FindByIdempotencyKey(ctx, "refund:"+purchase.TransactionID())
	require.NoError(t, err)
	assert.Equal(t, transaction.TransactionTypeRefund, refund.TransactionType())
	assert.Equal(t, transaction.TransactionStatusCompleted, refund.Status())
	require.NotNil(t, refund.RelatedTransactionID())
	assert.Equal(t, purchase.TransactionID(), *refund.RelatedTransactionID())

	f.assertConsistent(t)
}

func TestWalletApplicationService_Purchase_ReplayAfterIssuanceFailure(t *testing.T) {
	issuer := &flakyIssuer{failures: 1}
	f := newFixture(t, nil, issuer)
	issuer.next = f.issuance
	ctx := context.Background()
	f.deposit(t, 5000, "dep-1")

	req := &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1", IdempotencyKey: "buy-1"}
	_, err := f.service.Purchase(ctx, req)
	require.Error(t, err)

	// 同じ冪等キーで再送しても返金済みの購入にはチケットを発行しない
	resp, err := f.service.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Transaction.Replayed)
	assert.Empty(t, resp.TicketID)
	assert.Equal(t, "event-1", resp.EventID)
	assert.Equal(t, 1, issuer.calls)

	refund, err := f.store.Transactions().FindByIdempotencyKey(ctx, transaction.RefundIdempotencyKey(resp.Transaction.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, refund.TransactionID(), resp.RefundTransactionID)

	bal := f.balance(t)
	assert.Equal(t, int64(5000), bal.Balance)
	assert.Equal(t, int64(0), bal.TotalSpent)

	_, err = f.store.Tickets().FindByPurchaseTransactionID(ctx, resp.Transaction.TransactionID)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)

	_, err = f.issuance.IssueTicket(ctx, resp.Transaction.TransactionID)
	assert.ErrorIs(t, err, ticket.ErrInvalidState)

	f.assertConsistent(t)
}

func TestWalletApplicationService_Purchase_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     *PurchaseRequest
		wantErr error
	}{
		{
			name:    "異常系: 残高不足",
			req:     &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1", IdempotencyKey: "buy-1"},
			wantErr: wallet.ErrInsufficientFunds,
		},
		{
			name:    "異常系: 存在しないイベント",
			req:     &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-x"},
			wantErr: event.ErrEventNotFound,
		},
		{
			name:    "異常系: 終了したイベント",
			req:     &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-past"},
			wantErr: event.ErrEventClosed,
		},
		{
			name:    "異常系: 他人のウォレット",
			req:     &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-2", EventID: "event-1"},
			wantErr: wallet.ErrOwnerMismatch,
		},
		{
			name:    "異常系: ウォレットが存在しない",
			req:     &PurchaseRequest{WalletID: "wallet-9", OwnerID: "user-1", EventID: "event-1"},
			wantErr: wallet.ErrWalletNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.deposit(t, 1000, "dep-1")

			resp, err := f.service.Purchase(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, resp)
			assert.Equal(t, int64(1000), f.balance(t).Balance)

			tickets, err := f.store.Tickets().FindByEventID(context.Background(), "event-1")
			require.NoError(t, err)
			assert.Empty(t, tickets)
			f.assertConsistent(t)
		})
	}
}

func TestWalletApplicationService_Purchase_Replay(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.deposit(t, 10000, "dep-1")

	req := &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1", IdempotencyKey: "buy-1"}
	first, err := f.service.Purchase(ctx, req)
	require.NoError(t, err)
	second, err := f.service.Purchase(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Transaction.Replayed)
	assert.Equal(t, first.Transaction.TransactionID, second.Transaction.TransactionID)
	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, int64(7000), f.balance(t).Balance)
}

func TestWalletApplicationService_Deposit_Replay(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Collect", mock.Anything, mock.Anything).Return(settlement.Result{Reference: "psp-1"}, nil).Once()
	f := newFixture(t, gw, nil)
	ctx := context.Background()

	first := f.deposit(t, 500, "dep-1")
	second := f.deposit(t, 500, "dep-1")
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(500), f.balance(t).Balance)
	gw.AssertNumberOfCalls(t, "Collect", 1)

	_, err := f.service.Deposit(ctx, &DepositRequest{WalletID: "wallet-1", OwnerID: "user-1", Amount: 700, IdempotencyKey: "dep-1"})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)

	_, err = f.service.Deposit(ctx, &DepositRequest{WalletID: "wallet-1", OwnerID: "user-2", Amount: 500, IdempotencyKey: "dep-1"})
	assert.ErrorIs(t, err, wallet.ErrOwnerMismatch)
}

func TestWalletApplicationService_Deposit_SettlementFailure(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Collect", mock.Anything, mock.Anything).
		Return(settlement.Result{}, fmt.Errorf("%w: card declined", settlement.ErrExternalSettlementFailure))
	f := newFixture(t, gw, nil)
	ctx := context.Background()

	resp, err := f.service.Deposit(ctx, &DepositRequest{WalletID: "wallet-1", OwnerID: "user-1", Amount: 500, IdempotencyKey: "dep-1"})
	assert.ErrorIs(t, err, settlement.ErrExternalSettlementFailure)
	assert.Nil(t, resp)

	bal := f.balance(t)
	assert.Equal(t, int64(0), bal.Balance)
	assert.Equal(t, int64(0), bal.TotalDeposited)

	failed, err := f.store.Transactions().FindByIdempotencyKey(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.TransactionStatusFailed, failed.Status())
	f.assertConsistent(t)
}

func TestWalletApplicationService_Withdraw(t *testing.T) {
	tests := []struct {
		name        string
		payoutErr   error
		wantErr     error
		wantBalance int64
		wantStatus  transaction.TransactionStatus
	}{
		{
			name:        "正常系: 出金",
			wantBalance: 1500,
			wantStatus:  transaction.TransactionStatusCompleted,
		},
		{
			name:        "異常系: 外部決済の失敗",
			payoutErr:   errors.New("connection reset"),
			wantErr:     settlement.ErrExternalSettlementFailure,
			wantBalance: 2000,
			wantStatus:  transaction.TransactionStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			gw.On("Collect", mock.Anything, mock.Anything).Return(settlement.Result{Reference: "in-1"}, nil)
			gw.On("Payout", mock.Anything, mock.MatchedBy(func(req settlement.Request) bool {
				return req.Amount == 500 && req.Currency == "JPY" && req.OwnerID == "user-1"
			})).Return(settlement.Result{Reference: "out-1"}, tt.payoutErr)
			f := newFixture(t, gw, nil)
			ctx := context.Background()
			f.deposit(t, 2000, "dep-1")

			resp, err := f.service.Withdraw(ctx, &WithdrawRequest{WalletID: "wallet-1", OwnerID: "user-1", Amount: 500, IdempotencyKey: "wd-1"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "out-1", *resp.ExternalRef)
			}

			bal := f.balance(t)
			assert.Equal(t, tt.wantBalance, bal.Balance)
			stored, err := f.store.Transactions().FindByIdempotencyKey(ctx, "wd-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status())
			f.assertConsistent(t)
			gw.AssertExpectations(t)
		})
	}
}

func TestWalletApplicationService_Refund(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.deposit(t, 5000, "dep-1")

	purchase, err := f.service.Purchase(ctx, &PurchaseRequest{WalletID: "wallet-1", OwnerID: "user-1", EventID: "event-1"})
	require.NoError(t, err)

	// 有効なチケットの購入は返金できない
	_, err = f.service.Refund(ctx, &RefundRequest{TransactionID: purchase.Transaction.TransactionID})
	assert.ErrorIs(t, err, ErrNotRefundable)
	assert.ErrorIs(t, err, ticket.ErrInvalidState)

	_, err = f.issuance.VoidTicket(ctx, &issuance.VoidTicketRequest{TicketID: purchase.TicketID, Reason: "cancelled"})
	require.NoError(t, err)

	refund, err := f.service.Refund(ctx, &RefundRequest{TransactionID: purchase.Transaction.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, "refund", refund.TransactionType)
	assert.Equal(t, int64(3000), refund.Amount)
	require.NotNil(t, refund.RelatedTicketID)
	assert.Equal(t, purchase.TicketID, *refund.RelatedTicketID)

	again, err := f.service.Refund(ctx, &RefundRequest{TransactionID: purchase.Transaction.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, refund.TransactionID, again.TransactionID)

	bal := f.balance(t)
	assert.Equal(t, int64(5000), bal.Balance)
	assert.Equal(t, int64(0), bal.TotalSpent)
	f.assertConsistent(t)

	dep, err := f.store.Transactions().FindByIdempotencyKey(ctx, "dep-1")
	require.NoError(t, err)
	_, err = f.service.Refund(ctx, &RefundRequest{TransactionID: dep.TransactionID()})
	assert.ErrorIs(t, err, ErrNotRefundable)

	_, err = f.service.Refund(ctx, &RefundRequest{TransactionID: "missing"})
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)
}

func TestWalletApplicationService_GetBalance(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.service.GetBalance(ctx, &GetBalanceRequest{WalletID: "wallet-1", OwnerID: "user-1"})
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

	f.deposit(t, 1234, "dep-1")
	_, err = f.service.GetBalance(ctx, &GetBalanceRequest{WalletID: "wallet-1", OwnerID: "user-2"})
	assert.ErrorIs(t, err, wallet.ErrOwnerMismatch)

	bal := f.balance(t)
	assert.Equal(t, "JPY", bal.Currency)
	assert.Equal(t, "1234", bal.BalanceDisplay)
}

func TestWalletApplicationService_ConcurrentPurchases(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.deposit(t, 10000, "dep-1")

	const buyers = 8
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Purchase(ctx, &PurchaseRequest{
				WalletID:       "wallet-1",
				OwnerID:        "user-1",
				EventID:        "event-1",
				IdempotencyKey: fmt.Sprintf("buy-%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	}
	assert.Equal(t, 3, succeeded)

	bal := f.balance(t)
	assert.Equal(t, int64(1000), bal.Balance)
	assert.Equal(t, int64(9000), bal.TotalSpent)

	tickets, err := f.store.Tickets().FindByEventID(ctx, "event-1")
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
	f.assertConsistent(t)
}
