package ledger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
	"ticket-wallet/internal/infrastructure/persistence/memory"
)

type fixture struct {
	store   *memory.Store
	service *LedgerApplicationService
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	logger := otelinfra.NewLogger(otel.Tracer("test"))
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	service := NewLedgerApplicationService(
		store.Transactions(),
		store.Wallets(),
		memory.NewLocker(store),
		logger,
		metrics,
		time.Minute,
		10,
	)
	return &fixture{store: store, service: service, logs: &logs}
}

func (f *fixture) createWallet(t *testing.T, walletID string, balance, deposited, spent int64) {
	t.Helper()
	now := time.Now().UTC()
	w, err := wallet.ReconstructWallet(walletID, "user-1", balance, deposited, spent, 0, now, now)
	require.NoError(t, err)
	require.NoError(t, f.store.Wallets().Create(context.Background(), w))
}

func (f *fixture) appendCompleted(t *testing.T, id string, txType transaction.TransactionType, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.Append(ctx, transaction.MustNewTransaction(id, "wallet-1", txType, amount, "key-"+id))
	require.NoError(t, err)
	_, err = f.service.Finalize(ctx, id, transaction.TransactionStatusCompleted)
	require.NoError(t, err)
}

func TestLedgerApplicationService_Append(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.service.Append(ctx, transaction.MustNewTransaction("tx-1", "wallet-1", transaction.TransactionTypeDeposit, 100, "dep-1"))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)

	_, err = f.service.Append(ctx, transaction.MustNewTransaction("tx-2", "wallet-1", transaction.TransactionTypeDeposit, 100, "dep-1"))
	assert.ErrorIs(t, err, transaction.ErrDuplicateIdempotencyKey)

	done := transaction.MustNewTransaction("tx-3", "wallet-1", transaction.TransactionTypeDeposit, 100, "dep-3")
	_, err = done.Finalize(transaction.TransactionStatusCompleted, time.Now())
	require.NoError(t, err)
	_, err = f.service.Append(ctx, done)
	assert.ErrorIs(t, err, transaction.ErrInvalidOutcome)
}

func TestLedgerApplicationService_Finalize(t *testing.T) {
	tests := []struct {
		name       string
		first      transaction.TransactionStatus
		second     transaction.TransactionStatus
		wantErr    error
		wantStatus transaction.TransactionStatus
	}{
		{
			name:       "正常系: 同じ結果での再確定は冪等",
			first:      transaction.TransactionStatusCompleted,
			second:     transaction.TransactionStatusCompleted,
			wantStatus: transaction.TransactionStatusCompleted,
		},
		{
			name:    "異常系: 異なる結果での再確定は競合",
			first:   transaction.TransactionStatusCompleted,
			second:  transaction.TransactionStatusFailed,
			wantErr: transaction.ErrFinalizeConflict,
		},
		{
			name:    "異常系: pendingへの確定は不可",
			first:   transaction.TransactionStatusFailed,
			second:  transaction.TransactionStatusPending,
			wantErr: transaction.ErrInvalidOutcome,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.service.Append(ctx, transaction.MustNewTransaction("tx-1", "wallet-1", transaction.TransactionTypeWithdrawal, 100, "wd-1"))
			require.NoError(t, err)

			first, err := f.service.Finalize(ctx, "tx-1", tt.first, WithExternalRef("ext-1"))
			require.NoError(t, err)
			assert.Equal(t, tt.first, first.Status())
			require.NotNil(t, first.CompletedAt())

			got, err := f.service.Finalize(ctx, "tx-1", tt.second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status())
			require.NotNil(t, got.ExternalRef())
			assert.Equal(t, "ext-1", *got.ExternalRef())
		})
	}

	t.Run("異常系: 存在しないトランザクション", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Finalize(context.Background(), "missing", transaction.TransactionStatusCompleted)
		assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)
	})
}

func TestLedgerApplicationService_ListByWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"tx-a", "tx-b", "tx-c"} {
		_, err := f.service.Append(ctx, transaction.MustNewTransaction(id, "wallet-1", transaction.TransactionTypeDeposit, 10, "key-"+id))
		require.NoError(t, err)
	}

	txs, err := f.service.ListByWallet(ctx, "wallet-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "tx-a", txs[0].TransactionID())
	assert.Equal(t, "tx-c", txs[2].TransactionID())
}

func TestLedgerApplicationService_Reconcile(t *testing.T) {
	t.Run("正常系: 台帳と残高が一致", func(t *testing.T) {
		f := newFixture(t)
		f.createWallet(t, "wallet-1", 70, 100, 30)
		f.appendCompleted(t, "tx-1", transaction.TransactionTypeDeposit, 100)
		f.appendCompleted(t, "tx-2", transaction.TransactionTypePurchase, 50)
		f.appendCompleted(t, "tx-3", transaction.TransactionTypeRefund, 20)
		_, err := f.service.Append(context.Background(),
			transaction.MustNewTransaction("tx-4", "wallet-1", transaction.TransactionTypeWithdrawal, 999, "key-tx-4"))
		require.NoError(t, err)

		report, err := f.service.Reconcile(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.True(t, report.Consistent())
		assert.Equal(t, int64(70), report.LedgerSum)
		assert.Equal(t, 1, report.PendingCount)
	})

	t.Run("異常系: 不整合は報告のみで修正しない", func(t *testing.T) {
		f := newFixture(t)
		f.createWallet(t, "wallet-1", 120, 100, 0)
		f.appendCompleted(t, "tx-1", transaction.TransactionTypeDeposit, 100)

		report, err := f.service.Reconcile(context.Background(), "wallet-1")
		require.NoError(t, err)
		require.Len(t, report.Faults, 2)
		assert.Equal(t, FaultLedgerMismatch, report.Faults[0].Type)
		assert.Equal(t, FaultInvariantViolation, report.Faults[1].Type)
		assert.Equal(t, int64(100), report.Faults[1].Expected)
		assert.Equal(t, int64(120), report.Faults[1].Actual)
		assert.Equal(t, wallet.ErrInvariantViolation.Error(), report.Faults[1].Message)
		assert.Contains(t, f.logs.String(), "Reconciliation fault detected")

		w, err := f.store.Wallets().FindByWalletID(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.Equal(t, int64(120), w.Balance())
	})

	t.Run("異常系: 累計と残高の不変条件のみ崩れている", func(t *testing.T) {
		f := newFixture(t)
		f.createWallet(t, "wallet-1", 100, 100, 30)
		f.appendCompleted(t, "tx-1", transaction.TransactionTypeDeposit, 100)

		report, err := f.service.Reconcile(context.Background(), "wallet-1")
		require.NoError(t, err)
		require.Len(t, report.Faults, 1)
		assert.Equal(t, FaultInvariantViolation, report.Faults[0].Type)
		assert.Equal(t, int64(70), report.Faults[0].Expected)
	})

	t.Run("異常系: 存在しないウォレット", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Reconcile(context.Background(), "missing")
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func TestLedgerApplicationService_ReconcileAll(t *testing.T) {
	f := newFixture(t)
	f.createWallet(t, "wallet-1", 0, 0, 0)
	f.createWallet(t, "wallet-2", 0, 0, 0)

	reports, err := f.service.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.Consistent())
	}
}

func TestLedgerApplicationService_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createWallet(t, "wallet-1", 0, 0, 0)

	_, err := f.service.Append(ctx, transaction.MustNewTransaction("tx-stale", "wallet-1", transaction.TransactionTypeDeposit, 100, "dep-stale"))
	require.NoError(t, err)
	f.appendCompleted(t, "tx-done", transaction.TransactionTypeDeposit, 50)

	// 期限内のpendingはスイープされない
	result, err := f.service.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, result.FailedTransactionIDs)

	result, err = f.service.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-stale"}, result.FailedTransactionIDs)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "wallet-1", result.Reports[0].WalletID)

	stale, err := f.store.Transactions().FindByTransactionID(ctx, "tx-stale")
	require.NoError(t, err)
	assert.True(t, stale.Status().IsFailed())

	done, err := f.store.Transactions().FindByTransactionID(ctx, "tx-done")
	require.NoError(t, err)
	assert.True(t, done.Status().IsCompleted())

	// 2回目は何もしない
	result, err = f.service.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.FailedTransactionIDs)
}

func TestLedgerApplicationService_Sweep_WithoutWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Append(ctx, transaction.MustNewTransaction("tx-orphan", "wallet-x", transaction.TransactionTypeDeposit, 100, "dep-orphan"))
	require.NoError(t, err)

	result, err := f.service.Sweep(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-orphan"}, result.FailedTransactionIDs)
	assert.Empty(t, result.Reports)
}
