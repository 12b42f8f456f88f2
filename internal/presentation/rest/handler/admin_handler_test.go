package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	issuanceapp "ticket-wallet/internal/application/issuance"
	"ticket-wallet/internal/domain/transaction"
)

func (f *fixture) routeAdmin() *AdminHandler {
	h := NewAdminHandler(f.wallet, f.ledger)
	f.echo.POST("/admin/transactions/:transaction_id/refund", h.Refund)
	f.echo.GET("/admin/reconciliation", h.ReconcileAll)
	f.echo.GET("/admin/wallets/:wallet_id/reconciliation", h.ReconcileWallet)
	f.echo.POST("/admin/sweep", h.Sweep)
	return h
}

func TestAdminHandler_Refund(t *testing.T) {
	f := newFixture(t)
	f.routeAdmin()
	f.deposit(t, 3000, "dep-1")
	bought := f.purchase(t, "buy-1")
	path := "/admin/transactions/" + bought.Transaction.TransactionID + "/refund"

	t.Run("異常系: 無効化されていないチケットは返金不可", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, nil, nil)
		assertErrorCode(t, rec, http.StatusConflict, "not_refundable")
	})

	t.Run("正常系: 無効化後に返金", func(t *testing.T) {
		_, err := f.issuance.VoidTicket(context.Background(), &issuanceapp.VoidTicketRequest{TicketID: bought.TicketID, Reason: "cancelled"})
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp TransactionResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "refund", resp.TransactionType)
		assert.Equal(t, "3000", resp.Amount)
		require.NotNil(t, resp.RelatedTransactionID)
		assert.Equal(t, bought.Transaction.TransactionID, *resp.RelatedTransactionID)

		// 再実行は同じ返金を返す
		again := f.do(t, http.MethodPost, path, nil, nil)
		require.Equal(t, http.StatusOK, again.Code)
		var second TransactionResponse
		decodeJSON(t, again, &second)
		assert.Equal(t, resp.TransactionID, second.TransactionID)
	})

	t.Run("異常系: 存在しないトランザクション", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/admin/transactions/missing/refund", nil, nil)
		assertErrorCode(t, rec, http.StatusNotFound, "transaction_not_found")
	})
}

func TestAdminHandler_Reconciliation(t *testing.T) {
	f := newFixture(t)
	f.routeAdmin()
	f.deposit(t, 5000, "dep-1")
	f.purchase(t, "buy-1")

	rec := f.do(t, http.MethodGet, "/admin/reconciliation", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all ReconciliationResponse
	decodeJSON(t, rec, &all)
	assert.True(t, all.Consistent)
	require.Len(t, all.Reports, 1)
	assert.Equal(t, int64(2000), all.Reports[0].Balance)
	assert.Equal(t, int64(2000), all.Reports[0].LedgerSum)

	rec = f.do(t, http.MethodGet, "/admin/wallets/wallet-1/reconciliation", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/wallets/missing/reconciliation", nil, nil)
	assertErrorCode(t, rec, http.StatusNotFound, "wallet_not_found")
}

func TestAdminHandler_Sweep(t *testing.T) {
	f := newFixture(t)
	h := f.routeAdmin()
	f.deposit(t, 1000, "dep-1")

	stale := transaction.MustNewTransaction("tx-stale", "wallet-1", transaction.TransactionTypeDeposit, 100, "dep-stale")
	_, err := f.ledger.Append(context.Background(), stale)
	require.NoError(t, err)

	h.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	rec := f.do(t, http.MethodPost, "/admin/sweep", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SweepResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, []string{"tx-stale"}, resp.FailedTransactionIDs)
	require.Len(t, resp.Reports, 1)
	assert.Empty(t, resp.Reports[0].Faults)

	// 2回目は対象なし
	rec = f.do(t, http.MethodPost, "/admin/sweep", nil, nil)
	decodeJSON(t, rec, &resp)
	assert.Empty(t, resp.FailedTransactionIDs)
}
