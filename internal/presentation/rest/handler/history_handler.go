package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	historyapp "ticket-wallet/internal/application/history"
	"ticket-wallet/internal/domain/transaction"
	restmiddleware "ticket-wallet/internal/presentation/rest/middleware"
)

// HistoryHandler 履歴関連ハンドラー
type HistoryHandler struct {
	historyService *historyapp.HistoryApplicationService
}

// NewHistoryHandler 新しいHistoryHandlerを作成
func NewHistoryHandler(historyService *historyapp.HistoryApplicationService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
	}
}

// GetTransactionHistory トランザクション履歴取得ハンドラー
// @Summary トランザクション履歴を取得
// @Description ウォレットの台帳を作成順に取得します。ページネーションとフィルタリングに対応しています
// @Tags history
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID" example(wallet-1)
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット（デフォルト: 0)" default(0)
// @Param transaction_type query string false "deposit/withdrawal/purchase/refund"
// @Param status query string false "pending/completed/failed"
// @Success 200 {object} TransactionHistoryResponse "履歴取得成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 401 {object} ErrorResponse "認証エラー"
// @Failure 403 {object} ErrorResponse "他人のウォレット"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Router /wallets/{wallet_id}/transactions [get]
func (h *HistoryHandler) GetTransactionHistory(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	limit := 50
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
		}
	}

	offset := 0
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		var err error
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset parameter")
		}
	}

	resp, err := h.historyService.GetTransactionHistory(c.Request().Context(), &historyapp.GetTransactionHistoryRequest{
		WalletID:        c.Param("wallet_id"),
		OwnerID:         ownerID,
		Limit:           limit,
		Offset:          offset,
		TransactionType: c.QueryParam("transaction_type"),
		Status:          c.QueryParam("status"),
	})
	if err != nil {
		return err
	}

	items := make([]TransactionItem, len(resp.Transactions))
	for i, txn := range resp.Transactions {
		items[i] = toTransactionItem(txn)
	}

	return c.JSON(http.StatusOK, TransactionHistoryResponse{
		Transactions: items,
		Limit:        resp.Limit,
		Offset:       resp.Offset,
		HasMore:      resp.HasMore,
	})
}

func toTransactionItem(txn *transaction.Transaction) TransactionItem {
	item := TransactionItem{
		TransactionID:        txn.TransactionID(),
		WalletID:             txn.WalletID(),
		TransactionType:      txn.TransactionType().String(),
		Amount:               strconv.FormatInt(txn.Amount(), 10),
		Status:               txn.Status().String(),
		IdempotencyKey:       txn.IdempotencyKey(),
		RelatedTicketID:      txn.RelatedTicketID(),
		RelatedTransactionID: txn.RelatedTransactionID(),
		RelatedEventID:       txn.RelatedEventID(),
		ExternalRef:          txn.ExternalRef(),
		CreatedAt:            txn.CreatedAt().Format(time.RFC3339),
	}
	if at := txn.CompletedAt(); at != nil {
		s := at.Format(time.RFC3339)
		item.CompletedAt = &s
	}
	return item
}
