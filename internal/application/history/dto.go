package history

import "ticket-wallet/internal/domain/transaction"

// GetTransactionHistoryRequest トランザクション履歴取得リクエスト
type GetTransactionHistoryRequest struct {
	WalletID        string
	OwnerID         string
	Limit           int
	Offset          int
	TransactionType string // optional: "deposit", "withdrawal", "purchase", "refund"
	Status          string // optional: "pending", "completed", "failed"
}

// GetTransactionHistoryResponse トランザクション履歴取得レスポンス
type GetTransactionHistoryResponse struct {
	Transactions []*transaction.Transaction
	Limit        int
	Offset       int
	HasMore      bool
}
