package wallet

import "time"

// DepositRequest 入金リクエスト
type DepositRequest struct {
	WalletID       string
	OwnerID        string
	Amount         int64 // 最小通貨単位
	IdempotencyKey string
	ExternalRef    string
}

// WithdrawRequest 出金リクエスト
type WithdrawRequest struct {
	WalletID       string
	OwnerID        string
	Amount         int64
	IdempotencyKey string // 省略時は生成
}

// PurchaseRequest チケット購入リクエスト
type PurchaseRequest struct {
	WalletID       string
	OwnerID        string
	EventID        string
	IdempotencyKey string // 省略時は生成
}

// RefundRequest 返金リクエスト（管理操作）
type RefundRequest struct {
	TransactionID string // 返金対象の購入トランザクション
}

// GetBalanceRequest 残高取得リクエスト
type GetBalanceRequest struct {
	WalletID string
	OwnerID  string
}

// TransactionResponse 台帳トランザクションのレスポンス
type TransactionResponse struct {
	TransactionID        string
	WalletID             string
	TransactionType      string
	Amount               int64
	AmountDisplay        string
	Status               string
	IdempotencyKey       string
	RelatedTicketID      *string
	RelatedTransactionID *string
	ExternalRef          *string
	CreatedAt            time.Time
	CompletedAt          *time.Time
	Replayed             bool // 冪等キーの再送で既存の結果を返した場合true
}

// PurchaseResponse チケット購入レスポンス
type PurchaseResponse struct {
	Transaction *TransactionResponse
	TicketID    string
	EventID     string
	TicketState string
	ValidUntil  time.Time
	// RefundTransactionID 購入が返金済みの場合の返金トランザクションID
	RefundTransactionID string
}

// BalanceResponse 残高レスポンス
type BalanceResponse struct {
	WalletID       string
	OwnerID        string
	Balance        int64
	TotalDeposited int64
	TotalSpent     int64
	BalanceDisplay string
	Currency       string
	Version        int
}
