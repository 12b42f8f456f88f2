package handler

// DepositRequest 入金リクエスト
// @Description 入金リクエスト（金額は最小通貨単位の整数文字列）
type DepositRequest struct {
	Amount         string `json:"amount" example:"10000"`
	IdempotencyKey string `json:"idempotency_key" example:"deposit-001"`
	ExternalRef    string `json:"external_ref" example:"psp-charge-123"`
}

// WithdrawRequest 出金リクエスト
// @Description 出金リクエスト
type WithdrawRequest struct {
	Amount         string `json:"amount" example:"2000"`
	IdempotencyKey string `json:"idempotency_key" example:"withdraw-001"`
}

// PurchaseRequest チケット購入リクエスト
// @Description チケット購入リクエスト
type PurchaseRequest struct {
	EventID        string `json:"event_id" example:"event-1"`
	IdempotencyKey string `json:"idempotency_key" example:"purchase-001"`
}

// TransactionResponse 台帳トランザクションレスポンス
// @Description 台帳トランザクションレスポンス
type TransactionResponse struct {
	TransactionID        string  `json:"transaction_id" example:"5f0c2f8e-3c1b-4d43-9a57-2f4f0a1c9e11"`
	WalletID             string  `json:"wallet_id" example:"wallet-1"`
	TransactionType      string  `json:"transaction_type" example:"deposit"`
	Amount               string  `json:"amount" example:"10000"`
	AmountDisplay        string  `json:"amount_display" example:"10000 JPY"`
	Status               string  `json:"status" example:"completed"`
	IdempotencyKey       string  `json:"idempotency_key" example:"deposit-001"`
	RelatedTicketID      *string `json:"related_ticket_id,omitempty"`
	RelatedTransactionID *string `json:"related_transaction_id,omitempty"`
	ExternalRef          *string `json:"external_ref,omitempty"`
	CreatedAt            string  `json:"created_at" example:"2024-01-01T12:00:00Z"`
	CompletedAt          *string `json:"completed_at,omitempty"`
	Replayed             bool    `json:"replayed" example:"false"`
}

// PurchaseResponse チケット購入レスポンス
// @Description チケット購入レスポンス
type PurchaseResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	TicketID    string              `json:"ticket_id" example:"0b6a1e9c-1f5c-4a55-b1a4-7ad5c5b3f0e2"`
	EventID     string              `json:"event_id" example:"event-1"`
	TicketState string              `json:"ticket_state" example:"issued"`
	ValidUntil  string              `json:"valid_until" example:"2024-01-02T03:00:00Z"`
	// 購入が返金済みの場合のみ設定される
	RefundTransactionID string `json:"refund_transaction_id,omitempty" example:"c1d2e3f4-0000-4000-8000-000000000000"`
}

// BalanceResponse 残高レスポンス
// @Description 残高レスポンス
type BalanceResponse struct {
	WalletID       string `json:"wallet_id" example:"wallet-1"`
	OwnerID        string `json:"owner_id" example:"user123"`
	Balance        string `json:"balance" example:"7000"`
	TotalDeposited string `json:"total_deposited" example:"10000"`
	TotalSpent     string `json:"total_spent" example:"3000"`
	BalanceDisplay string `json:"balance_display" example:"7000 JPY"`
	Currency       string `json:"currency" example:"JPY"`
	Version        int    `json:"version" example:"3"`
}
