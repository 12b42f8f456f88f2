package handler

// TransactionItem トランザクションアイテム
// @Description トランザクションアイテム
type TransactionItem struct {
	TransactionID        string  `json:"transaction_id" example:"5f0c2f8e-3c1b-4d43-9a57-2f4f0a1c9e11"`
	WalletID             string  `json:"wallet_id" example:"wallet-1"`
	TransactionType      string  `json:"transaction_type" example:"purchase"`
	Amount               string  `json:"amount" example:"3000"`
	Status               string  `json:"status" example:"completed"`
	IdempotencyKey       string  `json:"idempotency_key" example:"purchase-001"`
	RelatedTicketID      *string `json:"related_ticket_id,omitempty"`
	RelatedTransactionID *string `json:"related_transaction_id,omitempty"`
	RelatedEventID       *string `json:"related_event_id,omitempty"`
	ExternalRef          *string `json:"external_ref,omitempty"`
	CreatedAt            string  `json:"created_at" example:"2024-01-01T12:00:00Z"`
	CompletedAt          *string `json:"completed_at,omitempty" example:"2024-01-01T12:00:01Z"`
}

// TransactionHistoryResponse トランザクション履歴レスポンス
// @Description トランザクション履歴レスポンス
type TransactionHistoryResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	Limit        int               `json:"limit" example:"50"`
	Offset       int               `json:"offset" example:"0"`
	HasMore      bool              `json:"has_more" example:"false"`
}
