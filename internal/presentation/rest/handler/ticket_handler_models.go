package handler

// TicketItem チケットアイテム
// @Description チケットアイテム
type TicketItem struct {
	TicketID              string  `json:"ticket_id" example:"0b6a1e9c-1f5c-4a55-b1a4-7ad5c5b3f0e2"`
	EventID               string  `json:"event_id" example:"event-1"`
	OwnerID               string  `json:"owner_id" example:"user123"`
	PurchaseTransactionID string  `json:"purchase_transaction_id" example:"5f0c2f8e-3c1b-4d43-9a57-2f4f0a1c9e11"`
	State                 string  `json:"state" example:"issued" enums:"issued,redeemed,void,expired"`
	IssuedAt              string  `json:"issued_at" example:"2024-01-01T12:00:00Z"`
	ValidUntil            string  `json:"valid_until" example:"2024-01-02T03:00:00Z"`
	RedeemedAt            *string `json:"redeemed_at,omitempty"`
	RedeemedByDeviceID    *string `json:"redeemed_by_device_id,omitempty"`
	RedeemedByScannerID   *string `json:"redeemed_by_scanner_id,omitempty"`
	VoidReason            *string `json:"void_reason,omitempty"`
}

// VoidTicketRequest チケット無効化リクエスト
// @Description チケット無効化リクエスト
type VoidTicketRequest struct {
	Reason string `json:"reason" example:"event cancelled"`
}

// TicketListResponse チケット一覧レスポンス
// @Description チケット一覧レスポンス
type TicketListResponse struct {
	EventID string       `json:"event_id" example:"event-1"`
	Tickets []TicketItem `json:"tickets"`
}
