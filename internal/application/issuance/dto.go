package issuance

import "time"

// VoidTicketRequest チケット無効化リクエスト
type VoidTicketRequest struct {
	TicketID string
	Reason   string
}

// RenderTicketImageRequest チケット画像リクエスト
type RenderTicketImageRequest struct {
	TicketID string
	OwnerID  string // 所有者本人のみ取得可能
}

// TicketResponse チケットのレスポンス
type TicketResponse struct {
	TicketID              string
	EventID               string
	OwnerID               string
	PurchaseTransactionID string
	State                 string
	IssuedAt              time.Time
	ValidUntil            time.Time
	RedeemedAt            *time.Time
	RedeemedByDeviceID    *string
	RedeemedByScannerID   *string
	VoidReason            *string
}
