package handler

// ScanRequest 入場スキャンリクエスト
// @Description QRコードの読み取り結果（payload）またはPNG画像（image_base64）のどちらかを指定
type ScanRequest struct {
	Payload     string `json:"payload" example:"{\"kind\":\"ticket\",\"ticketId\":\"...\",\"sig\":\"...\"}"`
	ImageBase64 string `json:"image_base64"`
	DeviceID    string `json:"device_id" example:"gate-a-01"`
	ScannerID   string `json:"scanner_id" example:"staff-17"`
}

// ScanResponse 入場スキャンレスポンス
// @Description outcomeがsuccessの場合のみ入場可
type ScanResponse struct {
	Outcome    string  `json:"outcome" example:"success" enums:"success,forged,malformed,not_found,already_redeemed,void,expired"`
	TicketID   string  `json:"ticket_id,omitempty" example:"0b6a1e9c-1f5c-4a55-b1a4-7ad5c5b3f0e2"`
	OwnerID    string  `json:"owner_id,omitempty" example:"user123"`
	EventID    string  `json:"event_id,omitempty" example:"event-1"`
	RedeemedAt *string `json:"redeemed_at,omitempty" example:"2024-01-01T18:00:00Z"`
	Reason     string  `json:"reason,omitempty"`
}
