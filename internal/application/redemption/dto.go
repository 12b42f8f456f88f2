package redemption

import "time"

// Outcome スキャン結果
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeForged          Outcome = "forged"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeAlreadyRedeemed Outcome = "already_redeemed"
	OutcomeVoid            Outcome = "void"
	OutcomeExpired         Outcome = "expired"
)

// String 文字列表現を返す
func (o Outcome) String() string {
	return string(o)
}

// ValidateScanRequest QRコンテナの検証リクエスト
type ValidateScanRequest struct {
	Payload   []byte // 署名済みQRコンテナ
	DeviceID  string
	ScannerID string
}

// ScanTicketRequest QRコード画像の検証リクエスト
type ScanTicketRequest struct {
	Image     []byte // PNG
	DeviceID  string
	ScannerID string
}

// RedemptionResult スキャンの結果
// Outcomeがsuccessの場合のみOwnerID・EventID・RedeemedAtが入る
type RedemptionResult struct {
	Outcome    Outcome
	TicketID   string
	OwnerID    string
	EventID    string
	RedeemedAt *time.Time
	Reason     string
}
