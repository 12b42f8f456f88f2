package ticket

import (
	"time"
)

// Ticket チケットエンティティ
// 物理削除されず、状態遷移は issued -> redeemed | void | expired のみ
type Ticket struct {
	ticketID              string
	eventID               string
	ownerID               string
	purchaseTransactionID string
	nonce                 string
	payload               []byte // 署名済みQRコンテナ
	state                 State
	issuedAt              time.Time
	validUntil            time.Time
	redeemedAt            *time.Time
	redeemedByDeviceID    *string
	redeemedByScannerID   *string
	voidReason            *string
	updatedAt             time.Time
}

// NewTicket 新しいissued状態のチケットを作成
func NewTicket(
	ticketID string,
	eventID string,
	ownerID string,
	purchaseTransactionID string,
	nonce string,
	payload []byte,
	issuedAt time.Time,
	validUntil time.Time,
) (*Ticket, error) {
	if ticketID == "" || eventID == "" || ownerID == "" || purchaseTransactionID == "" || nonce == "" {
		return nil, ErrInvalidTicket
	}
	if len(payload) == 0 {
		return nil, ErrInvalidTicket
	}
	return &Ticket{
		ticketID:              ticketID,
		eventID:               eventID,
		ownerID:               ownerID,
		purchaseTransactionID: purchaseTransactionID,
		nonce:                 nonce,
		payload:               payload,
		state:                 StateIssued,
		issuedAt:              issuedAt.UTC(),
		validUntil:            validUntil.UTC(),
		updatedAt:             issuedAt.UTC(),
	}, nil
}

// ReconstructTicket 永続化された値からTicketを復元（リポジトリ用）
func ReconstructTicket(
	ticketID string,
	eventID string,
	ownerID string,
	purchaseTransactionID string,
	nonce string,
	payload []byte,
	state State,
	issuedAt time.Time,
	validUntil time.Time,
	redeemedAt *time.Time,
	redeemedByDeviceID *string,
	redeemedByScannerID *string,
	voidReason *string,
	updatedAt time.Time,
) *Ticket {
	return &Ticket{
		ticketID:              ticketID,
		eventID:               eventID,
		ownerID:               ownerID,
		purchaseTransactionID: purchaseTransactionID,
		nonce:                 nonce,
		payload:               payload,
		state:                 state,
		issuedAt:              issuedAt,
		validUntil:            validUntil,
		redeemedAt:            redeemedAt,
		redeemedByDeviceID:    redeemedByDeviceID,
		redeemedByScannerID:   redeemedByScannerID,
		voidReason:            voidReason,
		updatedAt:             updatedAt,
	}
}

// TicketID チケットIDを返す
func (t *Ticket) TicketID() string {
	return t.ticketID
}

// EventID イベントIDを返す
func (t *Ticket) EventID() string {
	return t.eventID
}

// OwnerID 所有者IDを返す
func (t *Ticket) OwnerID() string {
	return t.ownerID
}

// PurchaseTransactionID 購入トランザクションIDを返す
func (t *Ticket) PurchaseTransactionID() string {
	return t.purchaseTransactionID
}

// Nonce ノンスを返す
func (t *Ticket) Nonce() string {
	return t.nonce
}

// Payload 署名済みQRコンテナを返す
func (t *Ticket) Payload() []byte {
	return t.payload
}

// State 状態を返す
func (t *Ticket) State() State {
	return t.state
}

// IssuedAt 発行日時を返す
func (t *Ticket) IssuedAt() time.Time {
	return t.issuedAt
}

// ValidUntil 有効期限を返す
func (t *Ticket) ValidUntil() time.Time {
	return t.validUntil
}

// RedeemedAt 入場日時を返す
func (t *Ticket) RedeemedAt() *time.Time {
	return t.redeemedAt
}

// RedeemedByDeviceID 入場処理した端末IDを返す
func (t *Ticket) RedeemedByDeviceID() *string {
	return t.redeemedByDeviceID
}

// RedeemedByScannerID 入場処理したスタッフIDを返す
func (t *Ticket) RedeemedByScannerID() *string {
	return t.redeemedByScannerID
}

// VoidReason 無効化理由を返す
func (t *Ticket) VoidReason() *string {
	return t.voidReason
}

// UpdatedAt 更新日時を返す
func (t *Ticket) UpdatedAt() time.Time {
	return t.updatedAt
}

// IsPastWindow 有効期限を過ぎているかどうかを返す
func (t *Ticket) IsPastWindow(now time.Time) bool {
	return now.After(t.validUntil)
}

// Redeem issuedからredeemedへ遷移させ、入場情報を記録する
func (t *Ticket) Redeem(at time.Time, deviceID, scannerID string) error {
	if !t.state.IsIssued() {
		return ErrInvalidState
	}
	redeemedAt := at.UTC()
	t.state = StateRedeemed
	t.redeemedAt = &redeemedAt
	t.redeemedByDeviceID = &deviceID
	if scannerID != "" {
		t.redeemedByScannerID = &scannerID
	}
	t.updatedAt = redeemedAt
	return nil
}

// Void issuedからvoidへ遷移させる
func (t *Ticket) Void(reason string, at time.Time) error {
	if !t.state.IsIssued() {
		return ErrInvalidState
	}
	t.state = StateVoid
	if reason != "" {
		t.voidReason = &reason
	}
	t.updatedAt = at.UTC()
	return nil
}

// Expire issuedからexpiredへ遷移させる
func (t *Ticket) Expire(at time.Time) error {
	if !t.state.IsIssued() {
		return ErrInvalidState
	}
	t.state = StateExpired
	t.updatedAt = at.UTC()
	return nil
}

// MustNewTicket テスト用ヘルパー: NewTicketを呼び出し、エラーが発生した場合はpanicする
func MustNewTicket(
	ticketID string,
	eventID string,
	ownerID string,
	purchaseTransactionID string,
	nonce string,
	payload []byte,
	issuedAt time.Time,
	validUntil time.Time,
) *Ticket {
	t, err := NewTicket(ticketID, eventID, ownerID, purchaseTransactionID, nonce, payload, issuedAt, validUntil)
	if err != nil {
		panic(err)
	}
	return t
}
