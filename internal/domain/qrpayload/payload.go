package qrpayload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrMalformedPayload 構造が不正なペイロード（JSON不正、判別子不明、必須フィールド欠落など）
	ErrMalformedPayload = errors.New("malformed qr payload")
	// ErrForgedPayload 署名が一致しないペイロード
	ErrForgedPayload = errors.New("forged qr payload")
)

// Kind ペイロードの判別子
type Kind string

const (
	KindTicket Kind = "ticket" // 入場チケット
	KindEvent  Kind = "event"  // イベント共有用
)

// canonicalVersion 正規化バイト列のバージョンタグ
const canonicalVersion = "qr1"

// maxFieldLength 各フィールドの最大長
const maxFieldLength = 255

// Payload QRコードに載せるデータ
// KindTicketの場合はTicketID/EventID/OwnerID/Nonceが必須、KindEventの場合はEventIDのみ
type Payload struct {
	Kind     Kind
	TicketID string
	EventID  string
	OwnerID  string
	Nonce    string
}

// NewTicketPayload チケット用ペイロードを作成
func NewTicketPayload(ticketID, eventID, ownerID, nonce string) (Payload, error) {
	p := Payload{Kind: KindTicket, TicketID: ticketID, EventID: eventID, OwnerID: ownerID, Nonce: nonce}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// NewEventPayload イベント用ペイロードを作成
func NewEventPayload(eventID string) (Payload, error) {
	p := Payload{Kind: KindEvent, EventID: eventID}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// IsTicket チケット用ペイロードかどうかを返す
func (p Payload) IsTicket() bool {
	return p.Kind == KindTicket
}

// Validate 判別子とフィールドの組み合わせを検証
func (p Payload) Validate() error {
	switch p.Kind {
	case KindTicket:
		for _, f := range []struct{ name, value string }{
			{"ticketId", p.TicketID},
			{"eventId", p.EventID},
			{"ownerId", p.OwnerID},
			{"nonce", p.Nonce},
		} {
			if err := validateField(f.name, f.value); err != nil {
				return err
			}
		}
	case KindEvent:
		if err := validateField("eventId", p.EventID); err != nil {
			return err
		}
		if p.TicketID != "" || p.OwnerID != "" || p.Nonce != "" {
			return fmt.Errorf("%w: event payload carries ticket fields", ErrMalformedPayload)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedPayload, p.Kind)
	}
	return nil
}

// validateField 必須・長さ・UTF-8の妥当性を検証
func validateField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	if len(value) > maxFieldLength {
		return fmt.Errorf("%w: %s too long", ErrMalformedPayload, name)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid utf-8", ErrMalformedPayload, name)
	}
	return nil
}

// CanonicalBytes 署名対象のバイト列を返す
// バージョンタグに続けて、判別子と各フィールドを固定順で長さ付き (uint16 big endian) で連結する
func (p Payload) CanonicalBytes() []byte {
	var fields []string
	switch p.Kind {
	case KindTicket:
		fields = []string{string(p.Kind), p.TicketID, p.EventID, p.OwnerID, p.Nonce}
	default:
		fields = []string{string(p.Kind), p.EventID}
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, canonicalVersion...)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	return buf
}
