package qrpayload

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyInfo HKDFのinfo。鍵の用途とバージョンを固定する
const keyInfo = "ticket-qr/v1"

// maxContainerSize 受け付けるコンテナの最大サイズ
const maxContainerSize = 4096

// ErrEmptySecret 署名シークレットが空
var ErrEmptySecret = errors.New("qr signing secret is empty")

// container QRコードに格納するJSON表現
type container struct {
	Kind     Kind   `json:"kind"`
	TicketID string `json:"ticketId,omitempty"`
	EventID  string `json:"eventId,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Sig      string `json:"sig"`
}

// Codec ペイロードの署名付きエンコード・デコードを行う
type Codec struct {
	key []byte
}

// NewCodec シークレットからHKDF-SHA256で署名鍵を導出してCodecを作成
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return &Codec{key: key}, nil
}

// Encode ペイロードを署名付きコンテナにエンコード
func (c *Codec) Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := container{
		Kind:     p.Kind,
		TicketID: p.TicketID,
		EventID:  p.EventID,
		OwnerID:  p.OwnerID,
		Nonce:    p.Nonce,
		Sig:      base64.RawURLEncoding.EncodeToString(c.sign(p)),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qr container: %w", err)
	}
	return data, nil
}

// Decode コンテナを検証してペイロードを返す
// 構造の問題はErrMalformedPayload、署名不一致はErrForgedPayload
func (c *Codec) Decode(data []byte) (Payload, error) {
	if len(data) == 0 || len(data) > maxContainerSize {
		return Payload{}, fmt.Errorf("%w: invalid container size", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var in container
	if err := dec.Decode(&in); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}

	p := Payload{
		Kind:     in.Kind,
		TicketID: in.TicketID,
		EventID:  in.EventID,
		OwnerID:  in.OwnerID,
		Nonce:    in.Nonce,
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}

	sig, err := base64.RawURLEncoding.DecodeString(in.Sig)
	if err != nil || len(sig) == 0 {
		return Payload{}, fmt.Errorf("%w: invalid signature encoding", ErrMalformedPayload)
	}
	if !hmac.Equal(sig, c.sign(p)) {
		return Payload{}, ErrForgedPayload
	}
	return p, nil
}

func (c *Codec) sign(p Payload) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(p.CanonicalBytes())
	return mac.Sum(nil)
}
