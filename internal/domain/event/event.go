package event

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEventNotFound イベントが見つからないエラー
	ErrEventNotFound = errors.New("event not found")
	// ErrEventClosed 終了済みのイベント
	ErrEventClosed = errors.New("event already ended")
	// ErrInvalidEvent イベントの属性が無効
	ErrInvalidEvent = errors.New("invalid event")
)

// Event イベントカタログの読み取り専用ビュー
type Event struct {
	eventID  string
	price    int64 // 最小通貨単位
	startsAt time.Time
	endsAt   time.Time
}

// NewEvent 新しいEventを作成
func NewEvent(eventID string, price int64, startsAt, endsAt time.Time) (*Event, error) {
	if eventID == "" || price <= 0 || endsAt.Before(startsAt) {
		return nil, ErrInvalidEvent
	}
	return &Event{
		eventID:  eventID,
		price:    price,
		startsAt: startsAt.UTC(),
		endsAt:   endsAt.UTC(),
	}, nil
}

// EventID イベントIDを返す
func (e *Event) EventID() string {
	return e.eventID
}

// Price 価格を返す
func (e *Event) Price() int64 {
	return e.price
}

// StartsAt 開始日時を返す
func (e *Event) StartsAt() time.Time {
	return e.startsAt
}

// EndsAt 終了日時を返す
func (e *Event) EndsAt() time.Time {
	return e.endsAt
}

// HasEnded 終了しているかどうかを返す
func (e *Event) HasEnded(now time.Time) bool {
	return now.After(e.endsAt)
}

// MustNewEvent テスト用ヘルパー: NewEventを呼び出し、エラーが発生した場合はpanicする
func MustNewEvent(eventID string, price int64, startsAt, endsAt time.Time) *Event {
	e, err := NewEvent(eventID, price, startsAt, endsAt)
	if err != nil {
		panic(err)
	}
	return e
}

// Catalog イベントカタログ（外部の協調者、読み取り専用）
type Catalog interface {
	// FindByEventID イベントIDでイベントを取得
	FindByEventID(ctx context.Context, eventID string) (*Event, error)
}
