package ticket

import "errors"

var (
	// ErrTicketNotFound チケットが見つからないエラー
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrInvalidState 許可されていない状態遷移
	ErrInvalidState = errors.New("invalid ticket state transition")
	// ErrDuplicatePurchase 同じ購入トランザクションのチケットが既に存在する
	ErrDuplicatePurchase = errors.New("ticket already issued for purchase")
	// ErrInvalidTicket チケットの属性が無効
	ErrInvalidTicket = errors.New("invalid ticket")
)
