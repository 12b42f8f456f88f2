package ticket

import (
	"context"
)

// TicketRepository チケットリポジトリインターフェース
type TicketRepository interface {
	// Create チケットを作成（同じ購入トランザクションのチケットが存在する場合はErrDuplicatePurchase）
	Create(ctx context.Context, ticket *Ticket) error

	// FindByTicketID チケットIDでチケットを取得
	FindByTicketID(ctx context.Context, ticketID string) (*Ticket, error)

	// FindByPurchaseTransactionID 購入トランザクションIDでチケットを取得
	FindByPurchaseTransactionID(ctx context.Context, purchaseTransactionID string) (*Ticket, error)

	// FindByEventID イベントIDでチケット一覧を取得
	FindByEventID(ctx context.Context, eventID string) ([]*Ticket, error)

	// CompareAndSwapState 保存済みの状態がexpectedの場合のみticketの状態を書き込む
	// 他の更新に負けた場合はfalseを返す
	CompareAndSwapState(ctx context.Context, ticket *Ticket, expected State) (bool, error)
}
