package memory

import (
	"context"

	"ticket-wallet/internal/domain/ticket"
)

// TicketRepository メモリ実装のTicketRepository
type TicketRepository struct {
	s *Store
}

// Create チケットを作成
func (r *TicketRepository) Create(_ context.Context, t *ticket.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.ticketsByPurchase[t.PurchaseTransactionID()]; exists {
		return ticket.ErrDuplicatePurchase
	}
	r.s.tickets[t.TicketID()] = *t
	r.s.ticketsByPurchase[t.PurchaseTransactionID()] = t.TicketID()
	r.s.ticketsByEvent[t.EventID()] = append(r.s.ticketsByEvent[t.EventID()], t.TicketID())
	return nil
}

// FindByTicketID チケットIDでチケットを取得
func (r *TicketRepository) FindByTicketID(_ context.Context, ticketID string) (*ticket.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tickets[ticketID]
	if !ok {
		return nil, ticket.ErrTicketNotFound
	}
	return &t, nil
}

// FindByPurchaseTransactionID 購入トランザクションIDでチケットを取得
func (r *TicketRepository) FindByPurchaseTransactionID(_ context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.ticketsByPurchase[purchaseTransactionID]
	if !ok {
		return nil, ticket.ErrTicketNotFound
	}
	t := r.s.tickets[id]
	return &t, nil
}

// FindByEventID イベントIDでチケット一覧を取得
func (r *TicketRepository) FindByEventID(_ context.Context, eventID string) ([]*ticket.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.ticketsByEvent[eventID]
	out := make([]*ticket.Ticket, 0, len(ids))
	for _, id := range ids {
		t := r.s.tickets[id]
		out = append(out, &t)
	}
	return out, nil
}

// CompareAndSwapState 保存済みの状態がexpectedの場合のみ状態を書き込む
func (r *TicketRepository) CompareAndSwapState(_ context.Context, t *ticket.Ticket, expected ticket.State) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.tickets[t.TicketID()]
	if !ok {
		return false, ticket.ErrTicketNotFound
	}
	if stored.State() != expected {
		return false, nil
	}
	r.s.tickets[t.TicketID()] = *t
	return true, nil
}
