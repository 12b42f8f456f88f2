package memory

import (
	"context"

	"ticket-wallet/internal/domain/event"
)

// EventCatalog メモリ実装のevent.Catalog
type EventCatalog struct {
	s *Store
}

// Put イベントを登録（上書き）
func (c *EventCatalog) Put(e *event.Event) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.events[e.EventID()] = *e
}

// FindByEventID イベントIDでイベントを取得
func (c *EventCatalog) FindByEventID(_ context.Context, eventID string) (*event.Event, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	e, ok := c.s.events[eventID]
	if !ok {
		return nil, event.ErrEventNotFound
	}
	return &e, nil
}
