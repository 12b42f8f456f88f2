package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/event"
)

// EventCatalog MySQLのeventsテーブルを読むevent.Catalog実装
type EventCatalog struct {
	db     *DB
	tracer trace.Tracer
}

// NewEventCatalog 新しいEventCatalogを作成
func NewEventCatalog(db *DB) *EventCatalog {
	return &EventCatalog{
		db:     db,
		tracer: otel.Tracer("event-catalog"),
	}
}

// FindByEventID イベントIDでイベントを取得
func (c *EventCatalog) FindByEventID(ctx context.Context, eventID string) (*event.Event, error) {
	ctx, span := c.tracer.Start(ctx, "EventCatalog.FindByEventID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.event_id", eventID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "events"),
	)

	var dbEventID string
	var price int64
	var startsAt, endsAt time.Time

	err := c.db.conn(ctx).QueryRowContext(ctx,
		`SELECT event_id, price, starts_at, ends_at FROM events WHERE event_id = ?`,
		eventID,
	).Scan(&dbEventID, &price, &startsAt, &endsAt)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "event not found")
		return nil, event.ErrEventNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	e, err := event.NewEvent(dbEventID, price, startsAt, endsAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct event entity: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.price", price))
	span.SetStatus(otelcodes.Ok, "event found")
	return e, nil
}
