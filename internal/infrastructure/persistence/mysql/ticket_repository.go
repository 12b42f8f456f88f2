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

	"ticket-wallet/internal/domain/ticket"
)

const ticketColumns = `
	ticket_id, event_id, owner_id, purchase_transaction_id, nonce, payload, state,
	issued_at, valid_until, redeemed_at, redeemed_by_device_id, redeemed_by_scanner_id,
	void_reason, updated_at
`

// TicketRepository MySQL実装のTicketRepository
type TicketRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewTicketRepository 新しいTicketRepositoryを作成
func NewTicketRepository(db *DB) *TicketRepository {
	return &TicketRepository{
		db:     db,
		tracer: otel.Tracer("ticket-repository"),
	}
}

// Create チケットを作成
func (r *TicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.ticket_id", t.TicketID()),
		attribute.String("db.event_id", t.EventID()),
		attribute.String("db.purchase_transaction_id", t.PurchaseTransactionID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "tickets"),
	)

	query := `INSERT INTO tickets (` + ticketColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.TicketID(),
		t.EventID(),
		t.OwnerID(),
		t.PurchaseTransactionID(),
		t.Nonce(),
		t.Payload(),
		t.State().String(),
		t.IssuedAt(),
		t.ValidUntil(),
		nullTime(t.RedeemedAt()),
		nullString(t.RedeemedByDeviceID()),
		nullString(t.RedeemedByScannerID()),
		nullString(t.VoidReason()),
		t.UpdatedAt(),
	)
	if isDuplicateEntry(err) {
		span.SetStatus(otelcodes.Ok, "ticket already issued")
		return ticket.ErrDuplicatePurchase
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "ticket created")
	return nil
}

// FindByTicketID チケットIDでチケットを取得
func (r *TicketRepository) FindByTicketID(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	return r.findOne(ctx, "TicketRepository.FindByTicketID", "ticket_id", ticketID)
}

// FindByPurchaseTransactionID 購入トランザクションIDでチケットを取得
func (r *TicketRepository) FindByPurchaseTransactionID(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	return r.findOne(ctx, "TicketRepository.FindByPurchaseTransactionID", "purchase_transaction_id", purchaseTransactionID)
}

func (r *TicketRepository) findOne(ctx context.Context, spanName, column, value string) (*ticket.Ticket, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db."+column, value),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "tickets"),
	)

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + column + ` = ?`
	t, err := scanTicket(r.db.conn(ctx).QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "ticket not found")
		return nil, ticket.ErrTicketNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}

	span.SetAttributes(attribute.String("db.state", t.State().String()))
	span.SetStatus(otelcodes.Ok, "ticket found")
	return t, nil
}

// FindByEventID イベントIDでチケット一覧を取得
func (r *TicketRepository) FindByEventID(ctx context.Context, eventID string) ([]*ticket.Ticket, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.FindByEventID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.event_id", eventID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "tickets"),
	)

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = ? ORDER BY issued_at ASC`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}

	span.SetAttributes(attribute.Int("db.count", len(tickets)))
	span.SetStatus(otelcodes.Ok, "tickets found")
	return tickets, nil
}

// CompareAndSwapState 保存済みの状態がexpectedの場合のみ状態を書き込む
func (r *TicketRepository) CompareAndSwapState(ctx context.Context, t *ticket.Ticket, expected ticket.State) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.CompareAndSwapState")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.ticket_id", t.TicketID()),
		attribute.String("db.expected_state", expected.String()),
		attribute.String("db.state", t.State().String()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "tickets"),
	)

	query := `
		UPDATE tickets
		SET state = ?, redeemed_at = ?, redeemed_by_device_id = ?, redeemed_by_scanner_id = ?,
			void_reason = ?, updated_at = ?
		WHERE ticket_id = ? AND state = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.State().String(),
		nullTime(t.RedeemedAt()),
		nullString(t.RedeemedByDeviceID()),
		nullString(t.RedeemedByScannerID()),
		nullString(t.VoidReason()),
		t.UpdatedAt(),
		t.TicketID(),
		expected.String(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, fmt.Errorf("failed to update ticket state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	swapped := rowsAffected == 1
	span.SetAttributes(attribute.Bool("db.swapped", swapped))
	span.SetStatus(otelcodes.Ok, "ticket state compared")
	return swapped, nil
}

func scanTicket(row rowScanner) (*ticket.Ticket, error) {
	var ticketID, eventID, ownerID, purchaseTransactionID, nonce, dbState string
	var payload []byte
	var issuedAt, validUntil, updatedAt time.Time
	var redeemedAt sql.NullTime
	var deviceID, scannerID, voidReason sql.NullString

	if err := row.Scan(
		&ticketID,
		&eventID,
		&ownerID,
		&purchaseTransactionID,
		&nonce,
		&payload,
		&dbState,
		&issuedAt,
		&validUntil,
		&redeemedAt,
		&deviceID,
		&scannerID,
		&voidReason,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	state, err := ticket.NewState(dbState)
	if err != nil {
		return nil, err
	}

	return ticket.ReconstructTicket(
		ticketID,
		eventID,
		ownerID,
		purchaseTransactionID,
		nonce,
		payload,
		state,
		issuedAt,
		validUntil,
		timePtr(redeemedAt),
		stringPtr(deviceID),
		stringPtr(scannerID),
		stringPtr(voidReason),
		updatedAt,
	), nil
}
