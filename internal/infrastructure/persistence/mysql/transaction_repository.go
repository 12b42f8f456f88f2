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

	"ticket-wallet/internal/domain/transaction"
)

const transactionColumns = `
	transaction_id, wallet_id, transaction_type, amount, status, idempotency_key,
	related_ticket_id, related_transaction_id, related_event_id, external_ref, created_at, completed_at
`

// TransactionRepository MySQL実装のTransactionRepository
type TransactionRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewTransactionRepository 新しいTransactionRepositoryを作成
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		tracer: otel.Tracer("transaction-repository"),
	}
}

// Append pendingトランザクションを追記
func (r *TransactionRepository) Append(ctx context.Context, t *transaction.Transaction) error {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.Append")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", t.TransactionID()),
		attribute.String("db.wallet_id", t.WalletID()),
		attribute.String("db.transaction_type", t.TransactionType().String()),
		attribute.Int64("db.amount", t.Amount()),
		attribute.String("db.status", t.Status().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "transactions"),
	)

	query := `INSERT INTO transactions (` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.TransactionID(),
		t.WalletID(),
		t.TransactionType().String(),
		t.Amount(),
		t.Status().String(),
		t.IdempotencyKey(),
		nullString(t.RelatedTicketID()),
		nullString(t.RelatedTransactionID()),
		nullString(t.RelatedEventID()),
		nullString(t.ExternalRef()),
		t.CreatedAt(),
		nullTime(t.CompletedAt()),
	)
	if isDuplicateEntry(err) {
		span.SetStatus(otelcodes.Ok, "duplicate idempotency key")
		return transaction.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "transaction appended")
	return nil
}

// UpdateStatus pendingのトランザクションを確定する
func (r *TransactionRepository) UpdateStatus(ctx context.Context, t *transaction.Transaction) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", t.TransactionID()),
		attribute.String("db.status", t.Status().String()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "transactions"),
	)

	query := `
		UPDATE transactions
		SET status = ?, completed_at = ?, related_ticket_id = ?, related_transaction_id = ?, external_ref = ?
		WHERE transaction_id = ? AND status = 'pending'
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.Status().String(),
		nullTime(t.CompletedAt()),
		nullString(t.RelatedTicketID()),
		nullString(t.RelatedTransactionID()),
		nullString(t.ExternalRef()),
		t.TransactionID(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "transaction status updated")
	return rowsAffected == 1, nil
}

// FindByTransactionID トランザクションIDでトランザクションを取得
func (r *TransactionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByTransactionID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", transactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`
	t, err := scanTransaction(r.db.conn(ctx).QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

// FindByIdempotencyKey 冪等キーでトランザクションを取得
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, idempotencyKey string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByIdempotencyKey")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.idempotency_key", idempotencyKey),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = ?`
	t, err := scanTransaction(r.db.conn(ctx).QueryRowContext(ctx, query, idempotencyKey))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

// FindByWalletID ウォレットIDでトランザクション一覧を作成順に取得
func (r *TransactionRepository) FindByWalletID(ctx context.Context, walletID string, limit, offset int) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE wallet_id = ? ORDER BY created_at ASC, transaction_id ASC`
	args := []interface{}{walletID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(transactions)))
	span.SetStatus(otelcodes.Ok, "transactions found")
	return transactions, nil
}

// FindPendingBefore 指定時刻より前に作成されたpendingトランザクションを取得
func (r *TransactionRepository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindPendingBefore")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.cutoff", cutoff.Format(time.RFC3339)),
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find pending transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(transactions)))
	span.SetStatus(otelcodes.Ok, "pending transactions found")
	return transactions, nil
}

// rowScanner *sql.Rowと*sql.Rowsの共通インターフェース
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var transactionID, walletID, dbType, dbStatus, idempotencyKey string
	var amount int64
	var relatedTicketID, relatedTransactionID, relatedEventID, externalRef sql.NullString
	var createdAt time.Time
	var completedAt sql.NullTime

	if err := row.Scan(
		&transactionID,
		&walletID,
		&dbType,
		&amount,
		&dbStatus,
		&idempotencyKey,
		&relatedTicketID,
		&relatedTransactionID,
		&relatedEventID,
		&externalRef,
		&createdAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	tt, err := transaction.NewTransactionType(dbType)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction type: %w", err)
	}
	ts, err := transaction.NewTransactionStatus(dbStatus)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction status: %w", err)
	}

	return transaction.ReconstructTransaction(
		transactionID,
		walletID,
		tt,
		amount,
		ts,
		idempotencyKey,
		stringPtr(relatedTicketID),
		stringPtr(relatedTransactionID),
		stringPtr(relatedEventID),
		stringPtr(externalRef),
		createdAt,
		timePtr(completedAt),
	), nil
}

func scanTransactions(rows *sql.Rows) ([]*transaction.Transaction, error) {
	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}
