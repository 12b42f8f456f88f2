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

	"ticket-wallet/internal/domain/wallet"
)

// WalletRepository MySQL実装のWalletRepository
type WalletRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewWalletRepository 新しいWalletRepositoryを作成
func NewWalletRepository(db *DB) *WalletRepository {
	return &WalletRepository{
		db:     db,
		tracer: otel.Tracer("wallet-repository"),
	}
}

// FindByWalletID ウォレットIDでウォレットを取得
func (r *WalletRepository) FindByWalletID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.FindByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "wallet_accounts"),
	)

	query := `
		SELECT wallet_id, owner_id, balance, total_deposited, total_spent, version, created_at, updated_at
		FROM wallet_accounts
		WHERE wallet_id = ?
	`

	var dbWalletID, ownerID string
	var balance, totalDeposited, totalSpent int64
	var version int
	var createdAt, updatedAt time.Time

	err := r.db.conn(ctx).QueryRowContext(ctx, query, walletID).Scan(
		&dbWalletID,
		&ownerID,
		&balance,
		&totalDeposited,
		&totalSpent,
		&version,
		&createdAt,
		&updatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "wallet not found")
		return nil, wallet.ErrWalletNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("db.balance", balance),
		attribute.Int("db.version", version),
	)
	span.SetStatus(otelcodes.Ok, "wallet found")

	w, err := wallet.ReconstructWallet(dbWalletID, ownerID, balance, totalDeposited, totalSpent, version, createdAt, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct wallet entity: %w", err)
	}
	return w, nil
}

// Create 新しいウォレットを作成
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", w.WalletID()),
		attribute.String("db.owner_id", w.OwnerID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "wallet_accounts"),
	)

	query := `
		INSERT INTO wallet_accounts (
			wallet_id, owner_id, balance, total_deposited, total_spent, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		w.WalletID(),
		w.OwnerID(),
		w.Balance(),
		w.TotalDeposited(),
		w.TotalSpent(),
		w.Version(),
		w.CreatedAt(),
		w.UpdatedAt(),
	)
	if isDuplicateEntry(err) {
		span.SetStatus(otelcodes.Ok, "wallet already exists")
		return wallet.ErrWalletAlreadyExists
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "wallet created")
	return nil
}

// Save ウォレットを保存（更新、楽観的ロック対応）
func (r *WalletRepository) Save(ctx context.Context, w *wallet.Wallet) error {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", w.WalletID()),
		attribute.Int64("db.balance", w.Balance()),
		attribute.Int("db.version", w.Version()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "wallet_accounts"),
	)

	query := `
		UPDATE wallet_accounts
		SET balance = ?, total_deposited = ?, total_spent = ?, version = version + 1, updated_at = ?
		WHERE wallet_id = ? AND version = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		w.Balance(),
		w.TotalDeposited(),
		w.TotalSpent(),
		w.UpdatedAt(),
		w.WalletID(),
		w.Version(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to save wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		span.RecordError(wallet.ErrConflict)
		span.SetStatus(otelcodes.Error, "optimistic lock failed")
		return wallet.ErrConflict
	}

	w.IncrementVersion()
	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "wallet saved")
	return nil
}

// ListWalletIDs 全ウォレットIDを取得
func (r *WalletRepository) ListWalletIDs(ctx context.Context) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.ListWalletIDs")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "wallet_accounts"),
	)

	rows, err := r.db.conn(ctx).QueryContext(ctx, `SELECT wallet_id FROM wallet_accounts ORDER BY wallet_id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallets: %w", err)
	}

	span.SetAttributes(attribute.Int("db.count", len(ids)))
	span.SetStatus(otelcodes.Ok, "wallets listed")
	return ids, nil
}
