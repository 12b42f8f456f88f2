package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/wallet"
)

// WalletLocker ウォレット行の排他ロック（SELECT ... FOR UPDATE）によるwallet.Locker実装
type WalletLocker struct {
	tm     *TransactionManager
	tracer trace.Tracer
}

// NewWalletLocker 新しいWalletLockerを作成
func NewWalletLocker(tm *TransactionManager) *WalletLocker {
	return &WalletLocker{
		tm:     tm,
		tracer: otel.Tracer("wallet-locker"),
	}
}

// WithLock ウォレット行をロックしたトランザクション内でfnを実行
// fnがエラーを返すとロールバックされる
func (l *WalletLocker) WithLock(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	ctx, span := l.tracer.Start(ctx, "WalletLocker.WithLock")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT FOR UPDATE"),
		attribute.String("db.table", "wallet_accounts"),
	)

	err := l.tm.WithTransaction(ctx, func(ctx context.Context) error {
		var locked string
		err := l.tm.db.conn(ctx).QueryRowContext(ctx,
			`SELECT wallet_id FROM wallet_accounts WHERE wallet_id = ? FOR UPDATE`,
			walletID,
		).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}
		return fn(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	span.SetStatus(otelcodes.Ok, "lock released")
	return nil
}
