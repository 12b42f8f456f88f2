package transaction

import (
	"context"
	"time"
)

// TransactionRepository トランザクション（台帳）リポジトリインターフェース
// 追記専用: 行の削除はなく、更新はpendingからの確定のみ
type TransactionRepository interface {
	// Append pendingトランザクションを追記（冪等キー重複時はErrDuplicateIdempotencyKey）
	Append(ctx context.Context, transaction *Transaction) error

	// UpdateStatus pendingのトランザクションを確定する。pendingでなかった場合はfalseを返す
	UpdateStatus(ctx context.Context, transaction *Transaction) (bool, error)

	// FindByTransactionID トランザクションIDでトランザクションを取得
	FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByIdempotencyKey 冪等キーでトランザクションを取得
	FindByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Transaction, error)

	// FindByWalletID ウォレットIDでトランザクション一覧を作成順に取得（limit 0は全件）
	FindByWalletID(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, error)

	// FindPendingBefore 指定時刻より前に作成されたpendingトランザクションを取得
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}
