package wallet

import (
	"context"
)

// WalletRepository ウォレットリポジトリインターフェース
type WalletRepository interface {
	// FindByWalletID ウォレットIDでウォレットを取得
	FindByWalletID(ctx context.Context, walletID string) (*Wallet, error)

	// Create 新しいウォレットを作成（既に存在する場合はErrWalletAlreadyExists）
	Create(ctx context.Context, wallet *Wallet) error

	// Save ウォレットを保存（楽観的ロック対応、競合時はErrConflict）
	Save(ctx context.Context, wallet *Wallet) error

	// ListWalletIDs 全ウォレットIDを取得（照合用）
	ListWalletIDs(ctx context.Context) ([]string, error)
}

// Locker ウォレット単位のクリティカルセクションを提供する
// 同じウォレットに対するfnは直列に実行され、fn内のリポジトリ操作は同じ原子的単位に参加する
type Locker interface {
	WithLock(ctx context.Context, walletID string, fn func(ctx context.Context) error) error
}
