package memory

import (
	"context"
	"sort"

	"ticket-wallet/internal/domain/wallet"
)

// WalletRepository メモリ実装のWalletRepository
type WalletRepository struct {
	s *Store
}

// FindByWalletID ウォレットIDでウォレットを取得
func (r *WalletRepository) FindByWalletID(_ context.Context, walletID string) (*wallet.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.wallets[walletID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	return &w, nil
}

// Create 新しいウォレットを作成
func (r *WalletRepository) Create(_ context.Context, w *wallet.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.wallets[w.WalletID()]; exists {
		return wallet.ErrWalletAlreadyExists
	}
	r.s.wallets[w.WalletID()] = *w
	return nil
}

// Save ウォレットを保存（楽観的ロック対応）
func (r *WalletRepository) Save(_ context.Context, w *wallet.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.wallets[w.WalletID()]
	if !ok || stored.Version() != w.Version() {
		return wallet.ErrConflict
	}
	w.IncrementVersion()
	r.s.wallets[w.WalletID()] = *w
	return nil
}

// ListWalletIDs 全ウォレットIDを取得
func (r *WalletRepository) ListWalletIDs(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := make([]string, 0, len(r.s.wallets))
	for id := range r.s.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
