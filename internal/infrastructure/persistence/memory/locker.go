package memory

import (
	"context"
	"sync"

	"ticket-wallet/internal/domain/wallet"
)

// Locker ウォレットごとのsync.Mutexによるwallet.Locker実装
type Locker struct {
	s     *Store
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker 新しいLockerを作成
func NewLocker(s *Store) *Locker {
	return &Locker{
		s:     s,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Locker) lockFor(walletID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[walletID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[walletID] = m
	}
	return m
}

// WithLock ウォレット単位の排他でfnを実行
func (l *Locker) WithLock(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.s.mu.RLock()
	_, exists := l.s.wallets[walletID]
	l.s.mu.RUnlock()
	if !exists {
		return wallet.ErrWalletNotFound
	}

	m := l.lockFor(walletID)
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
