package memory

import (
	"context"
	"time"

	"ticket-wallet/internal/domain/transaction"
)

// TransactionRepository メモリ実装のTransactionRepository
type TransactionRepository struct {
	s *Store
}

// Append pendingトランザクションを追記
func (r *TransactionRepository) Append(_ context.Context, t *transaction.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.transactionsByKey[t.IdempotencyKey()]; exists {
		return transaction.ErrDuplicateIdempotencyKey
	}
	if _, exists := r.s.transactions[t.TransactionID()]; exists {
		return transaction.ErrDuplicateIdempotencyKey
	}
	id := t.TransactionID()
	r.s.transactions[id] = *t
	r.s.transactionOrder = append(r.s.transactionOrder, id)
	r.s.transactionsByKey[t.IdempotencyKey()] = id
	r.s.transactionsByWall[t.WalletID()] = append(r.s.transactionsByWall[t.WalletID()], id)
	return nil
}

// UpdateStatus pendingのトランザクションを確定する
func (r *TransactionRepository) UpdateStatus(_ context.Context, t *transaction.Transaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.transactions[t.TransactionID()]
	if !ok {
		return false, transaction.ErrTransactionNotFound
	}
	if !stored.Status().IsPending() {
		return false, nil
	}
	r.s.transactions[t.TransactionID()] = *t
	return true, nil
}

// FindByTransactionID トランザクションIDでトランザクションを取得
func (r *TransactionRepository) FindByTransactionID(_ context.Context, transactionID string) (*transaction.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.transactions[transactionID]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	return &t, nil
}

// FindByIdempotencyKey 冪等キーでトランザクションを取得
func (r *TransactionRepository) FindByIdempotencyKey(_ context.Context, idempotencyKey string) (*transaction.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.transactionsByKey[idempotencyKey]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	t := r.s.transactions[id]
	return &t, nil
}

// FindByWalletID ウォレットIDでトランザクション一覧を作成順に取得
func (r *TransactionRepository) FindByWalletID(_ context.Context, walletID string, limit, offset int) ([]*transaction.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.transactionsByWall[walletID]
	if offset >= len(ids) {
		return []*transaction.Transaction{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*transaction.Transaction, 0, len(ids))
	for _, id := range ids {
		t := r.s.transactions[id]
		out = append(out, &t)
	}
	return out, nil
}

// FindPendingBefore 指定時刻より前に作成されたpendingトランザクションを取得
func (r *TransactionRepository) FindPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*transaction.Transaction
	for _, id := range r.s.transactionOrder {
		t := r.s.transactions[id]
		if !t.Status().IsPending() || !t.CreatedAt().Before(cutoff) {
			continue
		}
		out = append(out, &t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
