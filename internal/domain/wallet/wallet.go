package wallet

import (
	"errors"
	"regexp"
	"time"
)

var (
	// ErrInvalidWalletID ウォレットIDが無効
	ErrInvalidWalletID = errors.New("invalid wallet id")
	// ErrInvalidOwnerID 所有者IDが無効
	ErrInvalidOwnerID = errors.New("invalid owner id")
	// ErrBalanceOutOfRange 残高が範囲外
	ErrBalanceOutOfRange = errors.New("balance out of range")
	// ErrAmountTooLarge 金額が大きすぎる
	ErrAmountTooLarge = errors.New("amount too large")
)

const (
	// MaxAmount 最大金額 (10兆)
	MaxAmount = 10_000_000_000_000
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)

// Wallet ウォレットエンティティ
// 金額はすべて最小通貨単位の整数値
type Wallet struct {
	walletID       string
	ownerID        string
	balance        int64
	totalDeposited int64
	totalSpent     int64 // 出金と購入の合計（返金で戻る）
	version        int   // 楽観的ロック用
	createdAt      time.Time
	updatedAt      time.Time
}

// NewWallet 残高0の新しいウォレットを作成
func NewWallet(walletID, ownerID string) (*Wallet, error) {
	if !idRegex.MatchString(walletID) {
		return nil, ErrInvalidWalletID
	}
	if !idRegex.MatchString(ownerID) {
		return nil, ErrInvalidOwnerID
	}
	now := time.Now().UTC()
	return &Wallet{
		walletID:  walletID,
		ownerID:   ownerID,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructWallet 永続化された値からWalletを復元（リポジトリ用）
func ReconstructWallet(
	walletID string,
	ownerID string,
	balance int64,
	totalDeposited int64,
	totalSpent int64,
	version int,
	createdAt time.Time,
	updatedAt time.Time,
) (*Wallet, error) {
	if !idRegex.MatchString(walletID) {
		return nil, ErrInvalidWalletID
	}
	if balance < 0 || balance > MaxAmount || totalDeposited < 0 || totalSpent < 0 {
		return nil, ErrBalanceOutOfRange
	}
	return &Wallet{
		walletID:       walletID,
		ownerID:        ownerID,
		balance:        balance,
		totalDeposited: totalDeposited,
		totalSpent:     totalSpent,
		version:        version,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}, nil
}

// WalletID ウォレットIDを返す
func (w *Wallet) WalletID() string {
	return w.walletID
}

// OwnerID 所有者IDを返す
func (w *Wallet) OwnerID() string {
	return w.ownerID
}

// Balance 残高を返す
func (w *Wallet) Balance() int64 {
	return w.balance
}

// TotalDeposited 累計入金額を返す
func (w *Wallet) TotalDeposited() int64 {
	return w.totalDeposited
}

// TotalSpent 累計支出額を返す
func (w *Wallet) TotalSpent() int64 {
	return w.totalSpent
}

// Version バージョンを返す（楽観的ロック用）
func (w *Wallet) Version() int {
	return w.version
}

// CreatedAt 作成日時を返す
func (w *Wallet) CreatedAt() time.Time {
	return w.createdAt
}

// UpdatedAt 更新日時を返す
func (w *Wallet) UpdatedAt() time.Time {
	return w.updatedAt
}

// OwnedBy 指定ユーザーが所有者かどうかを返す
func (w *Wallet) OwnedBy(ownerID string) bool {
	return w.ownerID == ownerID
}

// Credit 入金を反映する (balance += amount; totalDeposited += amount)
func (w *Wallet) Credit(amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	// オーバーフローチェック
	if w.balance > MaxAmount-amount || w.totalDeposited > MaxAmount-amount {
		return ErrBalanceOutOfRange
	}
	w.balance += amount
	w.totalDeposited += amount
	w.touch()
	return nil
}

// Debit 残高チェックと減算を同時に行う (balance -= amount; totalSpent += amount)
// 出金と購入の両方で使用する
func (w *Wallet) Debit(amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if w.balance < amount {
		return ErrInsufficientFunds
	}
	w.balance -= amount
	w.totalSpent += amount
	w.touch()
	return nil
}

// Restore 返金を反映する (balance += amount; totalSpent -= amount)
func (w *Wallet) Restore(amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if w.totalSpent < amount {
		return ErrBalanceOutOfRange
	}
	w.balance += amount
	w.totalSpent -= amount
	w.touch()
	return nil
}

// CanAfford 指定金額を支払えるかどうかを返す
func (w *Wallet) CanAfford(amount int64) bool {
	return amount > 0 && w.balance >= amount
}

// CheckInvariant balance == totalDeposited - totalSpent を検証
func (w *Wallet) CheckInvariant() error {
	if w.balance != w.totalDeposited-w.totalSpent {
		return ErrInvariantViolation
	}
	return nil
}

// IncrementVersion バージョンをインクリメント（保存成功後にリポジトリが呼ぶ）
func (w *Wallet) IncrementVersion() {
	w.version++
}

func (w *Wallet) touch() {
	w.updatedAt = time.Now().UTC()
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > MaxAmount {
		return ErrAmountTooLarge
	}
	return nil
}

// MustNewWallet テスト用ヘルパー: NewWalletを呼び出し、エラーが発生した場合はpanicする
func MustNewWallet(walletID, ownerID string) *Wallet {
	w, err := NewWallet(walletID, ownerID)
	if err != nil {
		panic(err)
	}
	return w
}
