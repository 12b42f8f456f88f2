package transaction

import (
	"fmt"
)

// TransactionType トランザクションタイプを表す値オブジェクト
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"    // 入金
	TransactionTypeWithdrawal TransactionType = "withdrawal" // 出金
	TransactionTypePurchase   TransactionType = "purchase"   // チケット購入
	TransactionTypeRefund     TransactionType = "refund"     // 返金
)

// NewTransactionType 新しいTransactionTypeを作成
func NewTransactionType(s string) (TransactionType, error) {
	switch s {
	case "deposit", "withdrawal", "purchase", "refund":
		return TransactionType(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidTransactionType, s)
	}
}

// String 文字列表現を返す
func (tt TransactionType) String() string {
	return string(tt)
}

// Valid 有効なトランザクションタイプかどうかを返す
func (tt TransactionType) Valid() bool {
	switch tt {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypePurchase, TransactionTypeRefund:
		return true
	default:
		return false
	}
}

// IsCredit 残高を増やすタイプかどうかを返す（入金・返金）
func (tt TransactionType) IsCredit() bool {
	return tt == TransactionTypeDeposit || tt == TransactionTypeRefund
}
