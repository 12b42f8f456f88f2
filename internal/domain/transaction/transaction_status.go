package transaction

import (
	"fmt"
)

// TransactionStatus トランザクションステータス
// pending→completed、pending→failedの遷移のみ存在する
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"   // 外部決済・台帳確定待ち
	TransactionStatusCompleted TransactionStatus = "completed" // 残高に反映済み
	TransactionStatusFailed    TransactionStatus = "failed"    // 残高に影響しない
)

// NewTransactionStatus 文字列からTransactionStatusを作成
func NewTransactionStatus(s string) (TransactionStatus, error) {
	ts := TransactionStatus(s)
	if !ts.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, s)
	}
	return ts, nil
}

// String 文字列表現を返す
func (ts TransactionStatus) String() string {
	return string(ts)
}

// Valid 有効なトランザクションステータスかどうかを返す
func (ts TransactionStatus) Valid() bool {
	switch ts {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// IsPending 確定待ちかどうかを返す
func (ts TransactionStatus) IsPending() bool {
	return ts == TransactionStatusPending
}

// IsCompleted 完了状態かどうかを返す
func (ts TransactionStatus) IsCompleted() bool {
	return ts == TransactionStatusCompleted
}

// IsFailed 失敗状態かどうかを返す
func (ts TransactionStatus) IsFailed() bool {
	return ts == TransactionStatusFailed
}

// IsTerminal 終端状態かどうかを返す
func (ts TransactionStatus) IsTerminal() bool {
	return ts.Valid() && !ts.IsPending()
}
