package transaction

import "errors"

var (
	// ErrTransactionNotFound トランザクションが見つからないエラー
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransactionType 未知のトランザクションタイプ
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	// ErrInvalidTransactionStatus 未知のトランザクションステータス
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	// ErrInvalidOutcome 確定結果がcompleted/failed以外
	ErrInvalidOutcome = errors.New("invalid finalize outcome")
	// ErrDuplicateIdempotencyKey 冪等キー重複エラー
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrFinalizeConflict 確定済みトランザクションを異なる結果で確定しようとした
	ErrFinalizeConflict = errors.New("transaction already finalized with a different outcome")
)
