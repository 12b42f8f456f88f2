package wallet

import "errors"

var (
	// ErrWalletNotFound ウォレットが見つからないエラー
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletAlreadyExists ウォレットが既に存在するエラー
	ErrWalletAlreadyExists = errors.New("wallet already exists")
	// ErrInsufficientFunds 残高不足エラー
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount 無効な金額エラー
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrConflict 楽観的ロックの競合（リトライ可能）
	ErrConflict = errors.New("wallet version conflict")
	// ErrOwnerMismatch ウォレットの所有者ではない
	ErrOwnerMismatch = errors.New("wallet owner mismatch")
	// ErrInvariantViolation balance == totalDeposited - totalSpent が成立しない
	ErrInvariantViolation = errors.New("wallet invariant violated")
)
