package ticket

import (
	"fmt"
)

// State チケット状態を表す値オブジェクト
type State string

const (
	StateIssued   State = "issued"   // 発行済み（入場可能）
	StateRedeemed State = "redeemed" // 入場済み
	StateVoid     State = "void"     // 無効化（返金・管理操作）
	StateExpired  State = "expired"  // 期限切れ
)

// NewState 新しいStateを作成
func NewState(s string) (State, error) {
	switch s {
	case "issued", "redeemed", "void", "expired":
		return State(s), nil
	default:
		return "", fmt.Errorf("invalid ticket state: %s", s)
	}
}

// String 文字列表現を返す
func (s State) String() string {
	return string(s)
}

// Valid 有効な状態かどうかを返す
func (s State) Valid() bool {
	switch s {
	case StateIssued, StateRedeemed, StateVoid, StateExpired:
		return true
	default:
		return false
	}
}

// IsIssued 発行済み（入場可能）かどうかを返す
func (s State) IsIssued() bool {
	return s == StateIssued
}

// IsTerminal 終端状態かどうかを返す
func (s State) IsTerminal() bool {
	return s != StateIssued
}
