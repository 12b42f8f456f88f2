package settlement

import (
	"context"
	"errors"
)

// ErrExternalSettlementFailure 外部決済の失敗（拒否・タイムアウト・通信エラー）
var ErrExternalSettlementFailure = errors.New("external settlement failure")

// Direction 資金の流れの方向
type Direction string

const (
	DirectionCollect Direction = "collect" // 外部から受け取る（入金）
	DirectionPayout  Direction = "payout"  // 外部へ支払う（出金）
)

// Request 外部決済への依頼内容
type Request struct {
	TransactionID string // 冪等性のため外部決済側でも一意キーとして使う
	WalletID      string
	OwnerID       string
	Amount        int64 // 最小通貨単位
	Currency      string
	ExternalRef   string // 入金時にクライアントが指定した外部参照
}

// Result 外部決済の結果
type Result struct {
	Reference string // 外部決済側の参照ID
}

// Gateway 外部決済の協調者
// 実装は成功時にResultを、失敗時にErrExternalSettlementFailureをラップしたエラーを返す
type Gateway interface {
	// Collect 入金を受け取る
	Collect(ctx context.Context, req Request) (Result, error)

	// Payout 出金を支払う
	Payout(ctx context.Context, req Request) (Result, error)
}
