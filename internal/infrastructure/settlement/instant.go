package settlement

import (
	"context"

	"ticket-wallet/internal/domain/settlement"
)

// InstantGateway 即時成功する決済ゲートウェイ（開発・テスト用）
type InstantGateway struct{}

// NewInstantGateway 新しいInstantGatewayを作成
func NewInstantGateway() *InstantGateway {
	return &InstantGateway{}
}

// Collect 入金を即時成功させる
func (g *InstantGateway) Collect(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Result{}, err
	}
	return settlement.Result{Reference: "instant-collect-" + req.TransactionID}, nil
}

// Payout 出金を即時成功させる
func (g *InstantGateway) Payout(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Result{}, err
	}
	return settlement.Result{Reference: "instant-payout-" + req.TransactionID}, nil
}
