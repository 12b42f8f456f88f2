package handler

import ledgerapp "ticket-wallet/internal/application/ledger"

// ReconciliationResponse 照合結果レスポンス
// @Description 照合結果レスポンス（不整合は報告のみで修正しない）
type ReconciliationResponse struct {
	Consistent bool                              `json:"consistent" example:"true"`
	Reports    []*ledgerapp.ReconciliationReport `json:"reports"`
}

// SweepResponse スイープ結果レスポンス
// @Description スイープ結果レスポンス
type SweepResponse struct {
	FailedTransactionIDs []string                          `json:"failed_transaction_ids"`
	Reports              []*ledgerapp.ReconciliationReport `json:"reports"`
}
