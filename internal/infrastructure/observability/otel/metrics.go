package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// 台帳トランザクション数（タイプ・ステータス別）
	TransactionCount metric.Int64Counter

	// ウォレット残高
	WalletBalance metric.Int64Gauge

	// 入場スキャン数（結果別）
	RedemptionCount metric.Int64Counter

	// 署名不一致のスキャン数
	ForgedScanCount metric.Int64Counter

	// 照合で検出された不整合数
	ReconciliationFaultCount metric.Int64Counter

	// スイープで失敗確定したpendingトランザクション数
	SweptTransactionCount metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー率
	ErrorCount metric.Int64Counter
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	transactionCount, err := meter.Int64Counter(
		"transactions_total",
		metric.WithDescription("Total number of ledger transactions by type and status"),
	)
	if err != nil {
		return nil, err
	}

	walletBalance, err := meter.Int64Gauge(
		"wallet_balance",
		metric.WithDescription("Wallet balance in minor units"),
	)
	if err != nil {
		return nil, err
	}

	redemptionCount, err := meter.Int64Counter(
		"redemptions_total",
		metric.WithDescription("Total number of ticket scans by outcome"),
	)
	if err != nil {
		return nil, err
	}

	forgedScanCount, err := meter.Int64Counter(
		"forged_scans_total",
		metric.WithDescription("Total number of scans with an invalid signature"),
	)
	if err != nil {
		return nil, err
	}

	reconciliationFaultCount, err := meter.Int64Counter(
		"reconciliation_faults_total",
		metric.WithDescription("Total number of wallet/ledger divergences detected"),
	)
	if err != nil {
		return nil, err
	}

	sweptTransactionCount, err := meter.Int64Counter(
		"swept_transactions_total",
		metric.WithDescription("Total number of stale pending transactions failed by the sweep"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of requests"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		TransactionCount:         transactionCount,
		WalletBalance:            walletBalance,
		RedemptionCount:          redemptionCount,
		ForgedScanCount:          forgedScanCount,
		ReconciliationFaultCount: reconciliationFaultCount,
		SweptTransactionCount:    sweptTransactionCount,
		RequestCount:             requestCount,
		ResponseTime:             responseTime,
		ErrorCount:               errorCount,
	}, nil
}

// RecordTransaction トランザクションを記録
func (m *Metrics) RecordTransaction(ctx context.Context, transactionType, status string) {
	m.TransactionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transaction_type", transactionType),
			attribute.String("status", status),
		),
	)
}

// RecordWalletBalance ウォレット残高を記録
func (m *Metrics) RecordWalletBalance(ctx context.Context, walletID string, balance int64) {
	m.WalletBalance.Record(ctx, balance,
		metric.WithAttributes(
			attribute.String("wallet_id", walletID),
		),
	)
}

// RecordRedemption スキャン結果を記録
func (m *Metrics) RecordRedemption(ctx context.Context, outcome string) {
	m.RedemptionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
		),
	)
}

// RecordForgedScan 署名不一致のスキャンを記録
func (m *Metrics) RecordForgedScan(ctx context.Context, deviceID string) {
	m.ForgedScanCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device_id", deviceID),
		),
	)
}

// RecordReconciliationFault 照合の不整合を記録
func (m *Metrics) RecordReconciliationFault(ctx context.Context, walletID string) {
	m.ReconciliationFaultCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("wallet_id", walletID),
		),
	)
}

// RecordSweptTransaction スイープで失敗確定したトランザクションを記録
func (m *Metrics) RecordSweptTransaction(ctx context.Context, transactionType string) {
	m.SweptTransactionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transaction_type", transactionType),
		),
	)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
