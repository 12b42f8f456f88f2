package fraud

import (
	"context"
	"time"

	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// Counter 不正スキャン回数のカウンタ
type Counter interface {
	Increment(ctx context.Context, subject string) (int64, error)
}

// Publisher アラートの発行先
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// ForgedScan 署名不一致となったスキャン
type ForgedScan struct {
	DeviceID  string
	ScannerID string
	Reason    string
	At        time.Time
}

// Monitor 不正スキャンの監視
// 報告は必ずログとメトリクスに残る。カウンタと発行先は任意で、失敗しても報告元には返さない
type Monitor struct {
	counter   Counter
	publisher Publisher
	threshold int
	logger    *otelinfra.Logger
	metrics   *otelinfra.Metrics
}

// NewMonitor 新しいMonitorを作成（counter・publisherはnil可）
func NewMonitor(counter Counter, publisher Publisher, threshold int, logger *otelinfra.Logger, metrics *otelinfra.Metrics) *Monitor {
	if threshold <= 0 {
		threshold = 1
	}
	return &Monitor{
		counter:   counter,
		publisher: publisher,
		threshold: threshold,
		logger:    logger,
		metrics:   metrics,
	}
}

// ReportForged 不正スキャンを記録し、閾値に達した場合はアラートを発行
func (m *Monitor) ReportForged(ctx context.Context, scan ForgedScan) {
	if scan.At.IsZero() {
		scan.At = time.Now().UTC()
	}
	subject := scan.DeviceID
	if subject == "" {
		subject = "unknown"
	}

	m.logger.Warn(ctx, "Forged ticket scan", map[string]interface{}{
		"device_id":  scan.DeviceID,
		"scanner_id": scan.ScannerID,
		"reason":     scan.Reason,
	})
	m.metrics.RecordForgedScan(ctx, subject)

	if m.counter == nil {
		return
	}
	count, err := m.counter.Increment(ctx, subject)
	if err != nil {
		m.logger.Error(ctx, "Failed to count forged scan", err, map[string]interface{}{
			"device_id": scan.DeviceID,
		})
		return
	}
	if count != int64(m.threshold) {
		return
	}

	m.logger.Error(ctx, "Forged scan threshold reached", nil, map[string]interface{}{
		"device_id": scan.DeviceID,
		"count":     count,
		"threshold": m.threshold,
	})
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, Alert{
		DeviceID:   scan.DeviceID,
		ScannerID:  scan.ScannerID,
		Count:      count,
		Threshold:  m.threshold,
		Reason:     scan.Reason,
		DetectedAt: scan.At,
	}); err != nil {
		m.logger.Error(ctx, "Failed to publish fraud alert", err, map[string]interface{}{
			"device_id": scan.DeviceID,
		})
	}
}
