package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/infrastructure/fraud"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// maxSwapAttempts 状態のCAS再試行回数
const maxSwapAttempts = 3

// Scanner 画像から署名済みコンテナを読み取る
type Scanner interface {
	ScanPNG(image []byte) ([]byte, error)
}

// ForgedScanReporter 不正スキャンの報告先
type ForgedScanReporter interface {
	ReportForged(ctx context.Context, scan fraud.ForgedScan)
}

// RedemptionApplicationService 入場スキャン検証アプリケーションサービス
// 入場の判定結果はエラーではなくRedemptionResultで返し、エラーは永続化層の障害のみ
type RedemptionApplicationService struct {
	ticketRepo ticket.TicketRepository
	codec      *qrpayload.Codec
	scanner    Scanner
	reporter   ForgedScanReporter
	logger     *otelinfra.Logger
	metrics    *otelinfra.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewRedemptionApplicationService 新しいRedemptionApplicationServiceを作成
func NewRedemptionApplicationService(
	ticketRepo ticket.TicketRepository,
	codec *qrpayload.Codec,
	scanner Scanner,
	reporter ForgedScanReporter,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *RedemptionApplicationService {
	return &RedemptionApplicationService{
		ticketRepo: ticketRepo,
		codec:      codec,
		scanner:    scanner,
		reporter:   reporter,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("redemption-service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ScanTicket QRコード画像を読み取り検証する
func (s *RedemptionApplicationService) ScanTicket(ctx context.Context, req *ScanTicketRequest) (*RedemptionResult, error) {
	ctx, span := s.tracer.Start(ctx, "RedemptionApplicationService.ScanTicket")
	defer span.End()

	span.SetAttributes(
		attribute.String("device_id", req.DeviceID),
		attribute.Int("image_size", len(req.Image)),
	)

	container, err := s.scanner.ScanPNG(req.Image)
	if err != nil {
		result := &RedemptionResult{Outcome: OutcomeMalformed, Reason: err.Error()}
		s.record(ctx, req.DeviceID, req.ScannerID, result)
		return result, nil
	}

	return s.ValidateScan(ctx, &ValidateScanRequest{
		Payload:   container,
		DeviceID:  req.DeviceID,
		ScannerID: req.ScannerID,
	})
}

// ValidateScan 署名済みコンテナを検証し、有効なチケットなら入場済みにする
// 同じチケットの同時スキャンは高々1件だけがsuccessになる
func (s *RedemptionApplicationService) ValidateScan(ctx context.Context, req *ValidateScanRequest) (*RedemptionResult, error) {
	ctx, span := s.tracer.Start(ctx, "RedemptionApplicationService.ValidateScan")
	defer span.End()

	span.SetAttributes(
		attribute.String("device_id", req.DeviceID),
		attribute.String("scanner_id", req.ScannerID),
	)

	result, err := s.validate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to validate scan", err, map[string]interface{}{
			"device_id": req.DeviceID,
		})
		return nil, err
	}

	span.SetAttributes(
		attribute.String("outcome", result.Outcome.String()),
		attribute.String("ticket_id", result.TicketID),
	)
	s.record(ctx, req.DeviceID, req.ScannerID, result)
	return result, nil
}

func (s *RedemptionApplicationService) validate(ctx context.Context, req *ValidateScanRequest) (*RedemptionResult, error) {
	payload, err := s.codec.Decode(req.Payload)
	switch {
	case errors.Is(err, qrpayload.ErrForgedPayload):
		s.reportForged(ctx, req, "signature mismatch")
		return &RedemptionResult{Outcome: OutcomeForged, Reason: "signature mismatch"}, nil
	case err != nil:
		return &RedemptionResult{Outcome: OutcomeMalformed, Reason: err.Error()}, nil
	}
	if !payload.IsTicket() {
		// イベント共有用のコードは入場に使えない
		return &RedemptionResult{Outcome: OutcomeMalformed, Reason: "not a ticket payload"}, nil
	}

	t, err := s.ticketRepo.FindByTicketID(ctx, payload.TicketID)
	if errors.Is(err, ticket.ErrTicketNotFound) {
		return &RedemptionResult{Outcome: OutcomeNotFound, TicketID: payload.TicketID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}

	if t.OwnerID() != payload.OwnerID || t.EventID() != payload.EventID || t.Nonce() != payload.Nonce {
		s.reportForged(ctx, req, "payload does not match issued ticket")
		return &RedemptionResult{Outcome: OutcomeForged, TicketID: t.TicketID(), Reason: "payload does not match issued ticket"}, nil
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		if !t.State().IsIssued() {
			return stateResult(t), nil
		}

		now := s.now()
		if t.IsPastWindow(now) {
			if err := t.Expire(now); err != nil {
				return nil, err
			}
			swapped, err := s.ticketRepo.CompareAndSwapState(ctx, t, ticket.StateIssued)
			if err != nil {
				return nil, fmt.Errorf("failed to expire ticket: %w", err)
			}
			if swapped {
				return stateResult(t), nil
			}
		} else {
			if err := t.Redeem(now, req.DeviceID, req.ScannerID); err != nil {
				return nil, err
			}
			swapped, err := s.ticketRepo.CompareAndSwapState(ctx, t, ticket.StateIssued)
			if err != nil {
				return nil, fmt.Errorf("failed to redeem ticket: %w", err)
			}
			if swapped {
				return &RedemptionResult{
					Outcome:    OutcomeSuccess,
					TicketID:   t.TicketID(),
					OwnerID:    t.OwnerID(),
					EventID:    t.EventID(),
					RedeemedAt: t.RedeemedAt(),
				}, nil
			}
		}

		// CASに負けた場合は保存済みの状態で判定し直す
		t, err = s.ticketRepo.FindByTicketID(ctx, payload.TicketID)
		if err != nil {
			return nil, fmt.Errorf("failed to find ticket: %w", err)
		}
	}
	return nil, fmt.Errorf("ticket %s state kept changing", payload.TicketID)
}

func stateResult(t *ticket.Ticket) *RedemptionResult {
	result := &RedemptionResult{TicketID: t.TicketID()}
	switch t.State() {
	case ticket.StateRedeemed:
		result.Outcome = OutcomeAlreadyRedeemed
		result.RedeemedAt = t.RedeemedAt()
	case ticket.StateVoid:
		result.Outcome = OutcomeVoid
	default:
		result.Outcome = OutcomeExpired
	}
	return result
}

func (s *RedemptionApplicationService) reportForged(ctx context.Context, req *ValidateScanRequest, reason string) {
	if s.reporter == nil {
		return
	}
	s.reporter.ReportForged(ctx, fraud.ForgedScan{
		DeviceID:  req.DeviceID,
		ScannerID: req.ScannerID,
		Reason:    reason,
		At:        s.now(),
	})
}

func (s *RedemptionApplicationService) record(ctx context.Context, deviceID, scannerID string, result *RedemptionResult) {
	s.metrics.RecordRedemption(ctx, result.Outcome.String())
	s.logger.Info(ctx, "Ticket scanned", map[string]interface{}{
		"outcome":    result.Outcome.String(),
		"ticket_id":  result.TicketID,
		"device_id":  deviceID,
		"scanner_id": scannerID,
	})
}
