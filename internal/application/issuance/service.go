package issuance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// ErrPurchaseNotCompleted 発行対象が完了済みの購入トランザクションではない
var ErrPurchaseNotCompleted = errors.New("purchase transaction is not completed")

// ErrPurchaseRefunded 返金済みの購入にはチケットを発行しない
var ErrPurchaseRefunded = fmt.Errorf("purchase has been refunded: %w", ticket.ErrInvalidState)

// nonceSize ナンスのバイト数（128bit）
const nonceSize = 16

// Renderer 署名済みコンテナを画像に描画する
type Renderer interface {
	RenderPNG(container []byte) ([]byte, error)
}

// IssuanceApplicationService チケット発行アプリケーションサービス
type IssuanceApplicationService struct {
	ticketRepo      ticket.TicketRepository
	transactionRepo transaction.TransactionRepository
	walletRepo      wallet.WalletRepository
	catalog         event.Catalog
	codec           *qrpayload.Codec
	renderer        Renderer
	expiryGrace     time.Duration
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	now             func() time.Time
	newID           func() string
}

// NewIssuanceApplicationService 新しいIssuanceApplicationServiceを作成
func NewIssuanceApplicationService(
	ticketRepo ticket.TicketRepository,
	transactionRepo transaction.TransactionRepository,
	walletRepo wallet.WalletRepository,
	catalog event.Catalog,
	codec *qrpayload.Codec,
	renderer Renderer,
	expiryGrace time.Duration,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *IssuanceApplicationService {
	return &IssuanceApplicationService{
		ticketRepo:      ticketRepo,
		transactionRepo: transactionRepo,
		walletRepo:      walletRepo,
		catalog:         catalog,
		codec:           codec,
		renderer:        renderer,
		expiryGrace:     expiryGrace,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("issuance-service"),
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

// IssueTicket 完了済みの購入トランザクションに対してチケットを発行する
// 同じ購入への再発行は既存のチケットを返す
func (s *IssuanceApplicationService) IssueTicket(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "IssuanceApplicationService.IssueTicket")
	defer span.End()

	span.SetAttributes(attribute.String("purchase_transaction_id", purchaseTransactionID))

	t, err := s.issueTicket(ctx, purchaseTransactionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to issue ticket", err, map[string]interface{}{
			"purchase_transaction_id": purchaseTransactionID,
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket_id", t.TicketID()))
	return t, nil
}

func (s *IssuanceApplicationService) issueTicket(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error) {
	existing, err := s.ticketRepo.FindByPurchaseTransactionID(ctx, purchaseTransactionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ticket.ErrTicketNotFound) {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}

	purchase, err := s.transactionRepo.FindByTransactionID(ctx, purchaseTransactionID)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find purchase transaction: %w", err)
	}
	if purchase.TransactionType() != transaction.TransactionTypePurchase || !purchase.Status().IsCompleted() {
		return nil, ErrPurchaseNotCompleted
	}
	if purchase.RelatedEventID() == nil {
		return nil, fmt.Errorf("%w: purchase has no event", ticket.ErrInvalidTicket)
	}

	refund, err := s.transactionRepo.FindByIdempotencyKey(ctx, transaction.RefundIdempotencyKey(purchaseTransactionID))
	if err != nil && !errors.Is(err, transaction.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}
	if refund != nil && refund.TransactionType() == transaction.TransactionTypeRefund && !refund.Status().IsFailed() {
		return nil, ErrPurchaseRefunded
	}

	w, err := s.walletRepo.FindByWalletID(ctx, purchase.WalletID())
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	ev, err := s.catalog.FindByEventID(ctx, *purchase.RelatedEventID())
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	ticketID := s.newID()
	payload, err := qrpayload.NewTicketPayload(ticketID, ev.EventID(), w.OwnerID(), nonce)
	if err != nil {
		return nil, err
	}
	container, err := s.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket payload: %w", err)
	}

	now := s.now()
	t, err := ticket.NewTicket(ticketID, ev.EventID(), w.OwnerID(), purchase.TransactionID(), nonce, container,
		now, ev.EndsAt().Add(s.expiryGrace))
	if err != nil {
		return nil, err
	}

	if err := s.ticketRepo.Create(ctx, t); err != nil {
		if errors.Is(err, ticket.ErrDuplicatePurchase) {
			// 並行した発行に負けた場合は保存済みのチケットを返す
			return s.ticketRepo.FindByPurchaseTransactionID(ctx, purchaseTransactionID)
		}
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.logger.Info(ctx, "Ticket issued", map[string]interface{}{
		"ticket_id":               t.TicketID(),
		"event_id":                t.EventID(),
		"owner_id":                t.OwnerID(),
		"purchase_transaction_id": t.PurchaseTransactionID(),
	})
	return t, nil
}

// VoidTicket issuedのチケットを無効化する
// 無効化済みの場合は保存済みのチケットを返し、入場済み・期限切れはErrInvalidState
func (s *IssuanceApplicationService) VoidTicket(ctx context.Context, req *VoidTicketRequest) (*TicketResponse, error) {
	ctx, span := s.tracer.Start(ctx, "IssuanceApplicationService.VoidTicket")
	defer span.End()

	span.SetAttributes(
		attribute.String("ticket_id", req.TicketID),
		attribute.String("reason", req.Reason),
	)

	t, err := s.voidTicket(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	s.logger.Info(ctx, "Ticket voided", map[string]interface{}{
		"ticket_id": t.TicketID(),
		"reason":    req.Reason,
	})
	return toTicketResponse(t), nil
}

func (s *IssuanceApplicationService) voidTicket(ctx context.Context, req *VoidTicketRequest) (*ticket.Ticket, error) {
	t, err := s.findTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}

	for {
		switch t.State() {
		case ticket.StateVoid:
			return t, nil
		case ticket.StateRedeemed, ticket.StateExpired:
			return nil, ticket.ErrInvalidState
		}

		if err := t.Void(req.Reason, s.now()); err != nil {
			return nil, err
		}
		swapped, err := s.ticketRepo.CompareAndSwapState(ctx, t, ticket.StateIssued)
		if err != nil {
			return nil, fmt.Errorf("failed to void ticket: %w", err)
		}
		if swapped {
			return t, nil
		}
		// 他の遷移に負けた場合は現在の状態で判定し直す
		if t, err = s.findTicket(ctx, req.TicketID); err != nil {
			return nil, err
		}
	}
}

// RenderTicketImage チケットのQRコード画像（PNG）を返す
func (s *IssuanceApplicationService) RenderTicketImage(ctx context.Context, req *RenderTicketImageRequest) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "IssuanceApplicationService.RenderTicketImage")
	defer span.End()

	span.SetAttributes(attribute.String("ticket_id", req.TicketID))

	t, err := s.findTicket(ctx, req.TicketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	if t.OwnerID() != req.OwnerID {
		span.RecordError(wallet.ErrOwnerMismatch)
		span.SetStatus(otelcodes.Error, wallet.ErrOwnerMismatch.Error())
		return nil, wallet.ErrOwnerMismatch
	}

	img, err := s.renderer.RenderPNG(t.Payload())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to render ticket image: %w", err)
	}
	return img, nil
}

// RenderEventImage イベント共有用の署名済みQRコード画像（PNG）を返す
func (s *IssuanceApplicationService) RenderEventImage(ctx context.Context, eventID string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "IssuanceApplicationService.RenderEventImage")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	img, err := s.renderEventImage(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	return img, nil
}

func (s *IssuanceApplicationService) renderEventImage(ctx context.Context, eventID string) ([]byte, error) {
	ev, err := s.catalog.FindByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	payload, err := qrpayload.NewEventPayload(ev.EventID())
	if err != nil {
		return nil, err
	}
	container, err := s.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	img, err := s.renderer.RenderPNG(container)
	if err != nil {
		return nil, fmt.Errorf("failed to render event image: %w", err)
	}
	return img, nil
}

// ListEventTickets イベントのチケット一覧を取得（会場側の照会用）
func (s *IssuanceApplicationService) ListEventTickets(ctx context.Context, eventID string) ([]*TicketResponse, error) {
	ctx, span := s.tracer.Start(ctx, "IssuanceApplicationService.ListEventTickets")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	tickets, err := s.ticketRepo.FindByEventID(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}

	out := make([]*TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketResponse(t))
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

func (s *IssuanceApplicationService) findTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	t, err := s.ticketRepo.FindByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return t, nil
}

func newNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func toTicketResponse(t *ticket.Ticket) *TicketResponse {
	return &TicketResponse{
		TicketID:              t.TicketID(),
		EventID:               t.EventID(),
		OwnerID:               t.OwnerID(),
		PurchaseTransactionID: t.PurchaseTransactionID(),
		State:                 t.State().String(),
		IssuedAt:              t.IssuedAt(),
		ValidUntil:            t.ValidUntil(),
		RedeemedAt:            t.RedeemedAt(),
		RedeemedByDeviceID:    t.RedeemedByDeviceID(),
		RedeemedByScannerID:   t.RedeemedByScannerID(),
		VoidReason:            t.VoidReason(),
	}
}
