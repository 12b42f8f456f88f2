package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/application/ledger"
	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/settlement"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

var (
	// ErrIdempotencyKeyReused 冪等キーが別の操作で使用済み
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different operation")
	// ErrNotRefundable 返金できない購入（未完了、購入以外、チケットが無効化されていない）
	ErrNotRefundable = fmt.Errorf("purchase is not refundable: %w", ticket.ErrInvalidState)
	// ErrTransactionSwept 確定前にスイープで失敗扱いになった
	ErrTransactionSwept = errors.New("transaction was failed by sweep before completion")
)

// TicketIssuer 購入完了後にチケットを発行する
type TicketIssuer interface {
	IssueTicket(ctx context.Context, purchaseTransactionID string) (*ticket.Ticket, error)
}

// WalletApplicationService ウォレットアプリケーションサービス
type WalletApplicationService struct {
	walletRepo      wallet.WalletRepository
	transactionRepo transaction.TransactionRepository
	ticketRepo      ticket.TicketRepository
	catalog         event.Catalog
	locker          wallet.Locker
	ledger          *ledger.LedgerApplicationService
	gateway         settlement.Gateway
	issuer          TicketIssuer
	currency        string
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	maxRetries      int
	now             func() time.Time
	newID           func() string
}

// NewWalletApplicationService 新しいWalletApplicationServiceを作成
func NewWalletApplicationService(
	walletRepo wallet.WalletRepository,
	transactionRepo transaction.TransactionRepository,
	ticketRepo ticket.TicketRepository,
	catalog event.Catalog,
	locker wallet.Locker,
	ledgerService *ledger.LedgerApplicationService,
	gateway settlement.Gateway,
	issuer TicketIssuer,
	currency string,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *WalletApplicationService {
	return &WalletApplicationService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		ticketRepo:      ticketRepo,
		catalog:         catalog,
		locker:          locker,
		ledger:          ledgerService,
		gateway:         gateway,
		issuer:          issuer,
		currency:        currency,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("wallet-service"),
		maxRetries:      3,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

// Deposit 入金する
// pendingを先に記録し、外部決済の成功後にウォレットへ反映して確定する。初回入金でウォレットを作成する
func (s *WalletApplicationService) Deposit(ctx context.Context, req *DepositRequest) (*TransactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Deposit")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.String("owner_id", req.OwnerID),
		attribute.Int64("amount", req.Amount),
		attribute.String("idempotency_key", req.IdempotencyKey),
	)

	s.logger.Info(ctx, "Processing deposit", map[string]interface{}{
		"wallet_id":       req.WalletID,
		"owner_id":        req.OwnerID,
		"amount":          req.Amount,
		"idempotency_key": req.IdempotencyKey,
	})

	resp, err := s.deposit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Deposit failed", err, map[string]interface{}{
			"wallet_id": req.WalletID,
		})
		return nil, err
	}
	return resp, nil
}

func (s *WalletApplicationService) deposit(ctx context.Context, req *DepositRequest) (*TransactionResponse, error) {
	pending, err := transaction.NewTransaction(s.newID(), req.WalletID, transaction.TransactionTypeDeposit, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	pending.SetExternalRef(req.ExternalRef)

	if replay, err := s.findReplay(ctx, pending, req.OwnerID); err != nil || replay != nil {
		return replay, err
	}

	w, err := s.ensureWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	// 外部決済の前にpendingをコミットする
	if _, err := s.ledger.Append(ctx, pending); err != nil {
		if errors.Is(err, transaction.ErrDuplicateIdempotencyKey) {
			if replay, rerr := s.findReplay(ctx, pending, req.OwnerID); rerr != nil || replay != nil {
				return replay, rerr
			}
		}
		return nil, err
	}

	result, err := s.gateway.Collect(ctx, settlement.Request{
		TransactionID: pending.TransactionID(),
		WalletID:      w.WalletID(),
		OwnerID:       w.OwnerID(),
		Amount:        pending.Amount(),
		Currency:      s.currency,
		ExternalRef:   req.ExternalRef,
	})
	if err != nil {
		if _, ferr := s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusFailed); ferr != nil {
			s.logger.Error(ctx, "Failed to record failed deposit", ferr, map[string]interface{}{
				"transaction_id": pending.TransactionID(),
			})
		}
		return nil, settlementError(err)
	}

	var completed *transaction.Transaction
	err = s.withRetry(ctx, func() error {
		return s.locker.WithLock(ctx, req.WalletID, func(ctx context.Context) error {
			current, err := s.transactionRepo.FindByTransactionID(ctx, pending.TransactionID())
			if err != nil {
				return fmt.Errorf("failed to find transaction: %w", err)
			}
			if !current.Status().IsPending() {
				return ErrTransactionSwept
			}

			w, err := s.walletRepo.FindByWalletID(ctx, req.WalletID)
			if err != nil {
				return err
			}
			if err := w.Credit(pending.Amount()); err != nil {
				return err
			}
			if err := s.walletRepo.Save(ctx, w); err != nil {
				return err
			}

			completed, err = s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusCompleted,
				ledger.WithExternalRef(result.Reference))
			if err != nil {
				return err
			}
			s.metrics.RecordWalletBalance(ctx, w.WalletID(), w.Balance())
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrTransactionSwept) {
			s.logger.Error(ctx, "Settlement collected for a swept deposit", err, map[string]interface{}{
				"transaction_id": pending.TransactionID(),
				"external_ref":   result.Reference,
			})
		}
		return nil, fmt.Errorf("failed to complete deposit: %w", err)
	}

	s.logger.Info(ctx, "Deposit completed", map[string]interface{}{
		"transaction_id": completed.TransactionID(),
		"wallet_id":      completed.WalletID(),
		"amount":         completed.Amount(),
	})
	return s.toTransactionResponse(completed, false), nil
}

// Withdraw 出金する
// 残高不足・外部決済失敗の場合もfailedのトランザクションを監査記録として残す
func (s *WalletApplicationService) Withdraw(ctx context.Context, req *WithdrawRequest) (*TransactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Withdraw")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.String("owner_id", req.OwnerID),
		attribute.Int64("amount", req.Amount),
	)

	s.logger.Info(ctx, "Processing withdrawal", map[string]interface{}{
		"wallet_id": req.WalletID,
		"owner_id":  req.OwnerID,
		"amount":    req.Amount,
	})

	resp, err := s.withdraw(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Withdrawal failed", err, map[string]interface{}{
			"wallet_id": req.WalletID,
		})
		return nil, err
	}
	return resp, nil
}

func (s *WalletApplicationService) withdraw(ctx context.Context, req *WithdrawRequest) (*TransactionResponse, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = s.newID()
	}
	pending, err := transaction.NewTransaction(s.newID(), req.WalletID, transaction.TransactionTypeWithdrawal, req.Amount, key)
	if err != nil {
		return nil, err
	}

	if replay, err := s.findReplay(ctx, pending, req.OwnerID); err != nil || replay != nil {
		return replay, err
	}

	if _, err := s.loadOwnedWallet(ctx, req.WalletID, req.OwnerID); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Append(ctx, pending); err != nil {
		return nil, err
	}

	var (
		completed *transaction.Transaction
		outcome   error
	)
	err = s.withRetry(ctx, func() error {
		outcome = nil
		return s.locker.WithLock(ctx, req.WalletID, func(ctx context.Context) error {
			current, err := s.transactionRepo.FindByTransactionID(ctx, pending.TransactionID())
			if err != nil {
				return fmt.Errorf("failed to find transaction: %w", err)
			}
			if !current.Status().IsPending() {
				return ErrTransactionSwept
			}

			w, err := s.walletRepo.FindByWalletID(ctx, req.WalletID)
			if err != nil {
				return err
			}
			if !w.CanAfford(pending.Amount()) {
				if _, err := s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusFailed); err != nil {
					return err
				}
				outcome = wallet.ErrInsufficientFunds
				return nil
			}

			// 同じウォレットの他の操作と直列化するためロックを保持したまま支払う
			result, err := s.gateway.Payout(ctx, settlement.Request{
				TransactionID: pending.TransactionID(),
				WalletID:      w.WalletID(),
				OwnerID:       w.OwnerID(),
				Amount:        pending.Amount(),
				Currency:      s.currency,
			})
			if err != nil {
				if _, ferr := s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusFailed); ferr != nil {
					return ferr
				}
				outcome = settlementError(err)
				return nil
			}

			if err := w.Debit(pending.Amount()); err != nil {
				return err
			}
			if err := s.walletRepo.Save(ctx, w); err != nil {
				return err
			}
			completed, err = s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusCompleted,
				ledger.WithExternalRef(result.Reference))
			if err != nil {
				return err
			}
			s.metrics.RecordWalletBalance(ctx, w.WalletID(), w.Balance())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete withdrawal: %w", err)
	}
	if outcome != nil {
		return nil, outcome
	}

	s.logger.Info(ctx, "Withdrawal completed", map[string]interface{}{
		"transaction_id": completed.TransactionID(),
		"wallet_id":      completed.WalletID(),
		"amount":         completed.Amount(),
	})
	return s.toTransactionResponse(completed, false), nil
}

// Purchase チケットを購入する
// 残高の確認と引き落とし、購入記録はウォレットのロック内で原子的に行う。
// チケット発行に失敗した場合は補償の返金で残高を戻してからエラーを返す
func (s *WalletApplicationService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Purchase")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.String("owner_id", req.OwnerID),
		attribute.String("event_id", req.EventID),
	)

	s.logger.Info(ctx, "Processing ticket purchase", map[string]interface{}{
		"wallet_id": req.WalletID,
		"owner_id":  req.OwnerID,
		"event_id":  req.EventID,
	})

	resp, err := s.purchase(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Ticket purchase failed", err, map[string]interface{}{
			"wallet_id": req.WalletID,
			"event_id":  req.EventID,
		})
		return nil, err
	}
	return resp, nil
}

func (s *WalletApplicationService) purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	ev, err := s.catalog.FindByEventID(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = s.newID()
	}
	pending, err := transaction.NewTransaction(s.newID(), req.WalletID, transaction.TransactionTypePurchase, ev.Price(), key)
	if err != nil {
		return nil, err
	}
	pending.SetRelatedEventID(ev.EventID())

	if replay, err := s.findReplay(ctx, pending, req.OwnerID); err != nil || replay != nil {
		if err != nil {
			return nil, err
		}
		return s.replayPurchase(ctx, replay, ev)
	}

	if ev.HasEnded(s.now()) {
		return nil, event.ErrEventClosed
	}
	if _, err := s.loadOwnedWallet(ctx, req.WalletID, req.OwnerID); err != nil {
		return nil, err
	}

	var (
		completed *transaction.Transaction
		outcome   error
	)
	err = s.withRetry(ctx, func() error {
		outcome = nil
		return s.locker.WithLock(ctx, req.WalletID, func(ctx context.Context) error {
			if _, err := s.ledger.Append(ctx, pending); err != nil {
				return err
			}
			w, err := s.walletRepo.FindByWalletID(ctx, req.WalletID)
			if err != nil {
				return err
			}
			if !w.CanAfford(pending.Amount()) {
				if _, err := s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusFailed); err != nil {
					return err
				}
				outcome = wallet.ErrInsufficientFunds
				return nil
			}
			if err := w.Debit(pending.Amount()); err != nil {
				return err
			}
			if err := s.walletRepo.Save(ctx, w); err != nil {
				return err
			}
			completed, err = s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusCompleted)
			if err != nil {
				return err
			}
			s.metrics.RecordWalletBalance(ctx, w.WalletID(), w.Balance())
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, transaction.ErrDuplicateIdempotencyKey) {
			replay, rerr := s.findReplay(ctx, pending, req.OwnerID)
			if rerr != nil {
				return nil, rerr
			}
			if replay != nil {
				return s.replayPurchase(ctx, replay, ev)
			}
		}
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}
	if outcome != nil {
		return nil, outcome
	}

	issued, err := s.issuer.IssueTicket(ctx, completed.TransactionID())
	if err != nil {
		refund, rerr := s.refundPurchase(ctx, completed, nil)
		if rerr != nil {
			s.logger.Error(ctx, "Compensating refund failed", rerr, map[string]interface{}{
				"transaction_id": completed.TransactionID(),
			})
			return nil, fmt.Errorf("failed to issue ticket: %w (compensating refund failed: %v)", err, rerr)
		}
		s.logger.Warn(ctx, "Ticket issuance failed, purchase refunded", map[string]interface{}{
			"transaction_id":        completed.TransactionID(),
			"refund_transaction_id": refund.TransactionID(),
			"error":                 err.Error(),
		})
		return nil, fmt.Errorf("failed to issue ticket: %w", err)
	}

	s.logger.Info(ctx, "Ticket purchased", map[string]interface{}{
		"transaction_id": completed.TransactionID(),
		"ticket_id":      issued.TicketID(),
		"event_id":       issued.EventID(),
	})
	return s.toPurchaseResponse(completed, issued), nil
}

// replayPurchase 冪等キーの再送に対し、完了済みの購入ならチケットを（必要なら発行して）返す
// 返金済みの購入には新しいチケットを発行せず、返金トランザクションIDを返す
func (s *WalletApplicationService) replayPurchase(ctx context.Context, replay *TransactionResponse, ev *event.Event) (*PurchaseResponse, error) {
	if replay.Status != transaction.TransactionStatusCompleted.String() {
		return &PurchaseResponse{Transaction: replay, EventID: ev.EventID()}, nil
	}

	refund, err := s.transactionRepo.FindByIdempotencyKey(ctx, transaction.RefundIdempotencyKey(replay.TransactionID))
	if err != nil && !errors.Is(err, transaction.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}
	if refund != nil && refund.TransactionType() == transaction.TransactionTypeRefund && !refund.Status().IsFailed() {
		resp := &PurchaseResponse{Transaction: replay, EventID: ev.EventID(), RefundTransactionID: refund.TransactionID()}
		existing, err := s.ticketRepo.FindByPurchaseTransactionID(ctx, replay.TransactionID)
		switch {
		case err == nil:
			resp.TicketID = existing.TicketID()
			resp.TicketState = existing.State().String()
			resp.ValidUntil = existing.ValidUntil()
		case !errors.Is(err, ticket.ErrTicketNotFound):
			return nil, fmt.Errorf("failed to find ticket: %w", err)
		}
		return resp, nil
	}

	issued, err := s.issuer.IssueTicket(ctx, replay.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue ticket: %w", err)
	}
	return &PurchaseResponse{
		Transaction: replay,
		TicketID:    issued.TicketID(),
		EventID:     issued.EventID(),
		TicketState: issued.State().String(),
		ValidUntil:  issued.ValidUntil(),
	}, nil
}

// Refund 無効化されたチケットの購入を返金する（管理操作）
// 同じ購入への返金は冪等で、既存の返金トランザクションを返す
func (s *WalletApplicationService) Refund(ctx context.Context, req *RefundRequest) (*TransactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Refund")
	defer span.End()

	span.SetAttributes(attribute.String("transaction_id", req.TransactionID))

	fail := func(err error) (*TransactionResponse, error) {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Refund failed", err, map[string]interface{}{
			"transaction_id": req.TransactionID,
		})
		return nil, err
	}

	purchase, err := s.transactionRepo.FindByTransactionID(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			return fail(err)
		}
		return fail(fmt.Errorf("failed to find transaction: %w", err))
	}
	if purchase.TransactionType() != transaction.TransactionTypePurchase || !purchase.Status().IsCompleted() {
		return fail(ErrNotRefundable)
	}

	t, err := s.ticketRepo.FindByPurchaseTransactionID(ctx, purchase.TransactionID())
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			return fail(ErrNotRefundable)
		}
		return fail(fmt.Errorf("failed to find ticket: %w", err))
	}
	if t.State() != ticket.StateVoid {
		return fail(ErrNotRefundable)
	}

	ticketID := t.TicketID()
	refund, err := s.refundPurchase(ctx, purchase, &ticketID)
	if err != nil {
		return fail(err)
	}

	s.logger.Info(ctx, "Purchase refunded", map[string]interface{}{
		"transaction_id":        purchase.TransactionID(),
		"refund_transaction_id": refund.TransactionID(),
		"ticket_id":             ticketID,
	})
	return s.toTransactionResponse(refund, false), nil
}

// refundPurchase 購入の金額をウォレットに戻す返金トランザクションを記録する
func (s *WalletApplicationService) refundPurchase(ctx context.Context, purchase *transaction.Transaction, ticketID *string) (*transaction.Transaction, error) {
	key := transaction.RefundIdempotencyKey(purchase.TransactionID())

	var refund *transaction.Transaction
	err := s.withRetry(ctx, func() error {
		return s.locker.WithLock(ctx, purchase.WalletID(), func(ctx context.Context) error {
			existing, err := s.transactionRepo.FindByIdempotencyKey(ctx, key)
			if err != nil && !errors.Is(err, transaction.ErrTransactionNotFound) {
				return fmt.Errorf("failed to find refund: %w", err)
			}
			if existing != nil {
				refund = existing
				return nil
			}

			pending, err := transaction.NewTransaction(s.newID(), purchase.WalletID(), transaction.TransactionTypeRefund, purchase.Amount(), key)
			if err != nil {
				return err
			}
			pending.SetRelatedTransactionID(purchase.TransactionID())
			if ticketID != nil {
				pending.SetRelatedTicketID(*ticketID)
			}
			if _, err := s.ledger.Append(ctx, pending); err != nil {
				return err
			}

			w, err := s.walletRepo.FindByWalletID(ctx, purchase.WalletID())
			if err != nil {
				return err
			}
			if err := w.Restore(purchase.Amount()); err != nil {
				return err
			}
			if err := s.walletRepo.Save(ctx, w); err != nil {
				return err
			}
			refund, err = s.ledger.Finalize(ctx, pending.TransactionID(), transaction.TransactionStatusCompleted)
			if err != nil {
				return err
			}
			s.metrics.RecordWalletBalance(ctx, w.WalletID(), w.Balance())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund purchase: %w", err)
	}
	return refund, nil
}

// GetBalance 残高を取得
func (s *WalletApplicationService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*BalanceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.GetBalance")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.String("owner_id", req.OwnerID),
	)

	w, err := s.loadOwnedWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordWalletBalance(ctx, w.WalletID(), w.Balance())

	return &BalanceResponse{
		WalletID:       w.WalletID(),
		OwnerID:        w.OwnerID(),
		Balance:        w.Balance(),
		TotalDeposited: w.TotalDeposited(),
		TotalSpent:     w.TotalSpent(),
		BalanceDisplay: FormatAmount(w.Balance(), s.currency),
		Currency:       s.currency,
		Version:        w.Version(),
	}, nil
}

// ensureWallet ウォレットを取得し、存在しない場合は作成する
func (s *WalletApplicationService) ensureWallet(ctx context.Context, walletID, ownerID string) (*wallet.Wallet, error) {
	w, err := s.loadOwnedWallet(ctx, walletID, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, err
	}

	w, err = wallet.NewWallet(walletID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.walletRepo.Create(ctx, w); err != nil {
		if errors.Is(err, wallet.ErrWalletAlreadyExists) {
			return s.loadOwnedWallet(ctx, walletID, ownerID)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.logger.Info(ctx, "Wallet created", map[string]interface{}{
		"wallet_id": walletID,
		"owner_id":  ownerID,
	})
	return w, nil
}

// loadOwnedWallet ウォレットを取得し所有者を確認する
func (s *WalletApplicationService) loadOwnedWallet(ctx context.Context, walletID, ownerID string) (*wallet.Wallet, error) {
	w, err := s.walletRepo.FindByWalletID(ctx, walletID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	if !w.OwnedBy(ownerID) {
		return nil, wallet.ErrOwnerMismatch
	}
	return w, nil
}

// findReplay 同じ冪等キーの既存トランザクションを返す（存在しない場合はnil）
func (s *WalletApplicationService) findReplay(ctx context.Context, candidate *transaction.Transaction, ownerID string) (*TransactionResponse, error) {
	existing, err := s.transactionRepo.FindByIdempotencyKey(ctx, candidate.IdempotencyKey())
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find transaction by idempotency key: %w", err)
	}
	if existing.WalletID() != candidate.WalletID() ||
		existing.TransactionType() != candidate.TransactionType() ||
		existing.Amount() != candidate.Amount() {
		return nil, ErrIdempotencyKeyReused
	}
	if _, err := s.loadOwnedWallet(ctx, existing.WalletID(), ownerID); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Idempotent replay", map[string]interface{}{
		"transaction_id":  existing.TransactionID(),
		"idempotency_key": existing.IdempotencyKey(),
		"status":          existing.Status().String(),
	})
	return s.toTransactionResponse(existing, true), nil
}

// withRetry 楽観的ロックの競合時にバックオフ付きで再試行する
func (s *WalletApplicationService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 10 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if !errors.Is(err, wallet.ErrConflict) {
			return err
		}
		s.logger.Warn(ctx, "Wallet version conflict, retrying", map[string]interface{}{
			"attempt": attempt + 1,
		})
	}
	return fmt.Errorf("failed after %d attempts: %w", s.maxRetries, err)
}

func settlementError(err error) error {
	if errors.Is(err, settlement.ErrExternalSettlementFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", settlement.ErrExternalSettlementFailure, err)
}

func (s *WalletApplicationService) toTransactionResponse(t *transaction.Transaction, replayed bool) *TransactionResponse {
	return &TransactionResponse{
		TransactionID:        t.TransactionID(),
		WalletID:             t.WalletID(),
		TransactionType:      t.TransactionType().String(),
		Amount:               t.Amount(),
		AmountDisplay:        FormatAmount(t.Amount(), s.currency),
		Status:               t.Status().String(),
		IdempotencyKey:       t.IdempotencyKey(),
		RelatedTicketID:      t.RelatedTicketID(),
		RelatedTransactionID: t.RelatedTransactionID(),
		ExternalRef:          t.ExternalRef(),
		CreatedAt:            t.CreatedAt(),
		CompletedAt:          t.CompletedAt(),
		Replayed:             replayed,
	}
}

func (s *WalletApplicationService) toPurchaseResponse(t *transaction.Transaction, issued *ticket.Ticket) *PurchaseResponse {
	return &PurchaseResponse{
		Transaction: s.toTransactionResponse(t, false),
		TicketID:    issued.TicketID(),
		EventID:     issued.EventID(),
		TicketState: issued.State().String(),
		ValidUntil:  issued.ValidUntil(),
	}
}
