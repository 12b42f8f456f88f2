package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// defaultSweepBatchSize 1回のスイープで扱うpendingトランザクションの上限
const defaultSweepBatchSize = 100

// LedgerApplicationService 台帳アプリケーションサービス
// トランザクションの追記・確定・照合・スイープを扱う
type LedgerApplicationService struct {
	transactionRepo transaction.TransactionRepository
	walletRepo      wallet.WalletRepository
	locker          wallet.Locker
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	pendingTimeout  time.Duration
	sweepBatchSize  int
	now             func() time.Time
}

// NewLedgerApplicationService 新しいLedgerApplicationServiceを作成
func NewLedgerApplicationService(
	transactionRepo transaction.TransactionRepository,
	walletRepo wallet.WalletRepository,
	locker wallet.Locker,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	pendingTimeout time.Duration,
	sweepBatchSize int,
) *LedgerApplicationService {
	if sweepBatchSize <= 0 {
		sweepBatchSize = defaultSweepBatchSize
	}
	return &LedgerApplicationService{
		transactionRepo: transactionRepo,
		walletRepo:      walletRepo,
		locker:          locker,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("ledger-service"),
		pendingTimeout:  pendingTimeout,
		sweepBatchSize:  sweepBatchSize,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// FinalizeOption 確定時にトランザクションへ付与する情報
type FinalizeOption func(*transaction.Transaction)

// WithExternalRef 外部決済の参照IDを付与
func WithExternalRef(ref string) FinalizeOption {
	return func(t *transaction.Transaction) {
		t.SetExternalRef(ref)
	}
}

// WithRelatedTicket 関連チケットIDを付与
func WithRelatedTicket(ticketID string) FinalizeOption {
	return func(t *transaction.Transaction) {
		t.SetRelatedTicketID(ticketID)
	}
}

// Append pendingトランザクションを追記しIDを返す
// 冪等キーが重複する場合はtransaction.ErrDuplicateIdempotencyKey
func (s *LedgerApplicationService) Append(ctx context.Context, t *transaction.Transaction) (string, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.Append")
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction_id", t.TransactionID()),
		attribute.String("wallet_id", t.WalletID()),
		attribute.String("transaction_type", t.TransactionType().String()),
		attribute.Int64("amount", t.Amount()),
	)

	if !t.Status().IsPending() {
		err := fmt.Errorf("append requires a pending transaction: %w", transaction.ErrInvalidOutcome)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", err
	}

	if err := s.transactionRepo.Append(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, transaction.ErrDuplicateIdempotencyKey) {
			return "", err
		}
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}

	s.metrics.RecordTransaction(ctx, t.TransactionType().String(), t.Status().String())
	return t.TransactionID(), nil
}

// Finalize pendingトランザクションを終端状態に確定する
// 同じ結果での再確定は保存済みのトランザクションを返し、異なる結果の場合はErrFinalizeConflict
func (s *LedgerApplicationService) Finalize(
	ctx context.Context,
	transactionID string,
	outcome transaction.TransactionStatus,
	opts ...FinalizeOption,
) (*transaction.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.Finalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction_id", transactionID),
		attribute.String("outcome", outcome.String()),
	)

	t, err := s.finalize(ctx, transactionID, outcome, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	return t, nil
}

func (s *LedgerApplicationService) finalize(
	ctx context.Context,
	transactionID string,
	outcome transaction.TransactionStatus,
	opts ...FinalizeOption,
) (*transaction.Transaction, error) {
	t, err := s.transactionRepo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	changed, err := t.Finalize(outcome, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return t, nil
	}
	for _, opt := range opts {
		opt(t)
	}

	updated, err := s.transactionRepo.UpdateStatus(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	if !updated {
		// 他の確定に負けた場合は保存値で判定
		stored, err := s.transactionRepo.FindByTransactionID(ctx, transactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to find transaction: %w", err)
		}
		if stored.Status() != outcome {
			return nil, transaction.ErrFinalizeConflict
		}
		return stored, nil
	}

	s.metrics.RecordTransaction(ctx, t.TransactionType().String(), t.Status().String())
	s.logger.Info(ctx, "Transaction finalized", map[string]interface{}{
		"transaction_id":   t.TransactionID(),
		"wallet_id":        t.WalletID(),
		"transaction_type": t.TransactionType().String(),
		"status":           t.Status().String(),
		"amount":           t.Amount(),
	})
	return t, nil
}

// ListByWallet ウォレットのトランザクションを作成順に取得（limit 0は全件）
func (s *LedgerApplicationService) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*transaction.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.ListByWallet")
	defer span.End()

	span.SetAttributes(attribute.String("wallet_id", walletID))

	txs, err := s.transactionRepo.FindByWalletID(ctx, walletID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// Reconcile ウォレットの残高と台帳を照合する
// 不整合は報告のみで修正しない
func (s *LedgerApplicationService) Reconcile(ctx context.Context, walletID string) (*ReconciliationReport, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.Reconcile")
	defer span.End()

	span.SetAttributes(attribute.String("wallet_id", walletID))

	var report *ReconciliationReport
	err := s.locker.WithLock(ctx, walletID, func(ctx context.Context) error {
		var err error
		report, err = s.reconcileLocked(ctx, walletID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reconcile wallet: %w", err)
	}

	span.SetAttributes(attribute.Int("faults", len(report.Faults)))
	s.reportFaults(ctx, report)
	return report, nil
}

// ReconcileAll 全ウォレットを照合する
func (s *LedgerApplicationService) ReconcileAll(ctx context.Context) ([]*ReconciliationReport, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.ReconcileAll")
	defer span.End()

	walletIDs, err := s.walletRepo.ListWalletIDs(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	reports := make([]*ReconciliationReport, 0, len(walletIDs))
	for _, walletID := range walletIDs {
		report, err := s.Reconcile(ctx, walletID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		reports = append(reports, report)
	}

	span.SetAttributes(attribute.Int("wallets", len(reports)))
	return reports, nil
}

func (s *LedgerApplicationService) reconcileLocked(ctx context.Context, walletID string) (*ReconciliationReport, error) {
	w, err := s.walletRepo.FindByWalletID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	txs, err := s.transactionRepo.FindByWalletID(ctx, walletID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	report := &ReconciliationReport{
		WalletID:       walletID,
		Balance:        w.Balance(),
		TotalDeposited: w.TotalDeposited(),
		TotalSpent:     w.TotalSpent(),
		Faults:         []Fault{},
		CheckedAt:      s.now(),
	}
	for _, t := range txs {
		switch {
		case t.Status().IsCompleted():
			report.LedgerSum += t.SignedAmount()
		case t.Status().IsPending():
			report.PendingCount++
		}
	}

	if report.LedgerSum != w.Balance() {
		report.Faults = append(report.Faults, Fault{
			Type:     FaultLedgerMismatch,
			Expected: report.LedgerSum,
			Actual:   w.Balance(),
			Message:  "sum of completed transactions does not match balance",
		})
	}
	if err := w.CheckInvariant(); err != nil {
		report.Faults = append(report.Faults, Fault{
			Type:     FaultInvariantViolation,
			Expected: w.TotalDeposited() - w.TotalSpent(),
			Actual:   w.Balance(),
			Message:  err.Error(),
		})
	}
	return report, nil
}

func (s *LedgerApplicationService) reportFaults(ctx context.Context, report *ReconciliationReport) {
	for _, f := range report.Faults {
		s.metrics.RecordReconciliationFault(ctx, report.WalletID)
		s.logger.Error(ctx, "Reconciliation fault detected", nil, map[string]interface{}{
			"wallet_id":  report.WalletID,
			"fault_type": string(f.Type),
			"expected":   f.Expected,
			"actual":     f.Actual,
		})
	}
}

// Sweep 作成からpendingTimeout以上経過したpendingトランザクションを失敗として確定し、該当ウォレットを照合する
func (s *LedgerApplicationService) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerApplicationService.Sweep")
	defer span.End()

	cutoff := now.Add(-s.pendingTimeout)
	stale, err := s.transactionRepo.FindPendingBefore(ctx, cutoff, s.sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find stale pending transactions: %w", err)
	}

	result := &SweepResult{
		FailedTransactionIDs: []string{},
		Reports:              []*ReconciliationReport{},
	}
	touched := make(map[string]struct{})

	for _, t := range stale {
		swept := false
		fail := func(ctx context.Context) error {
			current, err := s.transactionRepo.FindByTransactionID(ctx, t.TransactionID())
			if err != nil {
				return err
			}
			if !current.Status().IsPending() {
				return nil
			}
			if _, err := s.finalize(ctx, t.TransactionID(), transaction.TransactionStatusFailed); err != nil {
				return err
			}
			swept = true
			return nil
		}

		err := s.locker.WithLock(ctx, t.WalletID(), fail)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			// ウォレット作成前に残ったpendingはロックなしで確定できる
			err = fail(ctx)
		}
		if err != nil {
			s.logger.Error(ctx, "Failed to sweep pending transaction", err, map[string]interface{}{
				"transaction_id": t.TransactionID(),
				"wallet_id":      t.WalletID(),
			})
			continue
		}
		if !swept {
			continue
		}

		result.FailedTransactionIDs = append(result.FailedTransactionIDs, t.TransactionID())
		touched[t.WalletID()] = struct{}{}
		s.metrics.RecordSweptTransaction(ctx, t.TransactionType().String())
		s.logger.Warn(ctx, "Stale pending transaction failed by sweep", map[string]interface{}{
			"transaction_id":   t.TransactionID(),
			"wallet_id":        t.WalletID(),
			"transaction_type": t.TransactionType().String(),
			"created_at":       t.CreatedAt(),
		})
	}

	walletIDs := make([]string, 0, len(touched))
	for walletID := range touched {
		walletIDs = append(walletIDs, walletID)
	}
	sort.Strings(walletIDs)

	for _, walletID := range walletIDs {
		report, err := s.Reconcile(ctx, walletID)
		if err != nil {
			if errors.Is(err, wallet.ErrWalletNotFound) {
				continue
			}
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		result.Reports = append(result.Reports, report)
	}

	span.SetAttributes(attribute.Int("swept", len(result.FailedTransactionIDs)))
	return result, nil
}
