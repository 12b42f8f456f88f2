package history

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// HistoryApplicationService 履歴アプリケーションサービス
type HistoryApplicationService struct {
	walletRepo      wallet.WalletRepository
	transactionRepo transaction.TransactionRepository
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
}

// NewHistoryApplicationService 新しいHistoryApplicationServiceを作成
func NewHistoryApplicationService(
	walletRepo wallet.WalletRepository,
	transactionRepo transaction.TransactionRepository,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *HistoryApplicationService {
	return &HistoryApplicationService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("history-service"),
	}
}

// GetTransactionHistory ウォレットのトランザクション履歴を作成順に取得
func (s *HistoryApplicationService) GetTransactionHistory(ctx context.Context, req *GetTransactionHistoryRequest) (*GetTransactionHistoryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetTransactionHistory")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.Int("limit", req.Limit),
		attribute.Int("offset", req.Offset),
	)

	s.logger.Info(ctx, "Getting transaction history", map[string]interface{}{
		"wallet_id":        req.WalletID,
		"limit":            req.Limit,
		"offset":           req.Offset,
		"transaction_type": req.TransactionType,
		"status":           req.Status,
	})

	// バリデーション
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	var (
		typeFilter   transaction.TransactionType
		statusFilter transaction.TransactionStatus
		err          error
	)
	if req.TransactionType != "" {
		if typeFilter, err = transaction.NewTransactionType(req.TransactionType); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
	}
	if req.Status != "" {
		if statusFilter, err = transaction.NewTransactionStatus(req.Status); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
	}

	w, err := s.walletRepo.FindByWalletID(ctx, req.WalletID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	if !w.OwnedBy(req.OwnerID) {
		span.RecordError(wallet.ErrOwnerMismatch)
		span.SetStatus(otelcodes.Error, wallet.ErrOwnerMismatch.Error())
		return nil, wallet.ErrOwnerMismatch
	}

	// 次ページの有無を判定するため1件多く取得
	transactions, err := s.transactionRepo.FindByWalletID(ctx, req.WalletID, req.Limit+1, req.Offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to get transaction history", err, map[string]interface{}{
			"wallet_id": req.WalletID,
		})
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	hasMore := len(transactions) > req.Limit
	if hasMore {
		transactions = transactions[:req.Limit]
	}

	// フィルタリング
	filtered := make([]*transaction.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if typeFilter != "" && txn.TransactionType() != typeFilter {
			continue
		}
		if statusFilter != "" && txn.Status() != statusFilter {
			continue
		}
		filtered = append(filtered, txn)
	}

	return &GetTransactionHistoryResponse{
		Transactions: filtered,
		Limit:        req.Limit,
		Offset:       req.Offset,
		HasMore:      hasMore,
	}, nil
}
