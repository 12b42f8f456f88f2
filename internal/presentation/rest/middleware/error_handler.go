package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	authapp "ticket-wallet/internal/application/auth"
	"ticket-wallet/internal/application/issuance"
	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/settlement"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// errorRule ドメインエラーとHTTPステータスの対応
type errorRule struct {
	target error
	status int
	code   string
	log    string
}

// 先に一致したものが優先される
var errorRules = []errorRule{
	{transaction.ErrInvalidAmount, http.StatusBadRequest, "validation_error", "Invalid amount"},
	{transaction.ErrAmountTooLarge, http.StatusBadRequest, "validation_error", "Amount too large"},
	{transaction.ErrInvalidTransactionType, http.StatusBadRequest, "validation_error", "Unknown transaction type"},
	{transaction.ErrInvalidTransactionStatus, http.StatusBadRequest, "validation_error", "Unknown transaction status"},
	{transaction.ErrInvalidIdempotencyKey, http.StatusBadRequest, "validation_error", "Invalid idempotency key"},
	{transaction.ErrInvalidWalletID, http.StatusBadRequest, "validation_error", "Invalid wallet id"},
	{transaction.ErrInvalidTransactionID, http.StatusBadRequest, "validation_error", "Invalid transaction id"},
	{wallet.ErrInvalidAmount, http.StatusBadRequest, "validation_error", "Invalid amount"},
	{wallet.ErrAmountTooLarge, http.StatusBadRequest, "validation_error", "Amount too large"},
	{wallet.ErrBalanceOutOfRange, http.StatusBadRequest, "validation_error", "Balance out of range"},
	{wallet.ErrInvalidWalletID, http.StatusBadRequest, "validation_error", "Invalid wallet id"},
	{wallet.ErrInvalidOwnerID, http.StatusBadRequest, "validation_error", "Invalid owner id"},
	{qrpayload.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload", "Malformed payload"},
	{authapp.ErrOwnerIDRequired, http.StatusBadRequest, "validation_error", "Owner ID is required"},

	{authapp.ErrInvalidToken, http.StatusUnauthorized, "unauthorized", "Invalid token"},
	{wallet.ErrOwnerMismatch, http.StatusForbidden, "forbidden", "Owner mismatch"},

	{wallet.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found", "Wallet not found"},
	{transaction.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found", "Transaction not found"},
	{ticket.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found", "Ticket not found"},
	{event.ErrEventNotFound, http.StatusNotFound, "event_not_found", "Event not found"},

	{wallet.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds", "Insufficient funds"},
	{wallet.ErrConflict, http.StatusConflict, "conflict", "Wallet version conflict"},
	{walletapp.ErrIdempotencyKeyReused, http.StatusConflict, "idempotency_key_reused", "Idempotency key reused"},
	{walletapp.ErrNotRefundable, http.StatusConflict, "not_refundable", "Purchase not refundable"},
	{walletapp.ErrTransactionSwept, http.StatusConflict, "transaction_swept", "Transaction swept"},
	{transaction.ErrFinalizeConflict, http.StatusConflict, "finalize_conflict", "Finalize conflict"},
	{ticket.ErrInvalidState, http.StatusConflict, "invalid_ticket_state", "Invalid ticket state"},
	{issuance.ErrPurchaseNotCompleted, http.StatusConflict, "purchase_not_completed", "Purchase not completed"},
	{event.ErrEventClosed, http.StatusConflict, "event_closed", "Event closed"},

	{settlement.ErrExternalSettlementFailure, http.StatusBadGateway, "external_settlement_failure", "External settlement failure"},
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			return handleError(c, err, logger)
		}
	}
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	for _, rule := range errorRules {
		if !errors.Is(err, rule.target) {
			continue
		}
		fields := map[string]interface{}{
			"error": err.Error(),
			"code":  rule.code,
		}
		if rule.status >= http.StatusInternalServerError {
			logger.Error(ctx, rule.log, err, fields)
		} else {
			logger.Warn(ctx, rule.log, fields)
		}
		return c.JSON(rule.status, ErrorResponse{
			Error:   rule.code,
			Message: err.Error(),
		})
	}

	// EchoのHTTPエラー
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     httpErr.Message,
		})
		message := ""
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(httpErr.Code)
		}
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   http.StatusText(httpErr.Code),
			Message: message,
		})
	}

	// 予期しないエラー
	logger.Error(ctx, "Internal server error", err, map[string]interface{}{
		"path": c.Request().URL.Path,
	})
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_server_error",
		Message: "An unexpected error occurred",
	})
}
