package handler

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	authapp "ticket-wallet/internal/application/auth"
	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/settlement"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
)

// 先に一致したものが優先される
var statusRules = []struct {
	target error
	code   codes.Code
}{
	{transaction.ErrInvalidWalletID, codes.InvalidArgument},
	{transaction.ErrInvalidAmount, codes.InvalidArgument},
	{transaction.ErrAmountTooLarge, codes.InvalidArgument},
	{wallet.ErrInvalidWalletID, codes.InvalidArgument},
	{wallet.ErrInvalidOwnerID, codes.InvalidArgument},
	{wallet.ErrInvalidAmount, codes.InvalidArgument},
	{wallet.ErrAmountTooLarge, codes.InvalidArgument},
	{wallet.ErrBalanceOutOfRange, codes.InvalidArgument},
	{transaction.ErrInvalidTransactionStatus, codes.InvalidArgument},
	{qrpayload.ErrMalformedPayload, codes.InvalidArgument},
	{authapp.ErrInvalidToken, codes.Unauthenticated},
	{wallet.ErrOwnerMismatch, codes.PermissionDenied},
	{wallet.ErrWalletNotFound, codes.NotFound},
	{transaction.ErrTransactionNotFound, codes.NotFound},
	{wallet.ErrConflict, codes.Aborted},
	{walletapp.ErrIdempotencyKeyReused, codes.AlreadyExists},
	{settlement.ErrExternalSettlementFailure, codes.Unavailable},
}

// toStatus ドメインエラーをgRPCステータスに変換
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return status.Error(rule.code, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}
