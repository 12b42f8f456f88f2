package handler

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/presentation/grpc/interceptor"
)

// WalletServiceName ウォレット所有者向けサービス名
const WalletServiceName = "ticketwallet.v1.WalletService"

// WalletServiceServer ウォレット所有者向けサービス
type WalletServiceServer interface {
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// WalletHandler 残高照会のgRPCハンドラー
type WalletHandler struct {
	walletService *walletapp.WalletApplicationService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(walletService *walletapp.WalletApplicationService) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

// GetBalance 残高を取得
// 金額は精度を保つため文字列で返す
func (h *WalletHandler) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ownerID, ok := interceptor.OwnerIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "owner_id not found in token")
	}
	walletID := req.GetFields()["wallet_id"].GetStringValue()
	if walletID == "" {
		return nil, status.Error(codes.InvalidArgument, "wallet_id is required")
	}

	resp, err := h.walletService.GetBalance(ctx, &walletapp.GetBalanceRequest{
		WalletID: walletID,
		OwnerID:  ownerID,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"wallet_id":       resp.WalletID,
		"owner_id":        resp.OwnerID,
		"balance":         strconv.FormatInt(resp.Balance, 10),
		"total_deposited": strconv.FormatInt(resp.TotalDeposited, 10),
		"total_spent":     strconv.FormatInt(resp.TotalSpent, 10),
		"balance_display": resp.BalanceDisplay,
		"currency":        resp.Currency,
		"version":         float64(resp.Version),
	})
}

func walletGetBalanceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, ic grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if ic == nil {
		return srv.(WalletServiceServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + WalletServiceName + "/GetBalance",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WalletServiceServer).GetBalance(ctx, req.(*structpb.Struct))
	}
	return ic(ctx, in, info, handler)
}

// WalletServiceDesc ウォレット所有者向けサービスの定義
var WalletServiceDesc = grpc.ServiceDesc{
	ServiceName: WalletServiceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: walletGetBalanceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ticketwallet/v1/wallet.proto",
}

// RegisterWalletServiceServer サービスを登録
func RegisterWalletServiceServer(s grpc.ServiceRegistrar, srv WalletServiceServer) {
	s.RegisterService(&WalletServiceDesc, srv)
}
