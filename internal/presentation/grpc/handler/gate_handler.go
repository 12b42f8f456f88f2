package handler

import (
	"context"
	"encoding/base64"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	redemptionapp "ticket-wallet/internal/application/redemption"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

// GateServiceName ゲート端末向けサービス名
const GateServiceName = "ticketwallet.v1.GateService"

// GateServiceServer ゲート端末向けサービス
type GateServiceServer interface {
	ScanTicket(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GateHandler 入場スキャンのgRPCハンドラー
type GateHandler struct {
	redemptionService *redemptionapp.RedemptionApplicationService
	logger            *otelinfra.Logger
}

// NewGateHandler 新しいGateHandlerを作成
func NewGateHandler(redemptionService *redemptionapp.RedemptionApplicationService, logger *otelinfra.Logger) *GateHandler {
	return &GateHandler{
		redemptionService: redemptionService,
		logger:            logger,
	}
}

// ScanTicket QRコンテナまたはPNG画像を検証して入場処理する
// 入力: payload | image_base64, device_id, scanner_id
func (h *GateHandler) ScanTicket(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	deviceID := fields["device_id"].GetStringValue()
	if deviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	scannerID := fields["scanner_id"].GetStringValue()

	var (
		result *redemptionapp.RedemptionResult
		err    error
	)
	if payload := fields["payload"].GetStringValue(); payload != "" {
		result, err = h.redemptionService.ValidateScan(ctx, &redemptionapp.ValidateScanRequest{
			Payload:   []byte(payload),
			DeviceID:  deviceID,
			ScannerID: scannerID,
		})
	} else if encoded := fields["image_base64"].GetStringValue(); encoded != "" {
		img, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid image_base64")
		}
		result, err = h.redemptionService.ScanTicket(ctx, &redemptionapp.ScanTicketRequest{
			Image:     img,
			DeviceID:  deviceID,
			ScannerID: scannerID,
		})
	} else {
		return nil, status.Error(codes.InvalidArgument, "payload or image_base64 is required")
	}
	if err != nil {
		h.logger.Error(ctx, "Failed to scan ticket", err, map[string]interface{}{
			"device_id": deviceID,
		})
		return nil, toStatus(err)
	}

	out := map[string]interface{}{
		"outcome": result.Outcome.String(),
	}
	putString(out, "ticket_id", result.TicketID)
	putString(out, "owner_id", result.OwnerID)
	putString(out, "event_id", result.EventID)
	putString(out, "reason", result.Reason)
	if result.RedeemedAt != nil {
		out["redeemed_at"] = result.RedeemedAt.Format(time.RFC3339)
	}
	return structpb.NewStruct(out)
}

func putString(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func gateScanTicketHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, ic grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if ic == nil {
		return srv.(GateServiceServer).ScanTicket(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + GateServiceName + "/ScanTicket",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GateServiceServer).ScanTicket(ctx, req.(*structpb.Struct))
	}
	return ic(ctx, in, info, handler)
}

// GateServiceDesc ゲート端末向けサービスの定義
var GateServiceDesc = grpc.ServiceDesc{
	ServiceName: GateServiceName,
	HandlerType: (*GateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScanTicket", Handler: gateScanTicketHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ticketwallet/v1/gate.proto",
}

// RegisterGateServiceServer サービスを登録
func RegisterGateServiceServer(s grpc.ServiceRegistrar, srv GateServiceServer) {
	s.RegisterService(&GateServiceDesc, srv)
}
