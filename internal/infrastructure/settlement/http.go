package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"ticket-wallet/internal/domain/settlement"
)

// maxResponseSize 読み取るレスポンスボディの上限
const maxResponseSize = 64 * 1024

// HTTPGateway HTTPで外部決済サービスを呼び出すゲートウェイ
// POST {endpoint}/collect, {endpoint}/payout にJSONを送り、2xxと参照IDを成功とみなす
type HTTPGateway struct {
	endpoint string
	currency string
	client   *http.Client
	tracer   trace.Tracer
}

type httpRequest struct {
	TransactionID string `json:"transaction_id"`
	WalletID      string `json:"wallet_id"`
	OwnerID       string `json:"owner_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Direction     string `json:"direction"`
	ExternalRef   string `json:"external_ref,omitempty"`
}

type httpResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// NewHTTPGateway 新しいHTTPGatewayを作成
func NewHTTPGateway(endpoint, currency string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		currency: currency,
		client:   &http.Client{Timeout: timeout},
		tracer:   otel.Tracer("settlement-gateway"),
	}
}

// Collect 入金を受け取る
func (g *HTTPGateway) Collect(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	return g.call(ctx, settlement.DirectionCollect, req)
}

// Payout 出金を支払う
func (g *HTTPGateway) Payout(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	return g.call(ctx, settlement.DirectionPayout, req)
}

func (g *HTTPGateway) call(ctx context.Context, direction settlement.Direction, req settlement.Request) (settlement.Result, error) {
	ctx, span := g.tracer.Start(ctx, "HTTPGateway."+string(direction))
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction_id", req.TransactionID),
		attribute.Int64("amount", req.Amount),
	)

	result, err := g.do(ctx, direction, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return settlement.Result{}, err
	}
	return result, nil
}

func (g *HTTPGateway) do(ctx context.Context, direction settlement.Direction, req settlement.Request) (settlement.Result, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}
	body, err := json.Marshal(httpRequest{
		TransactionID: req.TransactionID,
		WalletID:      req.WalletID,
		OwnerID:       req.OwnerID,
		Amount:        req.Amount,
		Currency:      currency,
		Direction:     string(direction),
		ExternalRef:   req.ExternalRef,
	})
	if err != nil {
		return settlement.Result{}, fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/"+string(direction), bytes.NewReader(body))
	if err != nil {
		return settlement.Result{}, fmt.Errorf("failed to build settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TransactionID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return settlement.Result{}, fmt.Errorf("%w: %v", settlement.ErrExternalSettlementFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return settlement.Result{}, fmt.Errorf("%w: failed to read response: %v", settlement.ErrExternalSettlementFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return settlement.Result{}, fmt.Errorf("%w: status %d", settlement.ErrExternalSettlementFailure, resp.StatusCode)
	}

	var out httpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return settlement.Result{}, fmt.Errorf("%w: invalid response body: %v", settlement.ErrExternalSettlementFailure, err)
	}
	if out.Reference == "" {
		return settlement.Result{}, fmt.Errorf("%w: missing reference", settlement.ErrExternalSettlementFailure)
	}
	return settlement.Result{Reference: out.Reference}, nil
}
