package settlement

import (
	"fmt"

	"ticket-wallet/internal/domain/settlement"
	"ticket-wallet/internal/infrastructure/config"
)

// NewGateway 設定に応じたsettlement.Gatewayを作成
func NewGateway(cfg *config.SettlementConfig) (settlement.Gateway, error) {
	switch cfg.Driver {
	case "instant", "":
		return NewInstantGateway(), nil
	case "http":
		return NewHTTPGateway(cfg.Endpoint, cfg.Currency, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported settlement driver: %s", cfg.Driver)
	}
}
