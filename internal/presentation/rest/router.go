package rest

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	authapp "ticket-wallet/internal/application/auth"
	historyapp "ticket-wallet/internal/application/history"
	issuanceapp "ticket-wallet/internal/application/issuance"
	ledgerapp "ticket-wallet/internal/application/ledger"
	redemptionapp "ticket-wallet/internal/application/redemption"
	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
	"ticket-wallet/internal/presentation/rest/handler"
	restmiddleware "ticket-wallet/internal/presentation/rest/middleware"
)

// Services ルーターが公開するアプリケーションサービス
type Services struct {
	Auth       *authapp.AuthApplicationService
	Wallet     *walletapp.WalletApplicationService
	History    *historyapp.HistoryApplicationService
	Issuance   *issuanceapp.IssuanceApplicationService
	Redemption *redemptionapp.RedemptionApplicationService
	Ledger     *ledgerapp.LedgerApplicationService
}

// Router REST APIルーター
type Router struct {
	echo *echo.Echo
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	services Services,
) (*Router, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Echoのデフォルトエラーハンドラーを無効化（カスタムエラーハンドラーを使用）
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		// エラーハンドリングミドルウェアで処理される
	}

	setupMiddleware(e, logger, metrics)
	setupRoutes(e, cfg, logger, services)

	// Swagger UI / ReDoc統合
	SetupSwagger(e)

	return &Router{echo: e}, nil
}

// setupMiddleware ミドルウェアを設定
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"}, // 本番環境では適切に設定
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			handler.HeaderIdempotencyKey, restmiddleware.HeaderAPIKey, restmiddleware.HeaderDeviceKey,
		},
	}))

	e.Use(middleware.RequestID())
	e.Use(restmiddleware.SecurityHeadersMiddleware())
	e.Use(restmiddleware.TracingMiddleware())
	e.Use(restmiddleware.MetricsMiddleware(metrics))

	// ログはエラーハンドラーの外側で、書き込まれたステータスを記録する
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func setupRoutes(e *echo.Echo, cfg *config.Config, logger *otelinfra.Logger, services Services) {
	authHandler := handler.NewAuthHandler(services.Auth)
	walletHandler := handler.NewWalletHandler(services.Wallet)
	historyHandler := handler.NewHistoryHandler(services.History)
	ticketHandler := handler.NewTicketHandler(services.Issuance)
	scanHandler := handler.NewScanHandler(services.Redemption)
	adminHandler := handler.NewAdminHandler(services.Wallet, services.Ledger)

	api := e.Group("/api/v1")

	// ウォレット所有者（JWT）とゲート端末はルート単位で認証する
	ownerAuth := restmiddleware.AuthMiddleware(services.Auth, logger)
	api.POST("/wallets/:wallet_id/deposits", walletHandler.Deposit, ownerAuth)
	api.POST("/wallets/:wallet_id/withdrawals", walletHandler.Withdraw, ownerAuth)
	api.POST("/wallets/:wallet_id/tickets", walletHandler.Purchase, ownerAuth)
	api.GET("/wallets/:wallet_id/balance", walletHandler.GetBalance, ownerAuth)
	api.GET("/wallets/:wallet_id/transactions", historyHandler.GetTransactionHistory, ownerAuth)
	api.GET("/tickets/:ticket_id/image", ticketHandler.GetTicketImage, ownerAuth)

	api.POST("/scans", scanHandler.Scan, restmiddleware.DeviceKeyMiddleware(&cfg.DeviceAPI, logger))

	// 運用（APIキー + IP制限）
	admin := api.Group("/admin", restmiddleware.APIKeyMiddleware(&cfg.AdminAPI, logger))
	admin.POST("/auth/token", authHandler.GenerateToken)
	admin.POST("/tickets/:ticket_id/void", ticketHandler.VoidTicket)
	admin.GET("/events/:event_id/tickets", ticketHandler.ListEventTickets)
	admin.GET("/events/:event_id/image", ticketHandler.GetEventImage)
	admin.POST("/transactions/:transaction_id/refund", adminHandler.Refund)
	admin.GET("/reconciliation", adminHandler.ReconcileAll)
	admin.GET("/wallets/:wallet_id/reconciliation", adminHandler.ReconcileWallet)
	admin.POST("/sweep", adminHandler.Sweep)

	// ヘルスチェックエンドポイント（認証不要）
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler http.Handlerとして返す
func (r *Router) Handler() http.Handler {
	return r.echo
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown 処理中のリクエストを待ってサーバーを停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
