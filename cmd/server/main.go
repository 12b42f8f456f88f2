package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	authapp "ticket-wallet/internal/application/auth"
	historyapp "ticket-wallet/internal/application/history"
	issuanceapp "ticket-wallet/internal/application/issuance"
	ledgerapp "ticket-wallet/internal/application/ledger"
	redemptionapp "ticket-wallet/internal/application/redemption"
	walletapp "ticket-wallet/internal/application/wallet"
	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/qrpayload"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
	"ticket-wallet/internal/infrastructure/config"
	"ticket-wallet/internal/infrastructure/fraud"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
	"ticket-wallet/internal/infrastructure/persistence/memory"
	"ticket-wallet/internal/infrastructure/persistence/mysql"
	"ticket-wallet/internal/infrastructure/qrcode"
	settlementinfra "ticket-wallet/internal/infrastructure/settlement"
	grpcserver "ticket-wallet/internal/presentation/grpc"
	"ticket-wallet/internal/presentation/rest"
)

// storage 永続化層の実装一式
type storage struct {
	wallets      wallet.WalletRepository
	transactions transaction.TransactionRepository
	tickets      ticket.TicketRepository
	events       event.Catalog
	locker       wallet.Locker
	close        func() error
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdownWithTimeout("tracer", tracerShutdown)

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer shutdownWithTimeout("meter", meterShutdown)

	// ロガーとメトリクスの初期化
	logger := otelinfra.NewLogger(otelinfra.Tracer("ticket-wallet"))
	logger.SetLevel(cfg.LogLevel)
	metrics, err := otelinfra.NewMetrics("ticket-wallet")
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Error(context.Background(), "Failed to close storage", err, nil)
		}
	}()

	gateway, err := settlementinfra.NewGateway(&cfg.Settlement)
	if err != nil {
		return fmt.Errorf("failed to create settlement gateway: %w", err)
	}
	codec, err := qrpayload.NewCodec([]byte(cfg.QR.SigningSecret))
	if err != nil {
		return fmt.Errorf("failed to create qr codec: %w", err)
	}
	imager := qrcode.NewImager(cfg.QR.ImageSize)

	monitor, closeMonitor, err := newFraudMonitor(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer closeMonitor()

	// アプリケーションサービスの初期化
	ledgerService := ledgerapp.NewLedgerApplicationService(
		store.transactions,
		store.wallets,
		store.locker,
		logger,
		metrics,
		cfg.Ledger.PendingTimeout,
		cfg.Ledger.SweepBatchSize,
	)
	issuanceService := issuanceapp.NewIssuanceApplicationService(
		store.tickets,
		store.transactions,
		store.wallets,
		store.events,
		codec,
		imager,
		cfg.Ticket.ExpiryGrace,
		logger,
		metrics,
	)
	redemptionService := redemptionapp.NewRedemptionApplicationService(
		store.tickets,
		codec,
		imager,
		monitor,
		logger,
		metrics,
	)
	walletService := walletapp.NewWalletApplicationService(
		store.wallets,
		store.transactions,
		store.tickets,
		store.events,
		store.locker,
		ledgerService,
		gateway,
		issuanceService,
		cfg.Settlement.Currency,
		logger,
		metrics,
	)
	historyService := historyapp.NewHistoryApplicationService(store.wallets, store.transactions, logger, metrics)
	authService := authapp.NewAuthApplicationService(&cfg.JWT, logger)

	// REST APIルーターの初期化
	router, err := rest.NewRouter(cfg, logger, metrics, rest.Services{
		Auth:       authService,
		Wallet:     walletService,
		History:    historyService,
		Issuance:   issuanceService,
		Redemption: redemptionService,
		Ledger:     ledgerService,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, grpcserver.Services{
		Auth:       authService,
		Wallet:     walletService,
		Redemption: redemptionService,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	address := fmt.Sprintf(":%d", cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "REST API server starting", map[string]interface{}{"address": address})
		if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST API server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return grpcSrv.Start()
	})

	g.Go(func() error {
		runSweeper(gctx, ledgerService, cfg.Ledger.SweepInterval, logger)
		return nil
	})

	// シグナルまたはいずれかのサーバー停止で全体を止める
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down servers", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := router.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("REST API shutdown: %w", err))
		}
		if err := grpcSrv.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gRPC shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info(context.Background(), "Servers stopped", nil)
	return nil
}

// newStorage 設定に応じて永続化層を組み立てる
func newStorage(ctx context.Context, cfg *config.Config, logger *otelinfra.Logger) (*storage, error) {
	if cfg.Storage.Driver == "memory" {
		store := memory.New()
		logger.Warn(ctx, "Using in-memory storage; data is lost on restart", nil)
		return &storage{
			wallets:      store.Wallets(),
			transactions: store.Transactions(),
			tickets:      store.Tickets(),
			events:       store.Events(),
			locker:       memory.NewLocker(store),
			close:        func() error { return nil },
		}, nil
	}

	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &storage{
		wallets:      mysql.NewWalletRepository(db),
		transactions: mysql.NewTransactionRepository(db),
		tickets:      mysql.NewTicketRepository(db),
		events:       mysql.NewEventCatalog(db),
		locker:       mysql.NewWalletLocker(mysql.NewTransactionManager(db)),
		close:        db.Close,
	}, nil
}

// newFraudMonitor 不正スキャン監視を組み立てる（Redis・RabbitMQは設定で有効な場合のみ）
func newFraudMonitor(ctx context.Context, cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics) (*fraud.Monitor, func(), error) {
	var (
		counter   fraud.Counter
		publisher fraud.Publisher
		closers   []func() error
	)

	if cfg.Redis.Enabled {
		client, err := fraud.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		counter = fraud.NewRedisCounter(client, cfg.Fraud.Window)
		closers = append(closers, client.Close)
	}

	if cfg.RabbitMQ.Enabled {
		amqpPublisher, err := fraud.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		publisher = amqpPublisher
		closers = append(closers, amqpPublisher.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error(context.Background(), "Failed to close fraud monitor dependency", err, nil)
			}
		}
	}
	return fraud.NewMonitor(counter, publisher, cfg.Fraud.Threshold, logger, metrics), closeAll, nil
}

// runSweeper 期限切れのpendingトランザクションを定期的にfailedへ確定する
func runSweeper(ctx context.Context, ledgerService *ledgerapp.LedgerApplicationService, interval time.Duration, logger *otelinfra.Logger) {
	if interval <= 0 {
		logger.Warn(ctx, "Ledger sweeper disabled", nil)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := ledgerService.Sweep(ctx, time.Now().UTC())
			if err != nil {
				logger.Error(ctx, "Ledger sweep failed", err, nil)
				continue
			}
			if len(result.FailedTransactionIDs) > 0 {
				logger.Info(ctx, "Ledger sweep completed", map[string]interface{}{
					"failed_transactions": len(result.FailedTransactionIDs),
				})
			}
		}
	}
}

func shutdownWithTimeout(name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown %s: %v", name, err)
	}
}
