package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"cryptofolio/internal/api"
	"cryptofolio/internal/config"
	"cryptofolio/internal/exchange"
	"cryptofolio/internal/repository"
	"cryptofolio/internal/service"
	"cryptofolio/internal/websocket"
	"cryptofolio/internal/worker"
	"cryptofolio/pkg/crypto"
	"cryptofolio/pkg/retry"
	"cryptofolio/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", utils.Err(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	if cfg.Database.AutoMigrate {
		if err := repository.ApplyMigrations(ctx, cfg.Database.DSN(), logger); err != nil {
			return err
		}
	}

	box, err := crypto.NewSecretBox(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init secret box: %w", err)
	}

	// Клиент биржи с breaker и бюджетом веса
	exch, err := exchange.NewExchange(cfg.Exchange.Name, exchangeConfig(cfg.Exchange), logger)
	if err != nil {
		return err
	}
	defer exch.Close()

	checkClock(ctx, exch, logger)

	// Инициализация репозиториев
	credentialRepo := repository.NewCredentialRepository(db)
	holdingRepo := repository.NewHoldingRepository(db)
	tradeRepo := repository.NewTradeRepository(db)

	// Пул для фонового merge снимков
	mergePool := worker.NewPool("merge", cfg.Sync.MergeWorkers, cfg.Sync.MergeQueue, logger)

	// Инициализация сервисов
	credentialService := service.NewCredentialService(credentialRepo, box, exch, logger)
	credentialService.SetFailureThreshold(cfg.Sync.FailureThreshold)

	portfolioService := service.NewPortfolioService(
		credentialService,
		holdingRepo,
		exch,
		mergePool,
		cfg.Sync.MergeTimeout,
		logger,
	)

	profit := service.NewProfitCalculator(tradeRepo, cfg.Sync.ProfitLookback)
	tradeSyncService := service.NewTradeSyncService(
		credentialService,
		tradeRepo,
		profit,
		exch,
		service.TradeSyncConfig{
			DefaultSymbols: cfg.Sync.DefaultSymbols,
			SymbolDelay:    cfg.Sync.SymbolDelay,
		},
		logger,
	)

	statsService := service.NewStatsService(tradeRepo)

	// WebSocket hub для push обновлений
	hub := websocket.NewHub(logger)
	go hub.Run()
	portfolioService.SetWebSocketHub(hub)
	tradeSyncService.SetWebSocketHub(hub)

	router := api.SetupRoutes(&api.Dependencies{
		PortfolioService:  portfolioService,
		TradeSyncService:  tradeSyncService,
		StatsService:      statsService,
		CredentialService: credentialService,
		Hub:               hub,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Logger:            logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// порядок: перестать принимать запросы, дождаться merge, закрыть WebSocket
	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := mergePool.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	hub.Stop()

	stats := mergePool.Stats()
	logger.Info("server exited",
		utils.Int64("merges_completed", stats.Completed),
		utils.Int64("merges_failed", stats.Failed),
		utils.Int64("ws_dropped", hub.DroppedMessages()),
	)
	return shutdownErr
}

// initDatabase создает подключение к базе данных и ждёт её готовности
func initDatabase(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConn)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConn)
	db.SetConnMaxLifetime(5 * time.Minute)

	// БД в docker-compose стартует дольше сервиса
	retryCfg := retry.StartupConfig()
	retryCfg.OnRetry = func(err error, delay time.Duration) {
		logger.Warn("database not ready, retrying", utils.Err(err), utils.Duration(delay))
	}

	err = repository.WaitForDB(ctx, db, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func exchangeConfig(c config.ExchangeConfig) exchange.BinanceConfig {
	bc := exchange.DefaultBinanceConfig()
	bc.BaseURL = c.BaseURL
	bc.RecvWindow = c.RecvWindow
	bc.WeightCeiling = c.WeightCeiling
	bc.BudgetWindow = c.BudgetWindow
	bc.BreakerThreshold = c.BreakerThreshold
	bc.BreakerCooldown = c.BreakerCooldown
	bc.MaxClockSkew = c.MaxClockSkew
	bc.HTTP.ConnectTimeout = c.ConnectTimeout
	bc.HTTP.ReadTimeout = c.ReadTimeout
	bc.HTTP.TotalTimeout = c.TotalTimeout
	return bc
}

// checkClock предупреждает о расхождении часов: подписанные запросы будут отклонены биржей
func checkClock(ctx context.Context, exch exchange.Exchange, logger *utils.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	skew, err := exch.CheckClockSkew(ctx)
	if err != nil {
		logger.Warn("exchange clock check failed", utils.Exchange(exch.GetName()), utils.Err(err))
		return
	}
	logger.Info("exchange clock checked", utils.Exchange(exch.GetName()), utils.Duration(skew))
}
