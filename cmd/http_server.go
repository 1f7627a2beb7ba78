package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mkumbo/billing-gateway/internal"
	"github.com/mkumbo/billing-gateway/internal/bill"
	billPostgres "github.com/mkumbo/billing-gateway/internal/bill/postgres"
	"github.com/mkumbo/billing-gateway/internal/callback"
	"github.com/mkumbo/billing-gateway/internal/forwarder"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/ledger"
	ledgerPostgres "github.com/mkumbo/billing-gateway/internal/ledger/postgres"
	"github.com/mkumbo/billing-gateway/internal/notify"
	notifyPostgres "github.com/mkumbo/billing-gateway/internal/notify/postgres"
	"github.com/mkumbo/billing-gateway/internal/payment"
	paymentPostgres "github.com/mkumbo/billing-gateway/internal/payment/postgres"
	"github.com/mkumbo/billing-gateway/internal/reconciliation"
	reconPostgres "github.com/mkumbo/billing-gateway/internal/reconciliation/postgres"
	"github.com/mkumbo/billing-gateway/internal/transport/rest"
	"github.com/mkumbo/billing-gateway/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and gateway callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *gorm.DB
	SQLDB      *sql.DB
	Router     *chi.Mux
	Dispatcher *jobs.Dispatcher
	Scheduler  *reconciliation.Scheduler
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := deps.Scheduler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start reconciliation scheduler: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		deps.Scheduler.Stop()
		deps.Dispatcher.Shutdown()
		if err := deps.SQLDB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.LoggerWrapper()

	db, sqlDB, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	signer, err := initSigner(config.Gateway, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	spConfig := gepg.ServiceProviderConfig{
		GrpCode:   config.Gateway.GrpCode,
		SpCode:    config.Gateway.SpCode,
		SubSpCode: config.Gateway.SubSpCode,
		SysCode:   config.Gateway.SysCode,
	}
	gatewayClient := gepg.NewClient(gepg.ClientConfig{
		BaseURL:     config.Gateway.BaseURL,
		SpCode:      config.Gateway.SpCode,
		Timeout:     config.Gateway.Timeout,
		MaxAttempts: config.Gateway.MaxAttempts,
		Backoff:     config.Gateway.Backoff,
	}, lg)

	dispatcher := jobs.NewDispatcher(jobs.Config{
		MaxWorkers:     config.Jobs.MaxWorkers,
		JobQueueSize:   config.Jobs.QueueSize,
		DefaultRetries: config.Jobs.DefaultRetries,
		DefaultBackoff: config.Jobs.DefaultBackoff,
	}, lg)

	ledgerService := ledger.NewService(ledgerPostgres.NewLedgerRepository(db), lg)

	var notifierSink notify.Notifier
	if config.Notify.Enabled {
		notifierSink = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     config.Notify.SMTPHost,
			Port:     config.Notify.SMTPPort,
			Username: config.Notify.Username,
			Password: config.Notify.Password,
			From:     config.Notify.From,
		})
	} else {
		notifierSink = notify.NewLogNotifier(lg)
	}
	notifyService := notify.NewService(notifyPostgres.NewDeliveryRepository(db), notifierSink, dispatcher, lg)
	alerter := notify.NewAlerter(notifierSink, config.Notify.OperatorEmail, lg)

	fwd := forwarder.New(config.Gateway.Timeout, lg)

	billService := bill.NewService(
		billPostgres.NewBillRepository(db),
		ledgerService, gatewayClient, signer, spConfig,
		dispatcher, notifyService, fwd, alerter, lg)

	paymentService := payment.NewService(
		paymentPostgres.NewPaymentRepository(db),
		paymentPostgres.NewBillLookup(db),
		notifyService, fwd, lg)

	reconEngine := reconciliation.NewEngine(
		reconPostgres.NewReconciliationRepository(db),
		ledgerService, gatewayClient, signer, spConfig,
		dispatcher, paymentService, paymentPostgres.NewBillLookup(db), alerter, lg)
	scheduler := reconciliation.NewScheduler(
		reconEngine, config.Reconciliation.CronSpec, config.Reconciliation.BackfillDays, lg)

	callbackHandler := callback.NewHandler(
		billService, paymentService, reconEngine,
		ledgerService, dispatcher, alerter, signer, lg)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, sqlDB,
		bill.NewHandler(billService, lg),
		callbackHandler,
		reconciliation.NewHandler(reconEngine, lg),
		lg)

	return &Dependencies{
		Config:     config,
		DB:         db,
		SQLDB:      sqlDB,
		Router:     router,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Logger:     lg,
	}, nil
}

// initDB opens the gorm connection the repositories use and tunes the
// underlying pool.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sql.DB, error) {
	db, err := gorm.Open(gormPostgres.Open(cfg.Source), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, sqlDB, nil
}

// initSigner loads the service provider's RSA key. Without a configured
// key, envelopes go out with an empty signature element, which the
// gateway's test tier accepts.
func initSigner(cfg internal.GatewayConfig, lg *slog.Logger) (gepg.Signer, error) {
	if cfg.SignKeyPath == "" {
		lg.Warn("no signing key configured, outbound envelopes will be unsigned")
		return gepg.NoopSigner{}, nil
	}
	return gepg.NewRSASigner(cfg.SignKeyPath)
}
