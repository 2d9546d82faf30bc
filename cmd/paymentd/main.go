package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stratos-brokerage/paycore/internal/api"
	"github.com/stratos-brokerage/paycore/internal/events/membus"
	"github.com/stratos-brokerage/paycore/internal/events/rabbitbus"
	"github.com/stratos-brokerage/paycore/internal/ledgerfeed"
	"github.com/stratos-brokerage/paycore/internal/provider/testprovider"
	"github.com/stratos-brokerage/paycore/internal/store/gormstore"
	"github.com/stratos-brokerage/paycore/internal/store/redisstore"
	"github.com/stratos-brokerage/paycore/pkg/idempotency"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"github.com/stratos-brokerage/paycore/pkg/payment"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagRedisURL        = "redis-url"
	flagAMQPURL         = "amqp-url"
	flagAMQPQueue       = "amqp-queue"
	flagEnvironment     = "environment"
	flagJWTSigningKey   = "jwt-signing-key"
	flagSweepInterval   = "sweep-interval"
	flagProviderTimeout = "provider-timeout"
	flagIdempotencyTTL  = "idempotency-ttl"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyRedisURL        = "redis_url"
	configKeyAMQPURL         = "amqp_url"
	configKeyAMQPQueue       = "amqp_queue"
	configKeyEnvironment     = "environment"
	configKeyJWTSigningKey   = "jwt_signing_key"
	configKeySweepInterval   = "sweep_interval"
	configKeyProviderTimeout = "provider_timeout"
	configKeyIdempotencyTTL  = "idempotency_ttl"

	defaultDatabaseURL    = "sqlite:///tmp/paycore.db"
	defaultHTTPListenAddr = ":8080"
	defaultAMQPQueue      = "payment.lifecycle"
	defaultSweepInterval  = time.Minute
	defaultProviderCall   = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	RedisURL        string
	AMQPURL         string
	AMQPQueue       string
	Environment     string
	JWTSigningKey   string
	SweepInterval   time.Duration
	ProviderTimeout time.Duration
	IdempotencyTTL  time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "paymentd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "paymentd",
		Short:         "Payment and ledger HTTP service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagRedisURL, "", "Redis URL for the fast idempotency tier (optional)")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for lifecycle events (optional)")
	cmd.Flags().String(flagAMQPQueue, defaultAMQPQueue, "AMQP queue for lifecycle events")
	cmd.Flags().String(flagEnvironment, "", "Deployment environment for provider selection")
	cmd.Flags().String(flagJWTSigningKey, "", "HMAC key enabling bearer-token auth (optional)")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "Idempotency sweep interval")
	cmd.Flags().Duration(flagProviderTimeout, defaultProviderCall, "Provider call timeout")
	cmd.Flags().Duration(flagIdempotencyTTL, defaultIdempotencyTTL, "Idempotency reservation TTL")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "HTTP_LISTEN_ADDR",
		configKeyRedisURL:        "REDIS_URL",
		configKeyAMQPURL:         "AMQP_URL",
		configKeyAMQPQueue:       "AMQP_QUEUE",
		configKeyEnvironment:     "ENVIRONMENT",
		configKeyJWTSigningKey:   "JWT_SIGNING_KEY",
		configKeySweepInterval:   "SWEEP_INTERVAL",
		configKeyProviderTimeout: "PROVIDER_TIMEOUT",
		configKeyIdempotencyTTL:  "IDEMPOTENCY_TTL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeyRedisURL:        flagRedisURL,
		configKeyAMQPURL:         flagAMQPURL,
		configKeyAMQPQueue:       flagAMQPQueue,
		configKeyEnvironment:     flagEnvironment,
		configKeyJWTSigningKey:   flagJWTSigningKey,
		configKeySweepInterval:   flagSweepInterval,
		configKeyProviderTimeout: flagProviderTimeout,
		configKeyIdempotencyTTL:  flagIdempotencyTTL,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.RedisURL = viper.GetString(configKeyRedisURL)
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.AMQPQueue = viper.GetString(configKeyAMQPQueue)
	if cfg.AMQPQueue == "" {
		cfg.AMQPQueue = defaultAMQPQueue
	}
	cfg.Environment = viper.GetString(configKeyEnvironment)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	cfg.ProviderTimeout = viper.GetDuration(configKeyProviderTimeout)
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderCall
	}
	cfg.IdempotencyTTL = viper.GetDuration(configKeyIdempotencyTTL)
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }

	guardOptions := []idempotency.GuardOption{idempotency.WithLogger(logger)}
	if cfg.RedisURL != "" {
		fastStore, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			// The durable tier alone is correct, only slower.
			logger.Warn("redis unavailable, idempotency runs on the durable store only", zap.Error(err))
		} else {
			defer func() { _ = fastStore.Close() }()
			guardOptions = append(guardOptions, idempotency.WithFastStore(fastStore))
		}
	}
	guard, err := idempotency.NewGuard(gormstore.NewIdempotencyStore(gormDB), clock, guardOptions...)
	if err != nil {
		return fmt.Errorf("idempotency guard init: %w", err)
	}

	ledgerService, err := ledger.NewService(gormstore.NewLedgerStore(gormDB), clock)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	registry, err := payment.NewProviderRegistry(testprovider.New(nil, nil))
	if err != nil {
		return fmt.Errorf("provider registry init: %w", err)
	}

	registerer := prometheus.DefaultRegisterer
	metrics := api.NewMetrics(registerer)

	bus := membus.New()
	bus.Subscribe(metrics.ObserveLifecycle)
	var publisher payment.Publisher = bus
	if cfg.AMQPURL != "" {
		rabbitPublisher, err := rabbitbus.New(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			return fmt.Errorf("amqp publisher init: %w", err)
		}
		defer rabbitPublisher.Close()
		bus.Subscribe(func(event payment.LifecycleEvent) {
			if err := rabbitPublisher.Publish(ctx, event); err != nil {
				logger.Error("lifecycle publish failed", zap.String("topic", event.Topic), zap.Error(err))
			}
		})
	}

	paymentService, err := payment.NewService(
		gormstore.NewPaymentStore(gormDB),
		registry,
		clock,
		payment.WithEnvironment(cfg.Environment),
		payment.WithPublisher(publisher),
		payment.WithLedgerPoster(ledgerfeed.New(ledgerService)),
		payment.WithProviderTimeout(cfg.ProviderTimeout),
		payment.WithOperationLogger(zapOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}

	go guard.RunSweeper(ctx, cfg.SweepInterval)

	server := api.NewServer(paymentService, ledgerService, guard, logger,
		api.WithMetrics(metrics),
		api.WithJWTSigningKey(cfg.JWTSigningKey),
		api.WithIdempotencyTTL(cfg.IdempotencyTTL),
	)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if serveErr := <-errCh; serveErr != nil && serveErr != http.ErrServerClosed {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == http.ErrServerClosed {
			return nil
		}
		return serveErr
	}
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger zapOperationLogger) LogOperation(ctx context.Context, entry payment.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("payment_id", entry.PaymentID),
		zap.String("user_id", entry.UserID),
		zap.Int64("amount_minor", entry.AmountMinor),
		zap.String("currency", entry.Currency.String()),
		zap.String("provider", entry.Provider),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("payment operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("payment operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "paycore.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
