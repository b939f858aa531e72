package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/auth"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/config"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/database"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/logging"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/series"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canvas-api",
		Short: "Broadcast canvas editing backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "cleanup-expired",
		Short: "Remove expired canvas locks and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("shared-credential", "", "Staff credential exchanged for session tokens (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("auth.session_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("lock-backend", defaults.GetString("locks.backend"), "Lock store backend (database, redis)")
	cmd.PersistentFlags().String("lock-redis-url", "", "Redis URL for the redis lock backend")
	cmd.PersistentFlags().Int("lock-ttl-seconds", defaults.GetInt("locks.ttl_seconds"), "Canvas lock TTL in seconds")
	cmd.PersistentFlags().Int("lock-cleanup-interval-seconds", defaults.GetInt("locks.cleanup_interval_seconds"), "Expired lock sweep interval in seconds (0 disables)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.shared_credential", "shared-credential")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.session_ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "locks.backend", "lock-backend")
	bindFlag(cmd, "locks.redis_url", "lock-redis-url")
	bindFlag(cmd, "locks.ttl_seconds", "lock-ttl-seconds")
	bindFlag(cmd, "locks.cleanup_interval_seconds", "lock-cleanup-interval-seconds")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type storage struct {
	db         *gorm.DB
	lockStore  locks.Store
	closeStore func() error
}

func (s storage) Close() {
	if s.closeStore != nil {
		_ = s.closeStore()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func openStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage, error) {
	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return storage{}, err
	}

	opened := storage{db: db, lockStore: locks.NewGormStore(db)}
	if appConfig.LockBackend == config.LockBackendRedis {
		redisStore, err := locks.NewRedisStore(ctx, appConfig.LockRedisURL)
		if err != nil {
			opened.Close()
			return storage{}, err
		}
		opened.lockStore = redisStore
		opened.closeStore = redisStore.Close
	}
	logger.Info("lock store selected", zap.String("backend", appConfig.LockBackend))
	return opened, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stores, err := openStorage(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	events := locks.NewEventDispatcher()
	lockService, err := locks.NewService(locks.ServiceConfig{
		Store:  stores.lockStore,
		TTL:    appConfig.LockTTL,
		Clock:  time.Now,
		Events: events,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database: stores.db,
		Locks:    lockService,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	standings, err := series.NewStandingsSource(stores.db, logger)
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	if err != nil {
		return err
	}
	exchange, err := auth.NewCredentialExchange(appConfig.SharedCredential, tokenIssuer, nil)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       exchange,
		Validator:      validator,
		Locks:          lockService,
		Documents:      documentService,
		Events:         events,
		Records:        standings,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go lockService.RunCleanup(signalCtx, appConfig.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runCleanup(ctx context.Context) error {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stores, err := openStorage(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	lockService, err := locks.NewService(locks.ServiceConfig{
		Store:  stores.lockStore,
		TTL:    appConfig.LockTTL,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	removed, err := lockService.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "removed %d expired canvas locks\n", removed)
	return nil
}
