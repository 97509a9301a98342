// Package main — cmd/altec-api/main.go
//
// ALTEC API entrypoint: exposes C2 (Admission Guard)'s submit/cancel
// surface and C5 (Progress Publisher)'s poll surface over HTTP, and mints
// C6 (Session Keep-Alive) credential refreshes inline on poll responses.
// Startup sequence mirrors cmd/altec-worker: load config, open the
// composite store (read-mostly from this process's perspective), build
// the HTTP router, and serve until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/mindforge/altec/internal/config"
	"github.com/mindforge/altec/internal/database"
	"github.com/mindforge/altec/pkg/altec/admission"
	"github.com/mindforge/altec/pkg/altec/api"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/pipelines"
	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/publisher"
	"github.com/mindforge/altec/pkg/altec/session"
	"github.com/mindforge/altec/pkg/altec/store"
)

func main() {
	configPath := flag.String("config", "/etc/altec/api.yaml", "Path to api config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := newZapLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	// The API process submits tasks through the same Guard contract as the
	// worker; it is wired with a nil Dispatcher here because the worker
	// process (cmd/altec-worker) owns execution in a split deployment. A
	// combined single-binary deployment would instead share one Guard.
	guard := admission.NewGuard(st, policy.NewEstimator(nil), nil, admission.Config{
		OwnerID:              "altec-api",
		StalenessWindow:      cfg.Policy.SkippedRecentSuccessWindow,
		MaxReclaimAttempts:   cfg.Policy.MaxReclaimAttempts,
		ReclaimSweepInterval: cfg.Policy.ReclaimSweepInterval,
	}, logger)

	registry := executor.NewRegistry()
	if err := pipelines.RegisterAll(registry, nil); err != nil {
		logger.Fatal("pipeline registration failed", zap.Error(err))
	}

	refresher, err := session.NewJWTRefresher(
		[]byte(sessionSecret()), cfg.Session.Issuer, "altec-client", cfg.Session.TokenTTL,
	)
	if err != nil {
		logger.Fatal("session refresher init failed", zap.Error(err))
	}

	pub := publisher.New(st, registry, refresher)

	validator, err := api.NewValidator()
	if err != nil {
		logger.Fatal("validator init failed", zap.Error(err))
	}

	handler := api.NewHandler(guard, pub, validator, logger)
	router := api.Router(handler)

	apiSrv := &http.Server{
		Addr:    ":" + cfg.Server.APIPort,
		Handler: router,
	}
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("api listener starting", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api listener stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("metrics listener starting", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api listener shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown error", zap.Error(err))
	}

	logger.Info("api stopped")
}

func newZapLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

func buildStore(cfg *config.Config) (store.StateStore, func(), error) {
	logrusLogger := logrus.New()

	dbCfg := database.DefaultConfig()
	dbCfg.LoadFromEnv()
	db, err := database.Connect(dbCfg, logrusLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connect: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Store.RedisAddr,
		DB:          cfg.Store.RedisDB,
		DialTimeout: cfg.Store.DialTimeout,
	})

	tasks := store.NewPostgresTaskStore(db)
	locks := store.NewRedisLockStore(redisClient)
	composite := store.NewCompositeStore(tasks, locks, cfg.Store.BreakerTrips)

	closeFn := func() {
		_ = db.Close()
		_ = redisClient.Close()
	}
	return composite, closeFn, nil
}

// sessionSecret reads the HMAC signing key for C6 credentials from the
// environment; a deployment wires ALTEC_SESSION_SECRET from its secret
// store, never from config.yaml.
func sessionSecret() string {
	if v := os.Getenv("ALTEC_SESSION_SECRET"); v != "" {
		return v
	}
	return "altec-development-only-secret"
}
