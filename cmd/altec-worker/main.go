// Package main — cmd/altec-worker/main.go
//
// ALTEC worker entrypoint: owns C4 (Segmented Executor) and drives C2
// (Admission Guard)'s reclaim sweeper. Startup sequence:
//  1. Load and validate config from the path given by -config.
//  2. Initialize the structured logger (zap) and the Postgres pool
//     (sqlx over pgx, logged through logrus per internal/database).
//  3. Build the composite StateStore (Postgres tasks + Redis locks,
//     circuit-broken per store.CompositeStore).
//  4. Construct the model/result adapters and register every pipeline.
//  5. Build the Runner (C4) and wire it as the Guard (C2)'s Dispatcher.
//  6. Start the reclaim sweeper and the Prometheus metrics listener.
//  7. Block on SIGINT/SIGTERM; on signal, stop the sweeper and let
//     in-flight Runs observe context cancellation before exiting.
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
	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/admission"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/pipelines"
	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

func main() {
	configPath := flag.String("config", "/etc/altec/worker.yaml", "Path to worker config.yaml")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	estimator := policy.NewEstimator(toPolicyOverrides(cfg.Policy.ClassOverrides))

	adapterSet, err := buildAdapters(ctx, cfg)
	if err != nil {
		logger.Fatal("adapter init failed", zap.Error(err))
	}

	registry := executor.NewRegistry()
	if err := pipelines.RegisterAll(registry, adapterSet); err != nil {
		logger.Fatal("pipeline registration failed", zap.Error(err))
	}

	hostname, _ := os.Hostname()
	ownerID := fmt.Sprintf("altec-worker-%s-%d", hostname, os.Getpid())

	runner := executor.NewRunner(st, registry, executor.RunnerConfig{
		OwnerWorker:         ownerID,
		GPUSlots:            2,
		ProgressThrottlePct: cfg.Policy.ProgressThrottlePercent,
		DeadlineMultiplier:  cfg.Policy.DefaultDeadlineMultiplier,
	}, logger)

	guard := admission.NewGuard(st, estimator, runner.Run, admission.Config{
		OwnerID:              ownerID,
		StalenessWindow:      cfg.Policy.SkippedRecentSuccessWindow,
		MaxReclaimAttempts:   cfg.Policy.MaxReclaimAttempts,
		ReclaimSweepInterval: cfg.Policy.ReclaimSweepInterval,
	}, logger)
	defer guard.Stop()

	guard.StartReclaimSweeper(ctx)

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: promhttp.Handler(),
	}
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

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown error", zap.Error(err))
	}

	logger.Info("worker stopped")
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

// buildStore wires Postgres (durable Task storage) and Redis (ephemeral
// Lock storage) behind the breaker in store.CompositeStore.
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

func buildAdapters(ctx context.Context, cfg *config.Config) (*adapters.Adapters, error) {
	adapterCfg := adapters.Config{
		AnthropicAPIKey: cfg.Adapters.AnthropicAPIKey,
		BedrockRegion:   cfg.Adapters.BedrockRegion,
		MistralAPIKey:   cfg.Adapters.MistralAPIKey,
		GenAIAPIKey:     cfg.Adapters.GenAIAPIKey,
		ResultStoreURL:  cfg.Adapters.ResultStoreURL,
		RequestTimeout:  cfg.Adapters.RequestTimeout,
	}

	asr, err := adapters.NewBedrockASR(ctx, adapterCfg)
	if err != nil {
		return nil, fmt.Errorf("bedrock ASR: %w", err)
	}
	vision, err := adapters.NewGenAIVision(ctx, adapterCfg)
	if err != nil {
		return nil, fmt.Errorf("genai vision: %w", err)
	}

	return &adapters.Adapters{
		ASR:         asr,
		Vision:      vision,
		Embedding:   adapters.NewMistralEmbedding(adapterCfg),
		Summarize:   adapters.NewAnthropicSummarize(adapterCfg),
		ResultStore: adapters.NewHTTPResultStore(adapterCfg),
	}, nil
}

func toPolicyOverrides(overrides map[string]config.ClassOverride) policy.Overrides {
	if len(overrides) == 0 {
		return nil
	}
	result := make(policy.Overrides, len(overrides))
	for name, o := range overrides {
		result[task.DurationClass(name)] = policy.NewClassOverride(
			o.HeartbeatInterval, o.LockLease, o.ClientRefreshInterval,
		)
	}
	return result
}
