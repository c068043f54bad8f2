package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dataspace/config"
	"dataspace/core/events"
	"dataspace/core/runtime"
	"dataspace/core/state"
	"dataspace/integrations/kafka"
	"dataspace/integrations/webhooks"
	"dataspace/observability"
	"dataspace/observability/logging"
	telemetry "dataspace/observability/otel"
	"dataspace/rpc"
	"dataspace/storage"
)

const (
	serviceName    = "dataspaced"
	genesisPathEnv = "DATASPACE_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides DATASPACE_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("DATASPACE_ENV"))
	if env == "" {
		env = cfg.Env
	}
	logger, logCloser := logging.SetupWithOptions(serviceName, env, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	defer logCloser.Close()

	if err := run(cfg, *genesisFlag, env, logger); err != nil {
		logger.Error("dataspaced exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, genesisFlag, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	defer db.Close()

	hub := events.NewHub()
	emitters := events.Multi{hub, observability.Events()}
	if cfg.Kafka.Enabled() {
		sink, err := kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		defer sink.Close()
		emitters = append(emitters, sink)
		logger.Info("kafka event sink enabled", slog.String("topic", cfg.Kafka.Topic))
	}
	if cfg.Webhook.Enabled() {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.ResolveSecret()),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("webhook dispatcher: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
		logger.Info("webhook delivery enabled", slog.String("endpoint", cfg.Webhook.Endpoint))
	}

	rt := runtime.New(state.NewManager(db), runtime.Config{
		EscrowLockBlocks:   cfg.Escrow.LockBlocks,
		PunitiveLockBlocks: cfg.Escrow.PunitiveLockBlocks,
		PausedModules:      cfg.Escrow.PausedModules,
		UploadQuota:        cfg.UploadQuota(),
		MaxPayloadBytes:    cfg.Limits.MaxPayloadBytes,
	}, runtime.WithLogger(logger), runtime.WithEmitter(emitters))

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := applyGenesis(ctx, rt, genesisPath, logger); err != nil {
		return err
	}

	// Background writers stop before the deferred storage close runs.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitBlocks := startBlockClock(ctx, rt, time.Duration(cfg.BlockIntervalSeconds)*time.Second, logger)

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go serveMetrics(ctx, addr, logger)
	}

	server := rpc.NewServer(rt, hub, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		MaxBodyBytes:   int64(cfg.Limits.MaxPayloadBytes)*2 + 64<<10,
		ServiceName:    serviceName,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	logger.Info("dataspace node running",
		slog.String("backend", cfg.Backend),
		slog.String("dataDir", cfg.DataDir),
		slog.Any("pausedModules", cfg.Escrow.PausedModules))
	err = server.Serve(ctx, cfg.HTTPAddress)
	cancel()
	waitBlocks()
	return err
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

func applyGenesis(ctx context.Context, rt *runtime.Runtime, path string, logger *slog.Logger) error {
	if path == "" {
		logger.Info("no genesis file configured; starting with empty balances")
		return nil
	}
	gen, err := config.LoadGenesis(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	allocs, err := gen.Allocations()
	if err != nil {
		return fmt.Errorf("genesis allocations: %w", err)
	}
	applied, err := rt.InitGenesis(ctx, allocs, gen.Height)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.String("path", path), slog.Int("accounts", len(allocs)))
	}
	return nil
}

// startBlockClock advances the height every interval until ctx ends. The
// returned func blocks until the clock goroutine has exited. A zero interval
// starts nothing.
func startBlockClock(ctx context.Context, rt *runtime.Runtime, interval time.Duration, logger *slog.Logger) func() {
	var wg sync.WaitGroup
	if interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			produceBlocks(ctx, rt, interval, logger)
		}()
	}
	return wg.Wait
}

func produceBlocks(ctx context.Context, rt *runtime.Runtime, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rt.AdvanceHeight(ctx, 1); err != nil {
				logger.Error("advance height failed", slog.Any("error", err))
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", slog.Any("error", err))
	}
}
