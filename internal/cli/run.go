package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dmrelay/internal/config"
	"dmrelay/internal/messenger"
	"dmrelay/internal/mqhandler"
	"dmrelay/internal/service/gateway"
	"dmrelay/internal/service/tracking"
	"dmrelay/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func runRelay(ctx context.Context, cfg *config.Config, store *tracking.Store, logger *zap.Logger) error {
	logBanner(cfg, logger)

	client := messenger.NewAMQPClient(messenger.AMQPOptions{
		URL:         cfg.MQ.URL,
		Queue:       cfg.Messenger.InboundQueue,
		RoutingKey:  cfg.Messenger.InboundRoutingKey,
		ConsumerTag: cfg.Messenger.ConsumerTag,
	}, logger)
	gw := gateway.NewGateway(client, cfg.Messenger.Recipient, logger)
	handler := mqhandler.NewPrivateMessageHandler(store, gw, logger)

	sup := supervisor.NewSupervisor(client, gw, handler, store, supervisor.Options{
		MaxRetries: cfg.Supervisor.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
	}, logger)

	if cfg.Metrics.Addr != "" {
		stop := startMetricsServer(cfg.Metrics.Addr, logger)
		defer stop()
	}

	if err := sup.Run(ctx); err != nil {
		logger.Error("Relay stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func logBanner(cfg *config.Config, logger *zap.Logger) {
	window := cfg.IgnoreDuration()
	logger.Info("Starting private message relay",
		zap.String("recipient", cfg.Messenger.Recipient),
		zap.String("inbound_queue", cfg.Messenger.InboundQueue),
		zap.String("routing_key", cfg.Messenger.InboundRoutingKey),
		zap.String("tracking_backend", cfg.Tracking.Backend),
		zap.Bool("tracking_enabled", cfg.Tracking.Enabled),
		zap.Int("ignore_duration_seconds", cfg.Tracking.IgnoreDurationSeconds),
		zap.Float64("ignore_duration_hours", window.Hours()),
		zap.Duration("prune_interval", tracking.PruneInterval(window)),
		zap.Int("max_retries", cfg.Supervisor.MaxRetries),
		zap.Duration("retry_delay", cfg.RetryDelay()),
	)
}

// startMetricsServer serves /metrics in the background. The returned function
// shuts it down.
func startMetricsServer(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown error", zap.Error(err))
		}
	}
}
