package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twinbridge/internal/config"
	"twinbridge/internal/microservices/subscriber"
	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/wire"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// events go to stdout, logs to stderr
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	classifier, err := cfg.Classifier()
	if err != nil {
		log.Fatalf("Invalid topic prefixes: %v", err)
	}
	factory, err := transport.NewFactory(cfg.Transport, cfg.SendBuffer, logger)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	tctx := transport.NewContext(factory, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := subscriber.Connect(ctx, tctx, cfg.SubscribeAddress(), classifier, subscriber.Options{
		RecvTimeout:   cfg.RecvTimeout,
		JoinTimeout:   cfg.JoinTimeout,
		QueueCapacity: cfg.QueueCapacity,
		Logger:        logger,
	})
	if err != nil {
		tctx.Shutdown()
		log.Fatalf("Failed to connect subscriber: %v", err)
	}
	if err := sub.Start(); err != nil {
		sub.Stop()
		tctx.Shutdown()
		log.Fatalf("Failed to start subscriber: %v", err)
	}
	logger.Info("subscriber_started", "addr", cfg.SubscribeAddress(), "prefixes", classifier.Prefixes())

	printEvent := func(ev wire.ChannelEvent) {
		fmt.Printf("%s[%d] = %s\n", ev.Stream, ev.Channel, wire.FormatValue(ev.Angle))
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("received_shutdown_signal")
			break loop
		case <-sub.Done():
			logger.Error("subscriber_worker_exited", "error", fmt.Sprint(sub.Err()))
			break loop
		case <-ticker.C:
			sub.Drain(printEvent)
		}
	}

	sub.Drain(printEvent)
	stats := sub.Stats()
	sub.Stop()
	if err := tctx.Shutdown(); err != nil {
		logger.Warn("transport_shutdown_failed", "error", err.Error())
	}
	logger.Info("subscriber_stopped",
		"received", stats.Received,
		"malformed", stats.Malformed,
		"queue_dropped", stats.QueueDropped,
	)
}
