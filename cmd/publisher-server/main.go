package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"twinbridge/database"
	"twinbridge/internal/config"
	"twinbridge/internal/metrics"
	controlapi "twinbridge/internal/microservices/control-api"
	"twinbridge/internal/microservices/control-api/service"
	"twinbridge/internal/microservices/playback"
	"twinbridge/internal/microservices/publisher"
	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/trajectory"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// Setup structured logging
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	telemetry, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		log.Fatalf("Invalid topic prefixes: %v", err)
	}
	layout, err := cfg.Layout()
	if err != nil {
		log.Fatalf("Invalid frame layout: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := transport.NewFactory(cfg.Transport, cfg.SendBuffer, logger)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	tctx := transport.NewContext(factory, logger)

	pub, err := publisher.Bind(ctx, tctx, cfg.PublishAddress(), classifier, publisher.Options{
		Layout:           layout,
		UnderscoreTopics: cfg.TopicUnderscore,
		MirrorDigital:    cfg.MirrorDigital,
		Logger:           logger,
		Metrics:          telemetry,
	})
	if err != nil {
		tctx.Shutdown()
		log.Fatalf("Failed to bind publisher: %v", err)
	}

	seq, err := loadTrajectory(ctx, cfg, logger)
	if err != nil {
		pub.Close()
		tctx.Shutdown()
		log.Fatalf("Failed to load trajectory: %v", err)
	}

	sched := playback.New(pub, playback.Options{
		Loop:    cfg.PlaybackLoop,
		Speed:   cfg.PlaybackSpeed,
		Logger:  logger,
		Metrics: telemetry,
	})
	// New treats 0 as unset; PLAYBACK_SPEED=0 means start paused
	if err := sched.SetSpeed(cfg.PlaybackSpeed); err != nil {
		logger.Warn("playback_speed_rejected", "speed", cfg.PlaybackSpeed, "error", err.Error())
	}
	if seq != nil {
		if err := sched.Initialize(seq); err != nil {
			logger.Warn("trajectory_not_started", "error", err.Error())
		}
	} else {
		logger.Info("no_trajectory_configured", "hint", "set TRAJECTORY_PATH or TRAJECTORY_NAME, or feed channels over the control API")
	}

	commands := make(chan func())
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		sched.Run(ctx, cfg.TickInterval, commands)
	}()
	go reportPeers(ctx, pub, telemetry, commands)

	mode := gin.ReleaseMode
	if cfg.IsDevelopment() {
		mode = gin.DebugMode
	}
	router := controlapi.NewRouter(controlapi.RouterConfig{
		Service:   service.NewPlaybackService(sched, pub, cfg.ChannelCount, commands),
		JWTSecret: cfg.ControlJWTSecret,
		Gatherer:  reg,
		Mode:      mode,
	})
	srv := &http.Server{
		Addr:              cfg.ControlAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("control_api_started", "addr", srv.Addr, "auth", cfg.ControlJWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		logger.Error("control_api_error", "error", err.Error())
		exitCode = 1
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control_api_shutdown_failed", "error", err.Error())
	}
	<-driverDone

	stats := pub.Stats()
	if err := pub.Close(); err != nil {
		logger.Warn("publisher_close_failed", "error", err.Error())
	}
	if err := tctx.Shutdown(); err != nil {
		logger.Warn("transport_shutdown_failed", "error", err.Error())
	}
	logger.Info("server_stopped_gracefully", "sent", stats.Sent, "dropped", stats.Dropped)
	os.Exit(exitCode)
}

// loadTrajectory prefers a stored trajectory over a file; both empty means none
func loadTrajectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*trajectory.Sequence, error) {
	if cfg.TrajectoryName != "" {
		db, err := database.OpenGorm(cfg, logger)
		if err != nil {
			return nil, err
		}
		defer database.Close(db)
		seq, err := trajectory.NewRepository(db).Load(ctx, cfg.TrajectoryName)
		if err != nil {
			return nil, err
		}
		logger.Info("trajectory_loaded", "source", "database", "name", cfg.TrajectoryName, "points", seq.Len())
		return seq, nil
	}

	if cfg.TrajectoryPath == "" {
		return nil, nil
	}
	seq, err := trajectory.LoadFile(cfg.TrajectoryPath, cfg.ChannelCount, trajectory.LoadOptions{})
	if err != nil {
		return nil, err
	}
	logger.Info("trajectory_loaded",
		"source", "file",
		"path", cfg.TrajectoryPath,
		"points", seq.Len(),
		"skipped", seq.Skipped,
		"out_of_order", seq.OutOfOrder,
		"duration_s", seq.Duration(),
	)
	return seq, nil
}

// reportPeers samples the subscriber count on the driver goroutine, which owns the publisher
func reportPeers(ctx context.Context, pub *publisher.Publisher, m *metrics.Telemetry, commands chan<- func()) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case commands <- func() { m.SetPeers(pub.Peers()) }:
			case <-ctx.Done():
				return
			}
		}
	}
}
