package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/michaelbeckers79/attendee/internal/config"
	"github.com/michaelbeckers79/attendee/internal/metrics"
	"github.com/michaelbeckers79/attendee/internal/platform"
	"github.com/michaelbeckers79/attendee/internal/server"
	"github.com/michaelbeckers79/attendee/internal/session"
	"github.com/michaelbeckers79/attendee/internal/transcribe"
	"github.com/michaelbeckers79/attendee/internal/webhook"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "attendee"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env before the config reads environment overrides. A missing
	// file is fine; secrets may come from the real environment.
	godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.String("bot_name", cfg.Bot.DefaultName),
		slog.Int("bridge_base_port", cfg.Bot.BridgeBasePort),
		slog.String("recognition_endpoint", cfg.Recognition.Endpoint),
		slog.String("recognition_model", cfg.Recognition.Model),
		slog.Int("sample_rate", cfg.Recognition.SampleRate),
		slog.Int("silence_timeout", cfg.Recognition.SilenceTimeout),
		slog.Int("webhook_retry_count", cfg.Webhook.RetryCount),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize webhook dispatcher
	dispatcher := webhook.NewDispatcher(webhook.Config{
		TimeoutSeconds: cfg.Webhook.TimeoutSeconds,
		RetryCount:     cfg.Webhook.RetryCount,
		AllowHTTP:      cfg.Webhook.AllowHTTP,
	}, logger, appMetrics)

	// Initialize recognition provider
	recognizer, err := transcribe.NewDeepgram(transcribe.DeepgramConfig{
		Endpoint: cfg.Recognition.Endpoint,
		APIKey:   cfg.Recognition.APIKey,
	}, logger)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recognition provider initialized",
		slog.String("endpoint", cfg.Recognition.Endpoint),
		slog.String("model", cfg.Recognition.Model),
	)

	// Initialize session registry
	registry := session.NewRegistry(session.Defaults{
		BotName:        cfg.Bot.DefaultName,
		Language:       cfg.Recognition.Language,
		Model:          cfg.Recognition.Model,
		SampleRate:     cfg.Recognition.SampleRate,
		SilenceTimeout: cfg.Recognition.GetSilenceTimeoutDuration(),
	}, dispatcher, recognizer, logger, appMetrics)

	// Platform bridges get sequential local ports starting at the base
	var nextBridgePort atomic.Int32
	nextBridgePort.Store(int32(cfg.Bot.BridgeBasePort))

	factory := func(s *session.Session) platform.Adapter {
		port := int(nextBridgePort.Add(1) - 1)
		return platform.NewWSBridge(platform.BridgeConfig{
			Port:        port,
			JoinTimeout: cfg.Bot.GetJoinTimeoutDuration(),
		}, platform.Callbacks{
			OnAudio: s.AddAudioChunk,
			OnMeetingEnded: func() {
				if s.State() == session.StateInMeeting {
					s.SetState(session.StateLeaving, "Meeting ended")
					s.SetState(session.StateEnded, "Meeting ended")
				}
			},
			OnParticipantJoined: func(id, name string) {
				s.UpdateParticipant(id, name, nil)
			},
			OnParticipantLeft: func(id, name string) {
				s.RemoveParticipant(id)
			},
		}, logger)
	}

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, registry, dispatcher, factory, logger, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Refresh gauge metrics in the background
	go refreshGauges(ctx, registry, appMetrics)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// End every live session so their driving loops exit
	registry.Shutdown(shutdownCtx)
	cancel()

	// Final statistics
	stats := dispatcher.Stats()
	logger.Info("Final webhook statistics",
		slog.Uint64("delivered", stats.Delivered),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("total_attempts", stats.TotalAttempts),
	)

	logger.Info("Service stopped")
}

// refreshGauges periodically updates the active session and stream gauges
func refreshGauges(ctx context.Context, registry *session.Registry, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetActiveSessions(registry.ActiveCount())
			m.SetActiveStreams(registry.ActiveStreamCount())
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
