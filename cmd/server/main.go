package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skypro1111/room-transcription-service/internal/config"
	"github.com/skypro1111/room-transcription-service/internal/metrics"
	"github.com/skypro1111/room-transcription-service/internal/pipeline"
	"github.com/skypro1111/room-transcription-service/internal/publish"
	"github.com/skypro1111/room-transcription-service/internal/room"
	"github.com/skypro1111/room-transcription-service/internal/server"
	"github.com/skypro1111/room-transcription-service/internal/store"
	"github.com/skypro1111/room-transcription-service/internal/transcription"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "room-transcription-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Load .env if present; a missing file is not an error
	_ = godotenv.Load()

	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.Float64("flush_threshold", cfg.Audio.FlushThreshold),
		slog.Float64("energy_threshold", cfg.VAD.EnergyThreshold),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.String("provider", cfg.Transcription.Provider),
		slog.String("session_dir", cfg.Storage.SessionDir),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize session store; the service must not run without it
	sessions, err := store.New(cfg.Storage.SessionDir, logger)
	if err != nil {
		logger.Error("Failed to create session store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Select the transcription provider once, at startup
	provider, err := transcription.NewProvider(transcription.Config{
		Provider: cfg.Transcription.Provider,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		APIKey:   os.Getenv(cfg.Transcription.APIKeyEnv),
		Whisper: transcription.WhisperConfig{
			Binary:    cfg.Transcription.Whisper.Binary,
			ModelSize: cfg.Transcription.Whisper.ModelSize,
			OutputDir: cfg.Transcription.Whisper.OutputDir,
		},
	}, logger)
	if err != nil {
		logger.Error("Failed to create transcription provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription provider selected", slog.String("provider", provider.Name()))

	// Initialize the voice gate
	gate, err := vad.NewGate(cfg.VAD.EnergyThreshold)
	if err != nil {
		logger.Error("Failed to create voice gate", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the transcription queue
	queue := pipeline.NewQueue(cfg.Queue.Capacity)
	queue.SetMetrics(appMetrics)

	// Initialize the room coordinator
	coordinator := room.NewCoordinator(room.Config{
		FlushThreshold: cfg.Audio.FlushThreshold,
		FrameQueueSize: cfg.Audio.FrameQueueSize,
	}, gate, queue, sessions, logger, appMetrics)

	// Initialize the transcription worker; results flow back through the
	// coordinator for persistence and broadcast
	worker, err := pipeline.NewWorker(queue, provider, gate, pipeline.WorkerConfig{
		WorkDir:    cfg.Queue.WorkDir,
		JobTimeout: cfg.Queue.GetJobTimeoutDuration(),
	}, coordinator.OnTranscript, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the optional Redis transcript publisher
	var publisher *publish.RedisPublisher
	if cfg.Redis.Enabled {
		publisher, err = publish.NewRedisPublisher(ctx, publish.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		}, logger)
		if err != nil {
			logger.Error("Failed to create redis publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		coordinator.SetPublisher(publisher)
	}

	// Initialize the WebSocket hub and wire the broadcast path
	hub := server.NewHub(coordinator, logger)
	coordinator.SetBroadcaster(hub)

	// Initialize the HTTP server
	httpServer := server.NewHTTPServer(cfg.Server, hub, logger, cfg,
		coordinator, queue, worker, sessions, gate, appMetrics)
	logger.Info("HTTP server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Start the transcription worker
	go worker.Run(ctx)

	// Start the HTTP server
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_endpoint", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the coordinator; removing the last peers closes open sessions
	coordinator.Stop()

	// Stop the worker
	cancel()

	// Close any sessions still open
	sessions.CloseAll()

	// Close the publisher
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing redis publisher", slog.String("error", err.Error()))
		}
	}

	// Log final statistics
	workerStats := worker.GetStats()
	queueStats := queue.GetStats()
	gateStats := gate.GetStats()
	sessionStats := sessions.GetStats()

	logger.Info("Final service statistics",
		slog.Uint64("jobs_processed", workerStats.Processed),
		slog.Uint64("jobs_failed", workerStats.Failed),
		slog.Uint64("jobs_filtered", workerStats.Filtered),
		slog.Uint64("jobs_enqueued", queueStats.Enqueued),
		slog.Uint64("jobs_evicted", queueStats.Evicted),
		slog.Uint64("segments_gated", gateStats.TotalSegments),
		slog.Uint64("sessions_opened", sessionStats.SessionsOpened),
		slog.Uint64("sessions_closed", sessionStats.SessionsClosed),
	)

	logger.Info("Service stopped")
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

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
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
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
