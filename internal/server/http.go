package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/room-transcription-service/internal/config"
	"github.com/skypro1111/room-transcription-service/internal/metrics"
	"github.com/skypro1111/room-transcription-service/internal/pipeline"
	"github.com/skypro1111/room-transcription-service/internal/room"
	"github.com/skypro1111/room-transcription-service/internal/store"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

// HTTPServer provides the WebSocket ingest endpoint and the HTTP API for
// monitoring and management
type HTTPServer struct {
	server      *http.Server
	hub         *Hub
	logger      *slog.Logger
	config      *config.Config
	coordinator *room.Coordinator
	queue       *pipeline.Queue
	worker      *pipeline.Worker
	sessions    *store.Store
	gate        *vad.Gate
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured
func NewHTTPServer(cfg config.ServerConfig, hub *Hub, logger *slog.Logger,
	appConfig *config.Config, coordinator *room.Coordinator, queue *pipeline.Queue,
	worker *pipeline.Worker, sessions *store.Store, gate *vad.Gate, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		hub:         hub,
		logger:      logger,
		config:      appConfig,
		coordinator: coordinator,
		queue:       queue,
		worker:      worker,
		sessions:    sessions,
		gate:        gate,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// WebSocket audio ingest (no metrics wrapper; the connection is long-lived)
	mux.HandleFunc("/ws", h.hub.HandleWS)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Room and peer monitoring endpoints
	mux.HandleFunc("/rooms", h.withMetrics("/rooms", h.handleRooms))
	mux.HandleFunc("/peers", h.withMetrics("/peers", h.handlePeers))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	coordStats := h.coordinator.GetStats()
	workerStats := h.worker.GetStats()
	queueStats := h.queue.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "room-transcription-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"coordinator": map[string]interface{}{
				"status":       "running",
				"active_peers": coordStats.ActivePeers,
				"active_rooms": coordStats.ActiveRooms,
			},
			"queue": map[string]interface{}{
				"status":   "running",
				"length":   queueStats.Length,
				"capacity": queueStats.Capacity,
			},
			"worker": map[string]interface{}{
				"status":         "running",
				"jobs_processed": workerStats.Processed,
				"jobs_failed":    workerStats.Failed,
				"in_flight":      workerStats.InFlight,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleRooms implements the /rooms endpoint
func (h *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms := h.coordinator.Rooms()
	roomInfos := make([]map[string]interface{}, 0, len(rooms))

	for roomID, occupancy := range rooms {
		roomInfos = append(roomInfos, map[string]interface{}{
			"room":         roomID,
			"occupancy":    occupancy,
			"session_open": h.sessions.HasSession(roomID),
		})
	}

	response := map[string]interface{}{
		"total_rooms": len(roomInfos),
		"timestamp":   time.Now().UTC(),
		"rooms":       roomInfos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handlePeers implements the /peers endpoint
func (h *HTTPServer) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peers := h.coordinator.GetAllPeers()

	response := map[string]interface{}{
		"total_peers": len(peers),
		"timestamp":   time.Now().UTC(),
		"peers":       peers,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration; the API key environment variable name
	// is exposed but never its value
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address": h.config.Server.Address,
			"port":    h.config.Server.Port,
		},
		"audio": map[string]interface{}{
			"flush_threshold":  h.config.Audio.FlushThreshold,
			"frame_queue_size": h.config.Audio.FrameQueueSize,
		},
		"vad": map[string]interface{}{
			"energy_threshold": h.config.VAD.EnergyThreshold,
		},
		"queue": map[string]interface{}{
			"capacity":    h.config.Queue.Capacity,
			"job_timeout": h.config.Queue.JobTimeout,
			"work_dir":    h.config.Queue.WorkDir,
		},
		"transcription": map[string]interface{}{
			"provider":    h.config.Transcription.Provider,
			"model":       h.config.Transcription.Model,
			"language":    h.config.Transcription.Language,
			"api_key_env": h.config.Transcription.APIKeyEnv,
		},
		"storage": map[string]interface{}{
			"session_dir": h.config.Storage.SessionDir,
		},
		"redis": map[string]interface{}{
			"enabled":        h.config.Redis.Enabled,
			"channel_prefix": h.config.Redis.ChannelPrefix,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":      uptime.String(),
		"timestamp":   time.Now().UTC(),
		"coordinator": h.coordinator.GetStats(),
		"queue":       h.queue.GetStats(),
		"worker":      h.worker.GetStats(),
		"gate":        h.gate.GetStats(),
		"sessions":    h.sessions.GetStats(),
		"websocket": map[string]interface{}{
			"connected_clients": h.hub.ClientCount(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Room Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /ws?room={id}&user={id}": "WebSocket audio ingest and transcript broadcast",
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /rooms":                  "List occupied rooms",
			"GET /peers":                  "List connected peers",
			"GET /config":                 "Get service configuration",
			"GET /stats":                  "Get service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
