package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/skypro1111/room-transcription-service/internal/audio"
	"github.com/skypro1111/room-transcription-service/internal/metrics"
	"github.com/skypro1111/room-transcription-service/internal/transcription"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

// ResultFunc receives the filtered transcript of a successfully processed job
type ResultFunc func(job Job, text string)

// Worker drains the queue one job at a time.
// Never more than one transcription is in flight at any instant, across all
// rooms and peers; on completion of a job, success or failure, the worker
// immediately attempts the next one.
type Worker struct {
	queue    *Queue
	provider transcription.Provider
	gate     *vad.Gate
	workDir  string
	timeout  time.Duration
	onResult ResultFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	inFlight atomic.Int32

	// Statistics
	processed atomic.Uint64
	failed    atomic.Uint64
	filtered  atomic.Uint64
}

// WorkerConfig contains worker configuration
type WorkerConfig struct {
	WorkDir    string
	JobTimeout time.Duration
}

// WorkerStats represents worker statistics for monitoring
type WorkerStats struct {
	Processed uint64 `json:"jobs_processed"`
	Failed    uint64 `json:"jobs_failed"`
	Filtered  uint64 `json:"jobs_filtered"`
	InFlight  int32  `json:"in_flight"`
}

// NewWorker creates the single drain worker.
// Failure to create the working directory is fatal for the caller: the
// service must not run without a place for temporary audio containers.
func NewWorker(queue *Queue, provider transcription.Provider, gate *vad.Gate,
	cfg WorkerConfig, onResult ResultFunc, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {

	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory cannot be empty")
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", cfg.WorkDir, err)
	}

	return &Worker{
		queue:    queue,
		provider: provider,
		gate:     gate,
		workDir:  cfg.WorkDir,
		timeout:  cfg.JobTimeout,
		onResult: onResult,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Run drives the drain loop until the context is cancelled.
// The loop is re-triggered by enqueue signals rather than recursing on
// completion, so the call stack stays flat regardless of queue pressure.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Transcription worker started",
		slog.String("provider", w.provider.Name()),
		slog.Int("queue_capacity", w.queue.Capacity()),
		slog.Duration("job_timeout", w.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Transcription worker stopping")
			return
		case <-w.queue.Notify():
			w.drain(ctx)
		}
	}
}

// drain processes queued jobs until the queue is empty or the context ends
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, ok := w.queue.Dequeue()
		if !ok {
			return
		}

		if w.metrics != nil {
			w.metrics.SetQueueDepth(w.queue.Len())
		}

		w.process(ctx, job)
	}
}

// process handles one job end to end. Provider failures are logged and
// dropped; they never propagate beyond the worker and never stop the drain.
func (w *Worker) process(ctx context.Context, job Job) {
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	// Defensive re-check against the same payload the pre-check saw; protects
	// against any path that could bypass the flush-time gate
	if !w.gate.Accept(job.Samples) {
		w.logger.Debug("Job rejected by gate re-check",
			slog.String("job_id", job.ID),
			slog.String("peer_id", job.PeerID),
		)
		return
	}

	wavData, err := audio.EncodeWAV(job.Samples, job.SampleRate, job.Channels)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("Failed to encode audio container",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	audioPath, err := w.writeTempAudio(job.ID, wavData)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("Failed to write temporary audio file",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Best-effort removal after the job completes, regardless of outcome
	defer func() {
		go func(path string) {
			_ = os.Remove(path)
		}(audioPath)
	}()

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	startTime := time.Now()
	text, err := w.provider.Transcribe(callCtx, transcription.Request{
		AudioPath:  audioPath,
		SampleRate: job.SampleRate,
		Channels:   job.Channels,
		Duration:   job.Duration(),
	})
	elapsed := time.Since(startTime)

	if err != nil {
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		w.logger.Error("Transcription failed",
			slog.String("job_id", job.ID),
			slog.String("peer_id", job.PeerID),
			slog.String("room_id", job.RoomID),
			slog.String("provider", w.provider.Name()),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	filtered := transcription.FilterHallucination(text)
	if filtered == "" {
		w.filtered.Add(1)
		if w.metrics != nil {
			w.metrics.RecordTranscriptFiltered()
		}
		w.logger.Debug("Transcript empty or hallucinated, dropping",
			slog.String("job_id", job.ID),
			slog.String("raw_text", text),
		)
		return
	}

	w.processed.Add(1)
	if w.metrics != nil {
		w.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}

	w.logger.Info("Job transcribed",
		slog.String("job_id", job.ID),
		slog.String("room_id", job.RoomID),
		slog.String("user_id", job.UserID),
		slog.Float64("audio_seconds", job.Duration().Seconds()),
		slog.Duration("elapsed", elapsed),
	)

	w.onResult(job, filtered)
}

// writeTempAudio writes the encoded container synchronously before the
// provider call
func (w *Worker) writeTempAudio(jobID string, wavData []byte) (string, error) {
	f, err := os.CreateTemp(w.workDir, fmt.Sprintf("job_%s_*.wav", jobID))
	if err != nil {
		return "", err
	}

	if _, err := f.Write(wavData); err != nil {
		f.Close()
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", err
	}

	return f.Name(), nil
}

// InFlight returns the number of provider calls currently in flight
func (w *Worker) InFlight() int32 {
	return w.inFlight.Load()
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() WorkerStats {
	return WorkerStats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Filtered:  w.filtered.Load(),
		InFlight:  w.inFlight.Load(),
	}
}
