package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Request describes one transcription job handed to a provider.
// AudioPath points at a WAV file already written to disk; providers never
// build containers themselves.
type Request struct {
	AudioPath  string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Provider turns an encoded audio file into text
type Provider interface {
	Transcribe(ctx context.Context, req Request) (string, error)
	Name() string
}

// Config contains transcription provider configuration
type Config struct {
	Provider string // "openai" or "whisper"
	Model    string // remote model identifier
	Language string
	APIKey   string // resolved credential for the remote provider

	Whisper WhisperConfig
}

// WhisperConfig contains local whisper CLI configuration
type WhisperConfig struct {
	Binary    string
	ModelSize string
	OutputDir string
}

// NewProvider selects the concrete provider once at startup.
// If the remote provider is configured but its credential is absent, the
// local provider is substituted for the remainder of the process lifetime;
// the substitution is logged and never re-evaluated per call.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Warn("Remote transcription credential absent, falling back to local whisper",
				slog.String("configured_provider", cfg.Provider),
				slog.String("whisper_binary", cfg.Whisper.Binary),
			)
			return newWhisperProvider(cfg.Whisper, cfg.Language)
		}
		return newOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Language), nil

	case "whisper":
		return newWhisperProvider(cfg.Whisper, cfg.Language)

	default:
		return nil, fmt.Errorf("unknown transcription provider: %q", cfg.Provider)
	}
}
