package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Queue         QueueConfig         `yaml:"queue"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AudioConfig contains audio buffering parameters
type AudioConfig struct {
	FlushThreshold float64 `yaml:"flush_threshold"`  // seconds of accumulated audio per flush
	FrameQueueSize int     `yaml:"frame_queue_size"` // per-peer inbound frame bound
}

// VADConfig contains the energy gate configuration
type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"` // mean absolute amplitude, 16-bit scale
}

// QueueConfig contains transcription queue and worker configuration
type QueueConfig struct {
	Capacity   int    `yaml:"capacity"`
	JobTimeout int    `yaml:"job_timeout"` // seconds, 0 disables the per-job deadline
	WorkDir    string `yaml:"work_dir"`
}

// TranscriptionConfig contains provider selection and parameters.
// The API key is read from the environment variable named by api_key_env,
// never from the config file itself.
type TranscriptionConfig struct {
	Provider  string        `yaml:"provider"` // "openai" or "whisper"
	Model     string        `yaml:"model"`
	Language  string        `yaml:"language"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Whisper   WhisperConfig `yaml:"whisper"`
}

// WhisperConfig contains the local CLI transcriber configuration
type WhisperConfig struct {
	Binary    string `yaml:"binary"`
	ModelSize string `yaml:"model_size"`
	OutputDir string `yaml:"output_dir"`
}

// StorageConfig contains transcript session storage configuration
type StorageConfig struct {
	SessionDir string `yaml:"session_dir"`
}

// RedisConfig contains the optional transcript publisher configuration
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, defaults, and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in zero values with working defaults
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Audio.FlushThreshold == 0 {
		c.Audio.FlushThreshold = 5.0
	}
	if c.Audio.FrameQueueSize == 0 {
		c.Audio.FrameQueueSize = 64
	}
	if c.VAD.EnergyThreshold == 0 {
		c.VAD.EnergyThreshold = 40
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 3
	}
	if c.Queue.JobTimeout == 0 {
		c.Queue.JobTimeout = 120
	}
	if c.Queue.WorkDir == "" {
		c.Queue.WorkDir = "./tmp/audio"
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "openai"
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "en"
	}
	if c.Transcription.APIKeyEnv == "" {
		c.Transcription.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Transcription.Whisper.Binary == "" {
		c.Transcription.Whisper.Binary = "whisper"
	}
	if c.Transcription.Whisper.ModelSize == "" {
		c.Transcription.Whisper.ModelSize = "base"
	}
	if c.Transcription.Whisper.OutputDir == "" {
		c.Transcription.Whisper.OutputDir = "./tmp/transcripts"
	}
	if c.Storage.SessionDir == "" {
		c.Storage.SessionDir = "./sessions"
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "transcripts"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FlushThreshold <= 0 {
		return fmt.Errorf("flush_threshold must be positive, got %f", a.FlushThreshold)
	}

	if a.FrameQueueSize < 1 {
		return fmt.Errorf("frame_queue_size must be at least 1, got %d", a.FrameQueueSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.EnergyThreshold <= 0 || v.EnergyThreshold >= 32768 {
		return fmt.Errorf("energy_threshold must be between 0 and 32768 (exclusive), got %f", v.EnergyThreshold)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	if q.JobTimeout < 0 {
		return fmt.Errorf("job_timeout cannot be negative, got %d", q.JobTimeout)
	}

	if q.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	validProviders := map[string]bool{"openai": true, "whisper": true}
	if !validProviders[t.Provider] {
		return fmt.Errorf("provider must be 'openai' or 'whisper', got '%s'", t.Provider)
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if t.Whisper.Binary == "" {
		return fmt.Errorf("whisper binary cannot be empty")
	}

	if t.Whisper.OutputDir == "" {
		return fmt.Errorf("whisper output_dir cannot be empty")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.SessionDir == "" {
		return fmt.Errorf("session_dir cannot be empty")
	}

	return nil
}

// Validate validates redis configuration
func (r *RedisConfig) Validate() error {
	if r.Enabled && r.Addr == "" {
		return fmt.Errorf("addr cannot be empty when redis is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFlushThresholdDuration returns the flush threshold as a time.Duration
func (a *AudioConfig) GetFlushThresholdDuration() time.Duration {
	return time.Duration(a.FlushThreshold * float64(time.Second))
}

// GetJobTimeoutDuration returns the per-job timeout as a time.Duration
func (q *QueueConfig) GetJobTimeoutDuration() time.Duration {
	return time.Duration(q.JobTimeout) * time.Second
}
