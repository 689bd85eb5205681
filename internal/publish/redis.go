package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skypro1111/room-transcription-service/internal/store"
)

// DefaultChannelPrefix is prepended to the room id to form the pub/sub
// channel name
const DefaultChannelPrefix = "transcripts"

// RedisConfig contains Redis publisher configuration
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisPublisher publishes each accepted transcript to the channel
// "<prefix>:<roomId>". Subscribers that miss a message miss it; durable
// delivery is the session store's job, not the publisher's.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	// Statistics
	published atomic.Uint64
	failed    atomic.Uint64
}

// RedisPublisherStats represents publisher statistics for monitoring
type RedisPublisherStats struct {
	Published uint64 `json:"published_total"`
	Failed    uint64 `json:"failed_total"`
}

// NewRedisPublisher connects to Redis and verifies the connection with a ping
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis transcript publisher connected",
		slog.String("addr", cfg.Addr),
		slog.String("channel_prefix", prefix),
	)

	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Publish sends one transcript entry to the room's channel
func (p *RedisPublisher) Publish(ctx context.Context, roomID string, entry store.TranscriptEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript entry: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", p.prefix, roomID)

	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.published.Add(1)
	return nil
}

// GetStats returns current publisher statistics
func (p *RedisPublisher) GetStats() RedisPublisherStats {
	return RedisPublisherStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close releases the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
