package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/room-transcription-service/internal/metrics"
	"github.com/skypro1111/room-transcription-service/internal/pipeline"
	"github.com/skypro1111/room-transcription-service/internal/store"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

// Broadcaster delivers accepted transcripts to every member of a room
type Broadcaster interface {
	Broadcast(roomID string, entry store.TranscriptEntry)
}

// TranscriptPublisher mirrors accepted transcripts to an external channel,
// for consumers outside this process. Publishing is best-effort.
type TranscriptPublisher interface {
	Publish(ctx context.Context, roomID string, entry store.TranscriptEntry) error
}

// Config contains coordinator configuration
type Config struct {
	// FlushThreshold is the accumulated audio duration, in seconds, that
	// triggers a buffer flush
	FlushThreshold float64
	// FrameQueueSize bounds each peer's inbound event channel
	FrameQueueSize int
}

// Coordinator owns all peer and room state. Every operation goes through it;
// there is no package-level state.
type Coordinator struct {
	cfg   Config
	peers map[string]*Peer
	rooms map[string]int

	gate      *vad.Gate
	queue     *pipeline.Queue
	sessions  *store.Store
	publisher TranscriptPublisher

	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics

	wg sync.WaitGroup
	mu sync.RWMutex
}

// CoordinatorStats represents coordinator statistics for monitoring
type CoordinatorStats struct {
	ActivePeers int `json:"active_peers"`
	ActiveRooms int `json:"active_rooms"`
}

// NewCoordinator creates a coordinator wired to the gate, queue, and session
// store it will drive
func NewCoordinator(cfg Config, gate *vad.Gate, queue *pipeline.Queue,
	sessions *store.Store, logger *slog.Logger, m *metrics.Metrics) *Coordinator {

	if cfg.FrameQueueSize <= 0 {
		cfg.FrameQueueSize = 64
	}

	return &Coordinator{
		cfg:      cfg,
		peers:    make(map[string]*Peer),
		rooms:    make(map[string]int),
		gate:     gate,
		queue:    queue,
		sessions: sessions,
		logger:   logger,
		metrics:  m,
	}
}

// SetBroadcaster wires the outbound transcript fan-out.
// Must be called before the first peer is added.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

// SetPublisher wires the optional external transcript publisher
func (c *Coordinator) SetPublisher(p TranscriptPublisher) {
	c.publisher = p
}

// AddPeer registers a peer in a room and starts its serving goroutine.
// The first peer in a room opens the room's transcript session.
func (c *Coordinator) AddPeer(roomID, userID string, sampleRate, channels int) (*Peer, error) {
	if roomID == "" || userID == "" {
		return nil, fmt.Errorf("room id and user id cannot be empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[roomID] == 0 {
		if _, err := c.sessions.Open(roomID); err != nil {
			return nil, fmt.Errorf("failed to open room session: %w", err)
		}
		if c.metrics != nil {
			c.metrics.RecordSessionOpened()
		}
	}

	peer := newPeer(uuid.NewString(), roomID, userID, sampleRate, channels, c.cfg.FrameQueueSize)
	peer.setState(StateConnecting)

	c.peers[peer.ID] = peer
	c.rooms[roomID]++

	if c.metrics != nil {
		c.metrics.SetActivePeers(len(c.peers))
		c.metrics.SetActiveRooms(len(c.rooms))
	}

	c.wg.Add(1)
	go c.servePeer(peer)

	c.logger.Info("Peer added",
		slog.String("peer_id", peer.ID),
		slog.String("room", roomID),
		slog.String("user_id", userID),
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int("room_occupancy", c.rooms[roomID]),
	)

	return peer, nil
}

// HandleFrame hands a decoded PCM frame to a peer's serving goroutine.
// Frames for unknown peers are an error; frames that overflow the peer's
// event channel are dropped.
func (c *Coordinator) HandleFrame(peerID string, samples []int16) error {
	c.mu.RLock()
	peer, ok := c.peers[peerID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown peer %q", peerID)
	}

	if c.metrics != nil {
		c.metrics.RecordFrameReceived()
	}

	if !peer.deliver(peerEvent{samples: samples}) {
		if c.metrics != nil {
			c.metrics.RecordFrameDropped()
		}
		c.logger.Debug("Frame dropped, peer queue full",
			slog.String("peer_id", peerID),
			slog.String("room", peer.RoomID),
		)
	}

	return nil
}

// RemovePeer removes a peer, stops its serving goroutine, and closes the
// room's session if the room is now empty. Removing an unknown or
// already-removed peer is a no-op.
func (c *Coordinator) RemovePeer(peerID string) bool {
	c.mu.Lock()
	peer, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return false
	}

	delete(c.peers, peerID)
	c.rooms[peer.RoomID]--
	roomEmpty := c.rooms[peer.RoomID] <= 0
	if roomEmpty {
		delete(c.rooms, peer.RoomID)
	}

	if c.metrics != nil {
		c.metrics.SetActivePeers(len(c.peers))
		c.metrics.SetActiveRooms(len(c.rooms))
	}
	c.mu.Unlock()

	// Remaining buffered audio under the flush threshold is discarded with
	// the peer; the serving goroutine drains pending events and exits
	peer.closeEvents()

	c.logger.Info("Peer removed",
		slog.String("peer_id", peerID),
		slog.String("room", peer.RoomID),
		slog.String("user_id", peer.UserID),
		slog.Duration("duration", time.Since(peer.JoinedAt)),
	)

	if roomEmpty {
		if err := c.sessions.Close(peer.RoomID); err != nil {
			c.logger.Warn("Error closing room session",
				slog.String("room", peer.RoomID),
				slog.String("error", err.Error()),
			)
		}
		if c.metrics != nil {
			c.metrics.RecordSessionClosed()
		}
	}

	return true
}

// OnTranscript is the worker's result callback: persist the accepted
// transcript, fan it out to the room, and mirror it externally if a
// publisher is configured
func (c *Coordinator) OnTranscript(job pipeline.Job, text string) {
	entry := store.TranscriptEntry{
		Timestamp: time.Now(),
		UserID:    job.UserID,
		Text:      text,
	}

	if err := c.sessions.Append(job.RoomID, entry); err != nil {
		// The room may have emptied while the job was in flight; the
		// transcript is still broadcast to anyone left listening
		c.logger.Warn("Failed to persist transcript",
			slog.String("room", job.RoomID),
			slog.String("error", err.Error()),
		)
	}

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(job.RoomID, entry)
		if c.metrics != nil {
			c.metrics.RecordTranscriptBroadcast()
		}
	}

	if c.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.publisher.Publish(ctx, job.RoomID, entry); err != nil {
			c.logger.Warn("Failed to publish transcript",
				slog.String("room", job.RoomID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// servePeer is the peer's single serving goroutine. It consumes the event
// channel, accumulates audio, and enqueues gated segments for transcription.
func (c *Coordinator) servePeer(peer *Peer) {
	defer c.wg.Done()

	for event := range peer.events {
		if peer.State() == StateConnecting {
			peer.setState(StateConnected)
			c.logger.Debug("Peer connected",
				slog.String("peer_id", peer.ID),
				slog.String("room", peer.RoomID),
			)
		}

		segment, flushed := peer.append(event.samples, c.cfg.FlushThreshold)
		if !flushed {
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordFlush()
		}

		c.flushSegment(peer, segment)
	}

	peer.setState(StateClosed)
}

// flushSegment gates one accumulated segment and enqueues it for
// transcription when it carries speech
func (c *Coordinator) flushSegment(peer *Peer, segment []int16) {
	if !c.gate.Accept(segment) {
		if c.metrics != nil {
			c.metrics.RecordGateRejected()
		}
		c.logger.Debug("Segment rejected as silence",
			slog.String("peer_id", peer.ID),
			slog.String("room", peer.RoomID),
			slog.Int("samples", len(segment)),
		)
		return
	}

	if c.metrics != nil {
		c.metrics.RecordGateAccepted()
	}

	job := pipeline.Job{
		ID:         uuid.NewString(),
		PeerID:     peer.ID,
		RoomID:     peer.RoomID,
		UserID:     peer.UserID,
		Samples:    segment,
		SampleRate: peer.SampleRate,
		Channels:   peer.Channels,
	}

	c.queue.Enqueue(job)

	if c.metrics != nil {
		c.metrics.SetQueueDepth(c.queue.Len())
	}

	c.logger.Debug("Segment enqueued for transcription",
		slog.String("job_id", job.ID),
		slog.String("peer_id", peer.ID),
		slog.String("room", peer.RoomID),
		slog.Float64("audio_seconds", job.Duration().Seconds()),
	)
}

// GetPeer retrieves a peer by id
func (c *Coordinator) GetPeer(peerID string) (*Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peer, ok := c.peers[peerID]
	return peer, ok
}

// PeerCount returns the number of currently registered peers
func (c *Coordinator) PeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Rooms returns a snapshot of room occupancy
func (c *Coordinator) Rooms() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make(map[string]int, len(c.rooms))
	for roomID, count := range c.rooms {
		rooms[roomID] = count
	}
	return rooms
}

// GetAllPeers returns a snapshot of all peers for monitoring
func (c *Coordinator) GetAllPeers() []PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]PeerInfo, 0, len(c.peers))
	for _, peer := range c.peers {
		infos = append(infos, peer.Info())
	}
	return infos
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() CoordinatorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CoordinatorStats{
		ActivePeers: len(c.peers),
		ActiveRooms: len(c.rooms),
	}
}

// Stop removes every peer and waits for all serving goroutines to exit
func (c *Coordinator) Stop() {
	c.logger.Info("Stopping room coordinator...")

	c.mu.RLock()
	peerIDs := make([]string, 0, len(c.peers))
	for id := range c.peers {
		peerIDs = append(peerIDs, id)
	}
	c.mu.RUnlock()

	for _, id := range peerIDs {
		c.RemovePeer(id)
	}

	c.wg.Wait()

	c.logger.Info("Room coordinator stopped")
}
