package room

import (
	"sync"
	"time"
)

// PeerState tracks a peer through its lifecycle
type PeerState int

const (
	// StateIdle means the peer is registered but no audio has arrived yet
	StateIdle PeerState = iota
	// StateConnecting means the peer is being set up
	StateConnecting
	// StateConnected means audio frames are flowing
	StateConnected
	// StateClosed means the peer has been removed; further frames are dropped
	StateClosed
)

// String returns a human-readable state name
func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerEvent is one unit of inbound work for a peer's serving goroutine
type peerEvent struct {
	samples []int16
}

// Peer represents one participant's audio path within a room.
// All buffer mutation happens on the peer's serving goroutine; the event
// channel is the only way in.
type Peer struct {
	ID         string
	RoomID     string
	UserID     string
	SampleRate int
	Channels   int
	JoinedAt   time.Time

	state  PeerState
	buf    []int16
	events chan peerEvent
	closed bool

	// Statistics
	framesReceived uint64
	framesDropped  uint64
	flushes        uint64

	mu sync.Mutex
}

// PeerInfo represents peer information for monitoring and APIs
type PeerInfo struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"room_id"`
	UserID          string    `json:"user_id"`
	State           string    `json:"state"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	JoinedAt        time.Time `json:"joined_at"`
	BufferedSamples int       `json:"buffered_samples"`
	FramesReceived  uint64    `json:"frames_received"`
	FramesDropped   uint64    `json:"frames_dropped"`
	Flushes         uint64    `json:"flushes"`
}

func newPeer(id, roomID, userID string, sampleRate, channels, queueSize int) *Peer {
	return &Peer{
		ID:         id,
		RoomID:     roomID,
		UserID:     userID,
		SampleRate: sampleRate,
		Channels:   channels,
		JoinedAt:   time.Now(),
		state:      StateIdle,
		buf:        make([]int16, 0),
		events:     make(chan peerEvent, queueSize),
	}
}

// deliver hands an event to the serving goroutine without blocking the
// caller. Frames that arrive faster than the peer can drain are dropped,
// never queued unboundedly.
func (p *Peer) deliver(e peerEvent) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	select {
	case p.events <- e:
		p.mu.Unlock()
		return true
	default:
		p.framesDropped++
		p.mu.Unlock()
		return false
	}
}

// closeEvents marks the peer closed and shuts the event channel exactly once
func (p *Peer) closeEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

// append accumulates decoded samples and reports when the buffer reaches the
// flush threshold. When it does, the accumulated segment is returned and the
// buffer is reset.
func (p *Peer) append(samples []int16, flushThreshold float64) ([]int16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.framesReceived++
	p.buf = append(p.buf, samples...)

	seconds := float64(len(p.buf)) / float64(p.SampleRate*p.Channels)
	if seconds < flushThreshold {
		return nil, false
	}

	segment := p.buf
	p.buf = make([]int16, 0)
	p.flushes++

	return segment, true
}

// setState transitions the peer's lifecycle state
func (p *Peer) setState(s PeerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the peer's current lifecycle state
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns a snapshot of the peer for monitoring
func (p *Peer) Info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PeerInfo{
		ID:              p.ID,
		RoomID:          p.RoomID,
		UserID:          p.UserID,
		State:           p.state.String(),
		SampleRate:      p.SampleRate,
		Channels:        p.Channels,
		JoinedAt:        p.JoinedAt,
		BufferedSamples: len(p.buf),
		FramesReceived:  p.framesReceived,
		FramesDropped:   p.framesDropped,
		Flushes:         p.flushes,
	}
}
