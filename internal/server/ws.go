package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/room-transcription-service/internal/audio"
	"github.com/skypro1111/room-transcription-service/internal/room"
	"github.com/skypro1111/room-transcription-service/internal/store"
)

const (
	// writeWait is the deadline for a single outbound write
	writeWait = 10 * time.Second

	// maxFrameSize bounds inbound messages; a frame larger than this is a
	// protocol violation, not audio
	maxFrameSize = 1 << 20

	// clientSendBuffer bounds the per-client outbound queue
	clientSendBuffer = 32
)

// helloMessage is the first message a peer sends after connecting,
// describing its audio format
type helloMessage struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// transcriptMessage is the outbound broadcast for one accepted transcript
type transcriptMessage struct {
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// client is one connected WebSocket peer
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	peerID string
	roomID string
	userID string
}

// Hub terminates WebSocket connections, feeds decoded PCM into the
// coordinator, and fans accepted transcripts back out to room members.
// It implements room.Broadcaster.
type Hub struct {
	coordinator *room.Coordinator
	upgrader    websocket.Upgrader
	rooms       map[string]map[*client]struct{}
	logger      *slog.Logger

	mu sync.RWMutex
}

// NewHub creates a WebSocket hub bound to the coordinator
func NewHub(coordinator *room.Coordinator, logger *slog.Logger) *Hub {
	return &Hub{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Origin enforcement belongs to the fronting proxy
				return true
			},
		},
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

// HandleWS implements the /ws endpoint. The peer identifies its room and
// user via query parameters, sends one JSON hello describing its audio
// format, then streams binary PCM frames.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")

	if roomID == "" || userID == "" {
		http.Error(w, "room and user query parameters are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	conn.SetReadLimit(maxFrameSize)

	hello, err := h.readHello(conn)
	if err != nil {
		h.logger.Warn("Invalid hello message",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	peer, err := h.coordinator.AddPeer(roomID, userID, hello.SampleRate, hello.Channels)
	if err != nil {
		h.logger.Warn("Failed to add peer",
			slog.String("room", roomID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		peerID: peer.ID,
		roomID: roomID,
		userID: userID,
	}

	h.register(c)
	go c.writePump(h.logger)

	h.readLoop(c)

	// Removal is idempotent; a peer already removed elsewhere is a no-op
	h.unregister(c)
	h.coordinator.RemovePeer(c.peerID)
	conn.Close()
}

// readHello reads and validates the peer's opening message
func (h *Hub) readHello(conn *websocket.Conn) (helloMessage, error) {
	var hello helloMessage

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("failed to read hello: %w", err)
	}
	if messageType != websocket.TextMessage {
		return hello, fmt.Errorf("hello must be a text message, got type %d", messageType)
	}

	if err := json.Unmarshal(data, &hello); err != nil {
		return hello, fmt.Errorf("failed to parse hello: %w", err)
	}

	if hello.SampleRate <= 0 {
		return hello, fmt.Errorf("invalid sample rate: %d", hello.SampleRate)
	}
	if hello.Channels <= 0 {
		return hello, fmt.Errorf("invalid channel count: %d", hello.Channels)
	}

	return hello, nil
}

// readLoop consumes binary PCM frames until the connection closes
func (h *Hub) readLoop(c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error",
					slog.String("peer_id", c.peerID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		samples, err := audio.BytesToSamples(data)
		if err != nil {
			h.logger.Warn("Malformed PCM frame",
				slog.String("peer_id", c.peerID),
				slog.Int("bytes", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := h.coordinator.HandleFrame(c.peerID, samples); err != nil {
			// The peer was removed concurrently; stop reading
			return
		}
	}
}

// Broadcast delivers one accepted transcript to every member of the room.
// Slow clients are skipped rather than allowed to stall the pipeline.
func (h *Hub) Broadcast(roomID string, entry store.TranscriptEntry) {
	payload, err := json.Marshal(transcriptMessage{
		UserID:    entry.UserID,
		Text:      entry.Text,
		Timestamp: entry.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal transcript broadcast",
			slog.String("room", roomID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	members := h.rooms[roomID]
	clients := make([]*client, 0, len(members))
	for c := range members {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("Broadcast dropped, client send buffer full",
				slog.String("peer_id", c.peerID),
				slog.String("room", roomID),
			)
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, members := range h.rooms {
		count += len(members)
	}
	return count
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*client]struct{})
	}
	h.rooms[c.roomID][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[c.roomID]
	if !ok {
		return
	}

	if _, ok := members[c]; !ok {
		return
	}

	delete(members, c)
	close(c.send)

	if len(members) == 0 {
		delete(h.rooms, c.roomID)
	}
}

// writePump serializes all writes to the connection
func (c *client) writePump(logger *slog.Logger) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("WebSocket write error",
				slog.String("peer_id", c.peerID),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
