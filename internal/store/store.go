package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TranscriptEntry is one accepted transcript within a room session
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
}

// RoomSession is the persisted transcript document for one room occupancy
// interval. At most one open session exists per room id at any time.
type RoomSession struct {
	Room           string            `json:"room"`
	StartedAt      time.Time         `json:"startedAt"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	Transcriptions []TranscriptEntry `json:"transcriptions"`

	path string
}

// Path returns the session file location
func (s *RoomSession) Path() string {
	return s.path
}

// Store manages open room sessions and their files
type Store struct {
	dir      string
	sessions map[string]*RoomSession
	logger   *slog.Logger

	// Statistics
	opened uint64
	closed uint64

	mu sync.Mutex
}

// StoreStats represents store statistics for monitoring
type StoreStats struct {
	OpenSessions   int    `json:"open_sessions"`
	SessionsOpened uint64 `json:"sessions_opened"`
	SessionsClosed uint64 `json:"sessions_closed"`
	SessionDir     string `json:"session_dir"`
}

// New creates a session store rooted at dir.
// Failure to create the directory is fatal for the caller: the service must
// not run without durable transcript storage.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	return &Store{
		dir:      dir,
		sessions: make(map[string]*RoomSession),
		logger:   logger,
	}, nil
}

// Open starts a session for a room. Opening a room that already has an open
// session returns the existing session unchanged.
func (s *Store) Open(roomID string) (*RoomSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[roomID]; ok {
		return existing, nil
	}

	now := time.Now()
	session := &RoomSession{
		Room:           roomID,
		StartedAt:      now,
		Transcriptions: make([]TranscriptEntry, 0),
		path:           filepath.Join(s.dir, sessionFileName(roomID, now)),
	}

	if err := s.rewrite(session); err != nil {
		return nil, fmt.Errorf("failed to write initial session document: %w", err)
	}

	s.sessions[roomID] = session
	s.opened++

	s.logger.Info("Room session opened",
		slog.String("room", roomID),
		slog.String("file", session.path),
	)

	return session, nil
}

// Append adds an accepted transcript entry to the room's open session and
// rewrites the session file
func (s *Store) Append(roomID string, entry TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[roomID]
	if !ok {
		return fmt.Errorf("no open session for room %q", roomID)
	}

	session.Transcriptions = append(session.Transcriptions, entry)

	if err := s.rewrite(session); err != nil {
		return fmt.Errorf("failed to persist transcript entry: %w", err)
	}

	return nil
}

// Close stamps the session's end time, performs a final rewrite, and discards
// the in-memory session. Closing a room with no open session is a no-op.
func (s *Store) Close(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked(roomID)
}

func (s *Store) closeLocked(roomID string) error {
	session, ok := s.sessions[roomID]
	if !ok {
		return nil
	}

	now := time.Now()
	session.EndedAt = &now

	err := s.rewrite(session)

	delete(s.sessions, roomID)
	s.closed++

	s.logger.Info("Room session closed",
		slog.String("room", roomID),
		slog.Int("entries", len(session.Transcriptions)),
		slog.Duration("duration", now.Sub(session.StartedAt)),
	)

	if err != nil {
		return fmt.Errorf("failed to finalize session document: %w", err)
	}

	return nil
}

// CloseAll closes every open session; used on shutdown
func (s *Store) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID := range s.sessions {
		if err := s.closeLocked(roomID); err != nil {
			s.logger.Warn("Error closing session on shutdown",
				slog.String("room", roomID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HasSession reports whether the room currently has an open session
func (s *Store) HasSession(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[roomID]
	return ok
}

// GetStats returns current store statistics
func (s *Store) GetStats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{
		OpenSessions:   len(s.sessions),
		SessionsOpened: s.opened,
		SessionsClosed: s.closed,
		SessionDir:     s.dir,
	}
}

// rewrite writes the complete session document to its file
func (s *Store) rewrite(session *RoomSession) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session document: %w", err)
	}

	if err := os.WriteFile(session.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", session.path, err)
	}

	return nil
}

// sessionFileName derives a filesystem-safe file name from the room id and
// session start time. Colons and periods in the timestamp are replaced so the
// name is valid on all platforms.
func sessionFileName(roomID string, start time.Time) string {
	stamp := start.Format(time.RFC3339)
	stamp = strings.ReplaceAll(stamp, ":", "-")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	return fmt.Sprintf("%s_%s.json", roomID, stamp)
}
