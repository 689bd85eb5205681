package store

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func readSession(t *testing.T, path string) RoomSession {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read session file: %v", err)
	}

	var session RoomSession
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("Failed to parse session file: %v", err)
	}
	return session
}

func TestNewEmptyDir(t *testing.T) {
	if _, err := New("", testLogger()); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestOpenWritesInitialDocument(t *testing.T) {
	s := testStore(t)

	session, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !s.HasSession("room-1") {
		t.Error("Expected open session for room-1")
	}

	doc := readSession(t, session.Path())
	if doc.Room != "room-1" {
		t.Errorf("Expected room room-1, got %s", doc.Room)
	}
	if doc.EndedAt != nil {
		t.Error("Expected no end time on open session")
	}
	if doc.Transcriptions == nil || len(doc.Transcriptions) != 0 {
		t.Errorf("Expected empty transcriptions array, got %v", doc.Transcriptions)
	}
}

func TestOpenIdempotent(t *testing.T) {
	s := testStore(t)

	first, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	second, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}

	// Re-opening must return the unchanged existing session
	if first != second {
		t.Error("Expected the same session on repeated open")
	}

	stats := s.GetStats()
	if stats.SessionsOpened != 1 {
		t.Errorf("Expected 1 session opened, got %d", stats.SessionsOpened)
	}
}

func TestAppendRewritesSnapshot(t *testing.T) {
	s := testStore(t)

	session, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	entries := []TranscriptEntry{
		{Timestamp: time.Now(), UserID: "alice", Text: "first"},
		{Timestamp: time.Now(), UserID: "bob", Text: "second"},
	}

	for _, e := range entries {
		if err := s.Append("room-1", e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// The file on disk is always a complete snapshot
	doc := readSession(t, session.Path())
	if len(doc.Transcriptions) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(doc.Transcriptions))
	}
	if doc.Transcriptions[0].Text != "first" || doc.Transcriptions[1].Text != "second" {
		t.Errorf("Entry order not preserved: %v", doc.Transcriptions)
	}
	if doc.Transcriptions[1].UserID != "bob" {
		t.Errorf("Expected userId bob, got %s", doc.Transcriptions[1].UserID)
	}
}

func TestAppendWithoutSession(t *testing.T) {
	s := testStore(t)

	err := s.Append("room-ghost", TranscriptEntry{UserID: "alice", Text: "lost"})
	if err == nil {
		t.Error("Expected error appending to a room with no open session")
	}
}

func TestCloseStampsEndTime(t *testing.T) {
	s := testStore(t)

	session, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Close("room-1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if s.HasSession("room-1") {
		t.Error("Expected session to be discarded after close")
	}

	doc := readSession(t, session.Path())
	if doc.EndedAt == nil {
		t.Error("Expected end time on closed session")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := testStore(t)

	// Closing a room with no open session is a no-op
	if err := s.Close("room-never-opened"); err != nil {
		t.Errorf("Expected no-op close, got error: %v", err)
	}

	if _, err := s.Open("room-1"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close("room-1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close("room-1"); err != nil {
		t.Errorf("Expected repeated close to be a no-op, got error: %v", err)
	}
}

func TestReopenCreatesDistinctFile(t *testing.T) {
	s := testStore(t)

	first, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	firstPath := first.Path()

	if err := s.Close("room-1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Session file names have second resolution; make sure the clock ticks
	// over between sessions
	time.Sleep(1100 * time.Millisecond)

	second, err := s.Open("room-1")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}

	if second.Path() == firstPath {
		t.Error("Expected a distinct file for the new session")
	}
}

func TestSessionFileName(t *testing.T) {
	start := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	name := sessionFileName("standup", start)

	if !strings.HasPrefix(name, "standup_") {
		t.Errorf("Expected room id prefix, got %s", name)
	}
	if !strings.HasSuffix(name, ".json") {
		t.Errorf("Expected .json extension, got %s", name)
	}
	// The name between prefix and extension must carry no colons or periods
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "standup_"), ".json")
	if strings.ContainsAny(stamp, ":.") {
		t.Errorf("Timestamp not sanitized: %s", stamp)
	}
}

func TestCloseAll(t *testing.T) {
	s := testStore(t)

	for _, room := range []string{"a", "b", "c"} {
		if _, err := s.Open(room); err != nil {
			t.Fatalf("Open %s failed: %v", room, err)
		}
	}

	s.CloseAll()

	stats := s.GetStats()
	if stats.OpenSessions != 0 {
		t.Errorf("Expected no open sessions, got %d", stats.OpenSessions)
	}
	if stats.SessionsClosed != 3 {
		t.Errorf("Expected 3 sessions closed, got %d", stats.SessionsClosed)
	}
}
