package room

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/room-transcription-service/internal/pipeline"
	"github.com/skypro1111/room-transcription-service/internal/store"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBroadcaster captures broadcast transcripts per room
type recordingBroadcaster struct {
	mu      sync.Mutex
	entries map[string][]store.TranscriptEntry
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{entries: make(map[string][]store.TranscriptEntry)}
}

func (b *recordingBroadcaster) Broadcast(roomID string, entry store.TranscriptEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[roomID] = append(b.entries[roomID], entry)
}

func (b *recordingBroadcaster) get(roomID string) []store.TranscriptEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]store.TranscriptEntry(nil), b.entries[roomID]...)
}

type fixture struct {
	coordinator *Coordinator
	gate        *vad.Gate
	queue       *pipeline.Queue
	sessions    *store.Store
	broadcaster *recordingBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gate, err := vad.NewGate(40)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	sessions, err := store.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}

	queue := pipeline.NewQueue(3)
	broadcaster := newRecordingBroadcaster()

	coordinator := NewCoordinator(Config{
		FlushThreshold: 0.1, // 100ms keeps tests fast
		FrameQueueSize: 64,
	}, gate, queue, sessions, testLogger(), nil)
	coordinator.SetBroadcaster(broadcaster)

	t.Cleanup(coordinator.Stop)

	return &fixture{
		coordinator: coordinator,
		gate:        gate,
		queue:       queue,
		sessions:    sessions,
		broadcaster: broadcaster,
	}
}

// loudFrame returns a frame whose mean absolute amplitude is 100
func loudFrame(samples int) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 100
		} else {
			frame[i] = -100
		}
	}
	return frame
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestAddPeerOpensSession(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	if peer.ID == "" {
		t.Error("Expected generated peer id")
	}
	if !f.sessions.HasSession("standup") {
		t.Error("Expected session opened for first peer")
	}

	// A second peer in the same room must not open another session
	if _, err := f.coordinator.AddPeer("standup", "bob", 8000, 1); err != nil {
		t.Fatalf("Second AddPeer failed: %v", err)
	}

	stats := f.sessions.GetStats()
	if stats.SessionsOpened != 1 {
		t.Errorf("Expected 1 session opened, got %d", stats.SessionsOpened)
	}
}

func TestAddPeerValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.coordinator.AddPeer("", "alice", 8000, 1); err == nil {
		t.Error("Expected error for empty room id")
	}
	if _, err := f.coordinator.AddPeer("room", "", 8000, 1); err == nil {
		t.Error("Expected error for empty user id")
	}
	if _, err := f.coordinator.AddPeer("room", "alice", 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := f.coordinator.AddPeer("room", "alice", 8000, 0); err == nil {
		t.Error("Expected error for zero channels")
	}
}

func TestSpeechSegmentEnqueued(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	// 100ms at 8kHz mono is 800 samples; five 160-sample frames reach the
	// flush threshold exactly once
	for i := 0; i < 5; i++ {
		if err := f.coordinator.HandleFrame(peer.ID, loudFrame(160)); err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
	}

	waitFor(t, "job in queue", func() bool {
		return f.queue.Len() == 1
	})

	job, ok := f.queue.Dequeue()
	if !ok {
		t.Fatal("Expected a queued job")
	}
	if job.RoomID != "standup" || job.UserID != "alice" {
		t.Errorf("Job carries wrong identity: room=%s user=%s", job.RoomID, job.UserID)
	}
	if len(job.Samples) != 800 {
		t.Errorf("Expected 800 samples in segment, got %d", len(job.Samples))
	}
	if job.SampleRate != 8000 || job.Channels != 1 {
		t.Errorf("Job carries wrong format: rate=%d channels=%d", job.SampleRate, job.Channels)
	}

	// The peer's buffer is empty after a flush
	waitFor(t, "empty peer buffer", func() bool {
		return peer.Info().BufferedSamples == 0
	})
}

func TestSilenceNeverEnqueued(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	// 120ms of pure silence crosses the flush threshold but must be gated out
	for i := 0; i < 6; i++ {
		if err := f.coordinator.HandleFrame(peer.ID, make([]int16, 160)); err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
	}

	waitFor(t, "gate evaluation", func() bool {
		return f.gate.GetStats().TotalSegments >= 1
	})

	if f.queue.Len() != 0 {
		t.Errorf("Expected empty queue for silent audio, got %d jobs", f.queue.Len())
	}
}

func TestHandleFrameUnknownPeer(t *testing.T) {
	f := newFixture(t)

	if err := f.coordinator.HandleFrame("no-such-peer", loudFrame(160)); err == nil {
		t.Error("Expected error for unknown peer")
	}
}

func TestOnTranscriptPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	f.coordinator.OnTranscript(pipeline.Job{
		ID:     "job-1",
		PeerID: peer.ID,
		RoomID: "standup",
		UserID: "alice",
	}, "hello world")

	broadcasts := f.broadcaster.get("standup")
	if len(broadcasts) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(broadcasts))
	}
	if broadcasts[0].Text != "hello world" || broadcasts[0].UserID != "alice" {
		t.Errorf("Broadcast carries wrong content: %+v", broadcasts[0])
	}
	if broadcasts[0].Timestamp.IsZero() {
		t.Error("Expected broadcast timestamp to be set")
	}

	// Idempotent open returns the live session; the entry must be persisted
	session, err := f.sessions.Open("standup")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := os.ReadFile(session.Path())
	if err != nil {
		t.Fatalf("Failed to read session file: %v", err)
	}

	var doc store.RoomSession
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Failed to parse session file: %v", err)
	}
	if len(doc.Transcriptions) != 1 || doc.Transcriptions[0].Text != "hello world" {
		t.Errorf("Transcript not persisted: %+v", doc.Transcriptions)
	}
}

func TestLastPeerClosesSession(t *testing.T) {
	f := newFixture(t)

	alice, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}
	bob, err := f.coordinator.AddPeer("standup", "bob", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	// One peer leaving keeps the session open
	f.coordinator.RemovePeer(alice.ID)
	if !f.sessions.HasSession("standup") {
		t.Error("Expected session to stay open while a peer remains")
	}

	// The last peer leaving closes it
	f.coordinator.RemovePeer(bob.ID)
	if f.sessions.HasSession("standup") {
		t.Error("Expected session closed when room emptied")
	}
}

func TestRejoinOpensNewSession(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}
	f.coordinator.RemovePeer(peer.ID)

	if _, err := f.coordinator.AddPeer("standup", "alice", 8000, 1); err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}

	stats := f.sessions.GetStats()
	if stats.SessionsOpened != 2 {
		t.Errorf("Expected a distinct second session, got %d opened", stats.SessionsOpened)
	}
	if stats.SessionsClosed != 1 {
		t.Errorf("Expected first session closed, got %d closed", stats.SessionsClosed)
	}
}

func TestRemovePeerIdempotent(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	if !f.coordinator.RemovePeer(peer.ID) {
		t.Error("Expected first removal to report true")
	}
	if f.coordinator.RemovePeer(peer.ID) {
		t.Error("Expected repeated removal to be a no-op")
	}
	if f.coordinator.RemovePeer("never-existed") {
		t.Error("Expected removal of unknown peer to be a no-op")
	}
}

func TestPeerStateLifecycle(t *testing.T) {
	f := newFixture(t)

	peer, err := f.coordinator.AddPeer("standup", "alice", 8000, 1)
	if err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	if peer.State() != StateConnecting {
		t.Errorf("Expected connecting state after add, got %s", peer.State())
	}

	if err := f.coordinator.HandleFrame(peer.ID, loudFrame(160)); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	waitFor(t, "connected state", func() bool {
		return peer.State() == StateConnected
	})

	f.coordinator.RemovePeer(peer.ID)

	waitFor(t, "closed state", func() bool {
		return peer.State() == StateClosed
	})
}

func TestCoordinatorStop(t *testing.T) {
	f := newFixture(t)

	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := f.coordinator.AddPeer("standup", user, 8000, 1); err != nil {
			t.Fatalf("AddPeer failed: %v", err)
		}
	}

	f.coordinator.Stop()

	if f.coordinator.PeerCount() != 0 {
		t.Errorf("Expected no peers after stop, got %d", f.coordinator.PeerCount())
	}
	if f.sessions.HasSession("standup") {
		t.Error("Expected session closed on stop")
	}
}
