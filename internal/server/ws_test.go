package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/room-transcription-service/internal/audio"
	"github.com/skypro1111/room-transcription-service/internal/pipeline"
	"github.com/skypro1111/room-transcription-service/internal/room"
	"github.com/skypro1111/room-transcription-service/internal/store"
	"github.com/skypro1111/room-transcription-service/internal/transcription"
	"github.com/skypro1111/room-transcription-service/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cannedProvider always returns the same transcript
type cannedProvider struct {
	text string
}

func (p *cannedProvider) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	return p.text, nil
}

func (p *cannedProvider) Name() string {
	return "canned"
}

type wsFixture struct {
	hub      *Hub
	sessions *store.Store
	srv      *httptest.Server
}

// newWSFixture stands up the full pipeline behind a test WebSocket server
func newWSFixture(t *testing.T, providerText string) *wsFixture {
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

	coordinator := room.NewCoordinator(room.Config{
		FlushThreshold: 0.1,
		FrameQueueSize: 64,
	}, gate, queue, sessions, testLogger(), nil)

	worker, err := pipeline.NewWorker(queue, &cannedProvider{text: providerText}, gate,
		pipeline.WorkerConfig{WorkDir: t.TempDir(), JobTimeout: 10 * time.Second},
		coordinator.OnTranscript, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}

	hub := NewHub(coordinator, testLogger())
	coordinator.SetBroadcaster(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))

	t.Cleanup(func() {
		srv.Close()
		coordinator.Stop()
		cancel()
	})

	return &wsFixture{hub: hub, sessions: sessions, srv: srv}
}

func (f *wsFixture) dial(t *testing.T, roomID, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?room=" + roomID + "&user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

// loudPCM returns PCM bytes whose mean absolute amplitude is 100
func loudPCM(samples int) []byte {
	frame := make([]int16, samples)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 100
		} else {
			frame[i] = -100
		}
	}
	return audio.SamplesToBytes(frame)
}

func TestHandleWSMissingParams(t *testing.T) {
	f := newWSFixture(t, "ignored")

	resp, err := http.Get(f.srv.URL + "/ws?room=standup")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing user parameter, got %d", resp.StatusCode)
	}
}

func TestHandleWSInvalidHello(t *testing.T) {
	f := newWSFixture(t, "ignored")

	conn := f.dial(t, "standup", "alice")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"sampleRate":0,"channels":1}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	// The server rejects the hello by closing the connection
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after invalid hello")
	}
}

func TestAudioToBroadcastRoundTrip(t *testing.T) {
	f := newWSFixture(t, "hello world")

	conn := f.dial(t, "standup", "alice")
	defer conn.Close()

	hello, _ := json.Marshal(helloMessage{SampleRate: 8000, Channels: 1})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("Failed to send hello: %v", err)
	}

	// 100ms of speech at 8kHz mono triggers one flush
	for i := 0; i < 5; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, loudPCM(160)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg transcriptMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Failed to parse broadcast: %v", err)
	}

	if msg.Text != "hello world" {
		t.Errorf("Expected transcript %q, got %q", "hello world", msg.Text)
	}
	if msg.UserID != "alice" {
		t.Errorf("Expected userId alice, got %s", msg.UserID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected broadcast timestamp to be set")
	}
}

func TestBroadcastReachesAllRoomMembers(t *testing.T) {
	f := newWSFixture(t, "hello room")

	alice := f.dial(t, "standup", "alice")
	defer alice.Close()
	bob := f.dial(t, "standup", "bob")
	defer bob.Close()

	hello, _ := json.Marshal(helloMessage{SampleRate: 8000, Channels: 1})
	for _, conn := range []*websocket.Conn{alice, bob} {
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			t.Fatalf("Failed to send hello: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		if err := alice.WriteMessage(websocket.BinaryMessage, loudPCM(160)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}

	// Both the speaker and the listener receive the transcript
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("%s failed to read broadcast: %v", name, err)
		}

		var msg transcriptMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("Failed to parse broadcast for %s: %v", name, err)
		}
		if msg.Text != "hello room" || msg.UserID != "alice" {
			t.Errorf("%s received wrong broadcast: %+v", name, msg)
		}
	}
}

func TestDisconnectClosesSession(t *testing.T) {
	f := newWSFixture(t, "ignored")

	conn := f.dial(t, "standup", "alice")

	hello, _ := json.Marshal(helloMessage{SampleRate: 8000, Channels: 1})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("Failed to send hello: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !f.sessions.HasSession("standup") {
		if time.Now().After(deadline) {
			t.Fatal("Session never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	for f.sessions.HasSession("standup") {
		if time.Now().After(deadline) {
			t.Fatal("Session not closed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
