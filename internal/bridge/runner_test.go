package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/dialogue"
	"github.com/parley-ai/voicebridge/internal/recognition"
	"github.com/parley-ai/voicebridge/internal/session"
	"github.com/parley-ai/voicebridge/internal/synthesis"
	"github.com/parley-ai/voicebridge/internal/telephony"
)

type stubRecognizer struct {
	events     chan recognition.Event
	received   atomic.Int32
	connectErr error
}

func newStubRecognizer() *stubRecognizer {
	return &stubRecognizer{events: make(chan recognition.Event, 16)}
}

func (s *stubRecognizer) Connect(ctx context.Context) error { return s.connectErr }

func (s *stubRecognizer) Send(audio []byte) error {
	s.received.Add(1)
	return nil
}

func (s *stubRecognizer) Events() <-chan recognition.Event { return s.events }
func (s *stubRecognizer) Close() error                     { return nil }

type stubGenerator struct {
	reply string
	calls atomic.Int32
}

func (s *stubGenerator) Generate(ctx context.Context, history []session.Turn, tools []dialogue.Tool) (*dialogue.Reply, error) {
	s.calls.Add(1)
	return &dialogue.Reply{Text: s.reply}, nil
}

type stubSynthesizer struct {
	audio []byte
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.audio)), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		InboundQueueSize:          100,
		SynthesisBufferBytes:      32000,
		HistoryWindow:             20,
		RecognitionConnectTimeout: time.Second,
		TaskDir:                   t.TempDir(),
	}
}

func testDeps(t *testing.T, rec *stubRecognizer, gen *stubGenerator, synth *stubSynthesizer) (Deps, string) {
	t.Helper()
	recordDir := t.TempDir()
	return Deps{
		Config:         testConfig(t),
		Store:          session.NewStore(recordDir, zerolog.Nop()),
		NewRecognizer:  func(zerolog.Logger) recognition.Recognizer { return rec },
		NewGenerator:   func(zerolog.Logger) dialogue.Generator { return gen },
		NewSynthesizer: func(zerolog.Logger) synthesis.Synthesizer { return synth },
	}, recordDir
}

func dialBridge(t *testing.T, deps Deps) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(Handler(deps))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForRecord(t *testing.T, path string) session.Result {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			var result session.Result
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("bad record %s: %v", path, err)
			}
			return result
		}
		if time.Now().After(deadline) {
			t.Fatalf("record %s never written", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunInboundCallEndToEnd(t *testing.T) {
	rec := newStubRecognizer()
	gen := &stubGenerator{reply: "We are open until nine tonight."}
	synth := &stubSynthesizer{audio: make([]byte, 480)}
	deps, recordDir := testDeps(t, rec, gen, synth)

	conn := dialBridge(t, deps)
	if err := conn.WriteJSON(telephony.StreamMessage{
		Event: "start",
		Start: &telephony.StartPayload{CallSid: "CA100", StreamSid: "MZ100"},
	}); err != nil {
		t.Fatalf("start write failed: %v", err)
	}

	// Caller audio flows in at the wire framing.
	frame := base64.StdEncoding.EncodeToString(make([]byte, 160))
	for i := 0; i < 20; i++ {
		if err := conn.WriteJSON(telephony.StreamMessage{
			Event: "media",
			Media: &telephony.MediaPayload{Track: telephony.TrackInbound, Payload: frame},
		}); err != nil {
			t.Fatalf("media write failed: %v", err)
		}
	}

	// The recognizer finishes an utterance; a reply should come back
	// as outbound media frames.
	rec.events <- recognition.Event{Text: "how late are you open", IsFinal: true, SpeechFinal: true}

	var mediaFrames int
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for mediaFrames < 3 {
		var msg telephony.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed after %d frames: %v", mediaFrames, err)
		}
		if msg.Event != "media" || msg.Media == nil {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			t.Fatalf("bad outbound payload: %v", err)
		}
		if len(payload) != 160 {
			t.Errorf("outbound frame has %d bytes, want 160", len(payload))
		}
		if msg.StreamSid != "MZ100" {
			t.Errorf("outbound frame tagged %q, want MZ100", msg.StreamSid)
		}
		mediaFrames++
	}

	if err := conn.WriteJSON(telephony.StreamMessage{Event: "stop"}); err != nil {
		t.Fatalf("stop write failed: %v", err)
	}

	result := waitForRecord(t, filepath.Join(recordDir, "CA100.json"))
	if !result.Completed {
		t.Error("call should be marked completed")
	}
	if result.Direction != session.Inbound {
		t.Errorf("direction = %q, want inbound", result.Direction)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("expected 1 generation, got %d", gen.calls.Load())
	}
	if rec.received.Load() == 0 {
		t.Error("no caller audio reached the recognizer")
	}

	roles := make([]session.Role, 0, len(result.History))
	for _, turn := range result.History {
		roles = append(roles, turn.Role)
	}
	want := []session.Role{session.RoleSystem, session.RoleUser, session.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("history roles %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("history roles %v, want %v", roles, want)
		}
	}
	if len(result.Transcript) != 2 || result.Transcript[0].Speaker != "caller" || result.Transcript[1].Speaker != "assistant" {
		t.Errorf("unexpected transcript %+v", result.Transcript)
	}
}

func TestRunOutboundCallSpeaksGreeting(t *testing.T) {
	rec := newStubRecognizer()
	gen := &stubGenerator{reply: "noted"}
	synth := &stubSynthesizer{audio: make([]byte, 320)}
	deps, recordDir := testDeps(t, rec, gen, synth)

	task := &session.Task{Name: "survey", Greeting: "Hi, this is a quick survey call."}
	if _, err := deps.Store.Register("CA200", task, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	conn := dialBridge(t, deps)
	if err := conn.WriteJSON(telephony.StreamMessage{
		Event: "start",
		Start: &telephony.StartPayload{CallSid: "CA200", StreamSid: "MZ200"},
	}); err != nil {
		t.Fatalf("start write failed: %v", err)
	}

	// Greeting audio arrives without any caller utterance or model call.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var mediaFrames int
	for mediaFrames < 2 {
		var msg telephony.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Event == "media" {
			mediaFrames++
		}
	}
	if gen.calls.Load() != 0 {
		t.Errorf("greeting must not hit the model, got %d calls", gen.calls.Load())
	}

	if err := conn.WriteJSON(telephony.StreamMessage{Event: "stop"}); err != nil {
		t.Fatalf("stop write failed: %v", err)
	}

	result := waitForRecord(t, filepath.Join(recordDir, "CA200.json"))
	if result.Direction != session.Outbound {
		t.Errorf("direction = %q, want outbound", result.Direction)
	}
	if result.Task != "survey" {
		t.Errorf("task = %q, want survey", result.Task)
	}
	last := result.History[len(result.History)-1]
	if last.Role != session.RoleAssistant || last.Content != "Hi, this is a quick survey call." {
		t.Errorf("greeting turn missing, last turn %+v", last)
	}
}

func TestRunRecognizerFailureAbortsCall(t *testing.T) {
	rec := newStubRecognizer()
	rec.connectErr = errors.New("recognizer unreachable")
	deps, recordDir := testDeps(t, rec, &stubGenerator{}, &stubSynthesizer{})

	conn := dialBridge(t, deps)
	if err := conn.WriteJSON(telephony.StreamMessage{
		Event: "start",
		Start: &telephony.StartPayload{CallSid: "CA300", StreamSid: "MZ300"},
	}); err != nil {
		t.Fatalf("start write failed: %v", err)
	}

	result := waitForRecord(t, filepath.Join(recordDir, "CA300.json"))
	if result.Completed {
		t.Error("aborted call must not be marked completed")
	}
	// Only the pinned system turn; the caller never got a word in.
	if len(result.History) != 1 || result.History[0].Role != session.RoleSystem {
		t.Errorf("unexpected history %+v", result.History)
	}

	// The server tears the socket down.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHandlerRejectsPlainHTTP(t *testing.T) {
	deps, _ := testDeps(t, newStubRecognizer(), &stubGenerator{}, &stubSynthesizer{})
	srv := httptest.NewServer(Handler(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("plain HTTP request should not succeed")
	}
}
