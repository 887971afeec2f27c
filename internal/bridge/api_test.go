package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/session"
)

type stubPlacer struct {
	sid  string
	err  error
	to   string
	task string
}

func (s *stubPlacer) PlaceCall(ctx context.Context, to, taskName string) (string, error) {
	s.to = to
	s.task = taskName
	return s.sid, s.err
}

func newTestAPI(t *testing.T, placer CallPlacer) (*API, *session.Store) {
	t.Helper()
	cfg := testConfig(t)
	taskYAML := "name: survey\nobjective: run a quick survey\ngreeting: Hello!\n"
	if err := os.WriteFile(filepath.Join(cfg.TaskDir, "survey.yaml"), []byte(taskYAML), 0o644); err != nil {
		t.Fatalf("failed to write task: %v", err)
	}
	store := session.NewStore(t.TempDir(), zerolog.Nop())
	return NewAPI(cfg, store, placer, zerolog.Nop()), store
}

func TestPlaceCallRegistersSession(t *testing.T) {
	placer := &stubPlacer{sid: "CA900"}
	api, store := newTestAPI(t, placer)

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"to":"+15550002222","task":"survey"}`))
	rec := httptest.NewRecorder()
	api.PlaceCall(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp placeCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.CallSID != "CA900" || resp.Task != "survey" {
		t.Errorf("unexpected response %+v", resp)
	}
	if placer.to != "+15550002222" || placer.task != "survey" {
		t.Errorf("placer called with to=%q task=%q", placer.to, placer.task)
	}

	sess, ok := store.LookupCall("CA900")
	if !ok {
		t.Fatal("outbound session not registered")
	}
	if sess.Direction != session.Outbound {
		t.Errorf("direction = %q, want outbound", sess.Direction)
	}
	if sess.Task.GreetingLine() != "Hello!" {
		t.Errorf("task not loaded, greeting %q", sess.Task.GreetingLine())
	}
}

func TestPlaceCallUnknownTask(t *testing.T) {
	api, _ := newTestAPI(t, &stubPlacer{sid: "CA901"})

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"to":"+15550002222","task":"no-such-task"}`))
	rec := httptest.NewRecorder()
	api.PlaceCall(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceCallMissingNumber(t *testing.T) {
	api, _ := newTestAPI(t, &stubPlacer{sid: "CA902"})

	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"task":"survey"}`))
	rec := httptest.NewRecorder()
	api.PlaceCall(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceCallPlacementFailure(t *testing.T) {
	api, store := newTestAPI(t, &stubPlacer{err: errors.New("provider down")})

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"to":"+15550002222","task":"survey"}`))
	rec := httptest.NewRecorder()
	api.PlaceCall(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if store.Active() != 0 {
		t.Error("no session should be registered on placement failure")
	}
}

func TestPlaceCallOutboundDisabled(t *testing.T) {
	api, _ := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"to":"+15550002222"}`))
	rec := httptest.NewRecorder()
	api.PlaceCall(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCallStatus(t *testing.T) {
	api, store := newTestAPI(t, &stubPlacer{})
	if _, err := store.Register("CA903", nil, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/calls/status?call_sid=CA903", nil)
	rec := httptest.NewRecorder()
	api.CallStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp callStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.CallSID != "CA903" || resp.Direction != session.Outbound {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCallStatusCallbackAccepted(t *testing.T) {
	api, _ := newTestAPI(t, &stubPlacer{})

	req := httptest.NewRequest(http.MethodPost, "/calls/status",
		strings.NewReader("CallSid=CA903&CallStatus=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	api.CallStatus(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestCallStatusNotFound(t *testing.T) {
	api, _ := newTestAPI(t, &stubPlacer{})

	req := httptest.NewRequest(http.MethodGet, "/calls/status?call_sid=CA999", nil)
	rec := httptest.NewRecorder()
	api.CallStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
