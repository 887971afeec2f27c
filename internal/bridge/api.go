package bridge

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/session"
)

// CallPlacer places an outbound call and returns the provider call id.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to, taskName string) (string, error)
}

// API serves the call control endpoints: placing outbound calls and
// inspecting active ones.
type API struct {
	cfg    *config.Config
	store  *session.Store
	placer CallPlacer
	logger zerolog.Logger
}

// NewAPI wires the call control endpoints. placer may be nil when
// outbound calling is not configured.
func NewAPI(cfg *config.Config, store *session.Store, placer CallPlacer, logger zerolog.Logger) *API {
	return &API{cfg: cfg, store: store, placer: placer, logger: logger}
}

type placeCallRequest struct {
	To         string         `json:"to"`
	Task       string         `json:"task"`
	TaskConfig map[string]any `json:"task_config,omitempty"`
}

type placeCallResponse struct {
	CallSID string `json:"call_sid"`
	Task    string `json:"task,omitempty"`
}

type callStatusResponse struct {
	CallSID   string            `json:"call_sid"`
	State     string            `json:"state"`
	Direction session.Direction `json:"direction"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// PlaceCall handles POST /calls: place an outbound call running the
// named task, and register its session so the media stream can find it.
func (a *API) PlaceCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.placer == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound calling is not configured")
		return
	}

	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "missing 'to' number")
		return
	}

	var task *session.Task
	if req.Task != "" {
		var err error
		task, err = session.LoadTask(a.cfg.TaskDir, req.Task)
		if err != nil {
			a.logger.Warn().Err(err).Str("task", req.Task).Msg("Unknown task for outbound call")
			writeError(w, http.StatusBadRequest, "unknown task")
			return
		}
	}

	callSID, err := a.placer.PlaceCall(r.Context(), req.To, req.Task)
	if err != nil {
		a.logger.Error().Err(err).Str("to", req.To).Msg("Outbound call placement failed")
		writeError(w, http.StatusBadGateway, "call placement failed")
		return
	}

	if _, err := a.store.Register(callSID, task, req.TaskConfig); err != nil {
		a.logger.Error().Err(err).Str("call_sid", callSID).Msg("Failed to register outbound session")
		writeError(w, http.StatusInternalServerError, "failed to register call")
		return
	}

	writeJSON(w, http.StatusCreated, placeCallResponse{CallSID: callSID, Task: task.TaskName()})
}

// CallStatus serves /calls/status. GET reports the live state of an
// active call; POST is the provider's status callback and is logged.
func (a *API) CallStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid status callback")
			return
		}
		a.logger.Info().
			Str("call_sid", r.PostForm.Get("CallSid")).
			Str("status", r.PostForm.Get("CallStatus")).
			Msg("Call status callback")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	callSID := r.URL.Query().Get("call_sid")
	if callSID == "" {
		writeError(w, http.StatusBadRequest, "missing call_sid")
		return
	}
	sess, ok := a.store.LookupCall(callSID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active call with that id")
		return
	}
	writeJSON(w, http.StatusOK, callStatusResponse{
		CallSID:   callSID,
		State:     sess.State().String(),
		Direction: sess.Direction,
	})
}
