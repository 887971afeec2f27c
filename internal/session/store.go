package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the single source of truth mapping telephony identifiers to
// live call sessions, and the durable sink for finished-call records.
// Only the Store creates or deletes sessions; other components mutate
// fields of sessions they already hold.
type Store struct {
	mu       sync.Mutex
	all      map[*Session]struct{}
	byStream map[string]*Session
	byCall   map[string]*Session
	dir      string
	logger   zerolog.Logger
}

// NewStore creates a store writing call records under dir.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		all:      make(map[*Session]struct{}),
		byStream: make(map[string]*Session),
		byCall:   make(map[string]*Session),
		dir:      dir,
		logger:   logger,
	}
}

// Create builds a new unbound session for an inbound call. The stream
// and call ids are attached by Bind once the start event arrives.
func (st *Store) Create(direction Direction, task *Task, taskConfig map[string]any) *Session {
	return newSession(direction, task, taskConfig)
}

// Register creates a session for a placed outbound call, indexed by the
// call id returned from the telephony control API, so the media stream
// can find its task when the start event resolves.
func (st *Store) Register(callSID string, task *Task, taskConfig map[string]any) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.byCall[callSID]; ok {
		return nil, fmt.Errorf("call %s already registered", callSID)
	}
	sess := newSession(Outbound, task, taskConfig)
	sess.bind("", callSID)
	st.all[sess] = struct{}{}
	st.byCall[callSID] = sess
	return sess, nil
}

// Bind attaches the telephony identifiers to a session and indexes it.
// At most one session may exist per stream id.
func (st *Store) Bind(sess *Session, streamSID, callSID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.byStream[streamSID]; ok && existing != sess {
		return fmt.Errorf("stream %s already has a session", streamSID)
	}
	sess.bind(streamSID, callSID)
	st.all[sess] = struct{}{}
	st.byStream[streamSID] = sess
	if callSID != "" {
		st.byCall[callSID] = sess
	}
	return nil
}

// Lookup finds the session for a telephony stream id.
func (st *Store) Lookup(streamSID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.byStream[streamSID]
	return sess, ok
}

// LookupCall finds the session for a telephony call id.
func (st *Store) LookupCall(callSID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.byCall[callSID]
	return sess, ok
}

// Active returns the number of sessions currently held.
func (st *Store) Active() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.all)
}

// Finalize persists the call record exactly once, removes the session
// from the registry, and returns the path of the written record. A
// second call for the same session is an error.
func (st *Store) Finalize(sess *Session, completed bool) (string, error) {
	st.mu.Lock()
	if sess.finalized {
		st.mu.Unlock()
		return "", fmt.Errorf("session already finalized")
	}
	sess.finalized = true
	delete(st.all, sess)
	delete(st.byStream, sess.StreamSID())
	delete(st.byCall, sess.CallSID())
	st.mu.Unlock()

	result := Result{
		CallSID:    sess.CallSID(),
		StreamSID:  sess.StreamSID(),
		Direction:  sess.Direction,
		Task:       sess.Task.TaskName(),
		Completed:  completed,
		StartedAt:  sess.CreatedAt,
		EndedAt:    time.Now(),
		History:    sess.History(),
		Transcript: sess.Transcript(),
	}
	if result.CallSID == "" {
		// Calls torn down before their start event still get a record.
		result.CallSID = "unresolved-" + uuid.New().String()
	}

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create record dir: %w", err)
	}
	path := filepath.Join(st.dir, result.CallSID+".json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode call record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write call record: %w", err)
	}

	st.logger.Info().
		Str("call_sid", result.CallSID).
		Str("path", path).
		Bool("completed", completed).
		Msg("Call record persisted")
	return path, nil
}
