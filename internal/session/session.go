package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Direction tells whether the call was received or placed by us.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// State is the call lifecycle state. Streaming is split into Idle
// (listening for final transcripts) and Responding (one dialogue turn in
// flight). Ended is terminal.
type State int32

const (
	StateConnecting State = iota
	StateIdle
	StateResponding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateResponding:
		return "responding"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Streaming reports whether both call legs are established.
func (s State) Streaming() bool {
	return s == StateIdle || s == StateResponding
}

// Turn is one entry in the conversation history sent to the language
// model. Tool turns carry the call id linking them to the assistant turn
// that requested the tool.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	At         time.Time `json:"at"`
}

// Utterance is one entry in the human-readable transcript log.
type Utterance struct {
	Speaker string    `json:"speaker"` // "caller" or "assistant"
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Session holds the live state of one phone call. It is created and
// deleted only by the Store; the call's task group mutates its fields
// through the methods below.
type Session struct {
	Direction  Direction
	Task       *Task
	TaskConfig map[string]any
	CreatedAt  time.Time
	Logger     zerolog.Logger

	mu         sync.RWMutex
	callSID    string
	streamSID  string
	history    []Turn
	transcript []Utterance
	state      State

	// speaking is set for the whole duration of one synthesized reply's
	// playback. Written only by the synthesis streamer.
	speaking atomic.Bool

	// finalized is owned by the Store.
	finalized bool
}

func newSession(direction Direction, task *Task, taskConfig map[string]any) *Session {
	s := &Session{
		Direction:  direction,
		Task:       task,
		TaskConfig: taskConfig,
		CreatedAt:  time.Now(),
		Logger:     zerolog.Nop(),
		state:      StateConnecting,
	}
	// History always begins with exactly one system turn.
	s.history = append(s.history, Turn{
		Role:    RoleSystem,
		Content: task.SystemPrompt(),
		At:      s.CreatedAt,
	})
	return s
}

// Bind records the telephony identifiers once the start event resolves.
func (s *Session) bind(streamSID, callSID string) {
	s.mu.Lock()
	s.streamSID = streamSID
	s.callSID = callSID
	s.mu.Unlock()
}

// CallSID returns the telephony call id, empty until bound.
func (s *Session) CallSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSID
}

// StreamSID returns the telephony stream id, empty until bound.
func (s *Session) StreamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// AppendTurn appends one conversation turn.
func (s *Session) AppendTurn(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.mu.Lock()
	s.history = append(s.history, t)
	s.mu.Unlock()
}

// PruneHistory bounds the history to the pinned system turn plus the
// most recent max-1 turns, dropping the oldest non-system turns first.
func (s *Session) PruneHistory(max int) {
	if max < 2 {
		max = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) <= max {
		return
	}
	keep := max - 1
	pruned := make([]Turn, 0, max)
	pruned = append(pruned, s.history[0])
	pruned = append(pruned, s.history[len(s.history)-keep:]...)
	s.history = pruned
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AppendUtterance appends one transcript log entry.
func (s *Session) AppendUtterance(speaker, text string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, Utterance{Speaker: speaker, Text: text, At: time.Now()})
	s.mu.Unlock()
}

// Transcript returns a copy of the transcript log.
func (s *Session) Transcript() []Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Utterance, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// SetSpeaking sets the playback mutual-exclusion flag. Only the
// synthesis streamer may call this.
func (s *Session) SetSpeaking(v bool) {
	s.speaking.Store(v)
}

// Speaking reports whether synthesized audio is currently playing.
func (s *Session) Speaking() bool {
	return s.speaking.Load()
}

// SetState transitions the lifecycle state. Transitions out of Ended
// are refused; the return value reports whether the transition applied.
func (s *Session) SetState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return false
	}
	s.state = next
	return true
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Result is the immutable record of a finished call, persisted exactly
// once by the Store.
type Result struct {
	CallSID    string      `json:"call_sid"`
	StreamSID  string      `json:"stream_sid,omitempty"`
	Direction  Direction   `json:"direction"`
	Task       string      `json:"task,omitempty"`
	Completed  bool        `json:"completed"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	History    []Turn      `json:"history"`
	Transcript []Utterance `json:"transcript"`
}
