package session

import (
	"fmt"
	"testing"
)

func TestSession_HistoryStartsWithSystemTurn(t *testing.T) {
	sess := newSession(Inbound, nil, nil)

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("Expected 1 turn in new session, got %d", len(history))
	}
	if history[0].Role != RoleSystem {
		t.Errorf("Expected first turn role %q, got %q", RoleSystem, history[0].Role)
	}
	if history[0].Content != DefaultSystemPrompt {
		t.Errorf("Expected default system prompt, got %q", history[0].Content)
	}
}

func TestSession_PruneHistoryKeepsSystemTurn(t *testing.T) {
	sess := newSession(Inbound, nil, nil)
	for i := 0; i < 30; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		sess.AppendTurn(Turn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	sess.PruneHistory(10)

	history := sess.History()
	if len(history) != 10 {
		t.Fatalf("Expected history pruned to 10 turns, got %d", len(history))
	}
	if history[0].Role != RoleSystem {
		t.Errorf("Expected pinned system turn after pruning, got %q", history[0].Role)
	}
	// The most recent 9 turns survive: 21..29.
	if history[1].Content != "turn 21" {
		t.Errorf("Expected oldest surviving turn 'turn 21', got %q", history[1].Content)
	}
	if history[9].Content != "turn 29" {
		t.Errorf("Expected newest turn 'turn 29', got %q", history[9].Content)
	}
}

func TestSession_PruneHistoryNoopUnderLimit(t *testing.T) {
	sess := newSession(Inbound, nil, nil)
	sess.AppendTurn(Turn{Role: RoleUser, Content: "hello"})
	sess.PruneHistory(10)
	if got := len(sess.History()); got != 2 {
		t.Errorf("Expected 2 turns, got %d", got)
	}
}

func TestSession_SpeakingFlag(t *testing.T) {
	sess := newSession(Inbound, nil, nil)
	if sess.Speaking() {
		t.Error("New session should not be speaking")
	}
	sess.SetSpeaking(true)
	if !sess.Speaking() {
		t.Error("Expected speaking true after SetSpeaking(true)")
	}
	sess.SetSpeaking(false)
	if sess.Speaking() {
		t.Error("Expected speaking false after SetSpeaking(false)")
	}
}

func TestSession_StateTransitions(t *testing.T) {
	sess := newSession(Inbound, nil, nil)
	if sess.State() != StateConnecting {
		t.Fatalf("Expected initial state connecting, got %v", sess.State())
	}
	if !sess.SetState(StateIdle) {
		t.Error("Expected connecting->idle to apply")
	}
	if !sess.State().Streaming() {
		t.Error("Expected idle to count as streaming")
	}
	if !sess.SetState(StateResponding) {
		t.Error("Expected idle->responding to apply")
	}
	if !sess.SetState(StateEnded) {
		t.Error("Expected responding->ended to apply")
	}
	// Ended is terminal.
	if sess.SetState(StateIdle) {
		t.Error("Transition out of ended must be refused")
	}
	if sess.State() != StateEnded {
		t.Errorf("Expected state to stay ended, got %v", sess.State())
	}
}

func TestSession_Transcript(t *testing.T) {
	sess := newSession(Outbound, nil, nil)
	sess.AppendUtterance("caller", "hi")
	sess.AppendUtterance("agent", "hello there")

	transcript := sess.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("Expected 2 utterances, got %d", len(transcript))
	}
	if transcript[0].Speaker != "caller" || transcript[1].Speaker != "agent" {
		t.Errorf("Transcript order wrong: %+v", transcript)
	}
}
