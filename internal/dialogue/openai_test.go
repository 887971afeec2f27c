package dialogue

import (
	"testing"
	"time"

	"github.com/parley-ai/voicebridge/internal/session"
)

func TestBuildMessagesMapsRoles(t *testing.T) {
	now := time.Now()
	history := []session.Turn{
		{Role: session.RoleSystem, Content: "You are a booking assistant.", At: now},
		{Role: session.RoleUser, Content: "Book me a table.", At: now},
		{Role: session.RoleAssistant, Content: "Certainly.", At: now},
	}

	messages := buildMessages(history)
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].OfSystem == nil {
		t.Error("Expected first message to be a system message")
	}
	if messages[1].OfUser == nil {
		t.Error("Expected second message to be a user message")
	}
	if messages[2].OfAssistant == nil {
		t.Error("Expected third message to be an assistant message")
	}
}

func TestBuildMessagesReplaysToolRound(t *testing.T) {
	now := time.Now()
	history := []session.Turn{
		{Role: session.RoleUser, Content: "Is Friday open?", At: now},
		{Role: session.RoleAssistant, ToolName: "check_availability", ToolCallID: "call_1", Content: `{"day":"friday"}`, At: now},
		{Role: session.RoleTool, ToolName: "check_availability", ToolCallID: "call_1", Content: `{"open":true}`, At: now},
	}

	messages := buildMessages(history)
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}

	assistant := messages[1].OfAssistant
	if assistant == nil {
		t.Fatal("Expected assistant message replaying the tool request")
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("Expected 1 replayed tool call, got %d", len(assistant.ToolCalls))
	}
	call := assistant.ToolCalls[0]
	if call.ID != "call_1" {
		t.Errorf("Expected tool call id call_1, got %q", call.ID)
	}
	if call.Function.Name != "check_availability" {
		t.Errorf("Expected tool name check_availability, got %q", call.Function.Name)
	}
	if call.Function.Arguments != `{"day":"friday"}` {
		t.Errorf("Unexpected tool arguments %q", call.Function.Arguments)
	}

	tool := messages[2].OfTool
	if tool == nil {
		t.Fatal("Expected tool result message")
	}
	if tool.ToolCallID != "call_1" {
		t.Errorf("Expected tool result bound to call_1, got %q", tool.ToolCallID)
	}
}
