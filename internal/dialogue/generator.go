package dialogue

import (
	"context"

	"github.com/parley-ai/voicebridge/internal/session"
)

// Tool is a function the dialogue model may call during a turn.
// Parameters is a JSON schema object; Invoke receives the model's raw
// JSON arguments and returns the result text fed back to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      func(ctx context.Context, args string) (string, error)
}

// ToolCall is the model's request to run a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Reply is one model completion: either assistant text to speak, or a
// tool call to satisfy first.
type Reply struct {
	Text     string
	ToolCall *ToolCall
}

// Generator produces the assistant's next reply from the conversation
// history.
type Generator interface {
	Generate(ctx context.Context, history []session.Turn, tools []Tool) (*Reply, error)
}
