package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/session"
)

// Speaker plays assistant text to the caller and returns once playback
// finished or failed.
type Speaker interface {
	Speak(ctx context.Context, sess *session.Session, text string) error
}

// Filler plays a low-priority thinking sound while a reply is being
// generated. Start and Stop bracket each generation.
type Filler interface {
	Start(ctx context.Context, sess *session.Session)
	Stop()
}

// Orchestrator runs one dialogue turn per caller utterance: record the
// utterance, generate a reply with at most one tool round, and hand the
// reply to the speaker.
type Orchestrator struct {
	generator     Generator
	speaker       Speaker
	filler        Filler
	tools         []Tool
	historyWindow int
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewOrchestrator wires a dialogue turn pipeline. filler may be nil.
func NewOrchestrator(generator Generator, speaker Speaker, filler Filler, tools []Tool, historyWindow int, metrics *observability.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		generator:     generator,
		speaker:       speaker,
		filler:        filler,
		tools:         tools,
		historyWindow: historyWindow,
		metrics:       metrics,
		logger:        logger,
	}
}

// Greet speaks the task's opening line without a generation round.
func (o *Orchestrator) Greet(ctx context.Context, sess *session.Session, greeting string) error {
	if greeting == "" {
		return nil
	}
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: greeting, At: time.Now()})
	sess.AppendUtterance("assistant", greeting)
	return o.speaker.Speak(ctx, sess, greeting)
}

// HandleUtterance runs one dialogue turn for a caller utterance. A
// generation failure skips the turn; the call stays up.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sess *session.Session, text string) error {
	sess.SetState(session.StateResponding)
	defer sess.SetState(session.StateIdle)

	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: text, At: time.Now()})
	sess.AppendUtterance("caller", text)
	sess.PruneHistory(o.historyWindow)

	if o.filler != nil {
		o.filler.Start(ctx, sess)
	}
	reply, err := o.generate(ctx, sess)
	if err == nil && reply.ToolCall != nil {
		reply, err = o.runToolRound(ctx, sess, reply.ToolCall)
	}
	if o.filler != nil {
		o.filler.Stop()
	}
	if err != nil {
		o.logger.Error().Err(err).Msg("Reply generation failed, skipping turn")
		return err
	}

	if reply.ToolCall != nil {
		// One tool round per turn; a second request is not honored.
		o.logger.Warn().Str("tool", reply.ToolCall.Name).Msg("Model requested a second tool round, ignoring")
		return nil
	}
	if reply.Text == "" {
		o.logger.Warn().Msg("Model returned an empty reply, skipping turn")
		return nil
	}

	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: reply.Text, At: time.Now()})
	sess.AppendUtterance("assistant", reply.Text)
	return o.speaker.Speak(ctx, sess, reply.Text)
}

func (o *Orchestrator) generate(ctx context.Context, sess *session.Session) (*Reply, error) {
	if o.metrics != nil {
		o.metrics.RecordGenerationStart()
	}
	reply, err := o.generator.Generate(ctx, sess.History(), o.tools)
	if o.metrics != nil {
		o.metrics.RecordGenerationEnd(err == nil)
	}
	return reply, err
}

// runToolRound records the tool request, invokes the tool, and asks for
// a follow-up completion with the result in history.
func (o *Orchestrator) runToolRound(ctx context.Context, sess *session.Session, call *ToolCall) (*Reply, error) {
	sess.AppendTurn(session.Turn{
		Role:       session.RoleAssistant,
		Content:    call.Arguments,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		At:         time.Now(),
	})

	result, err := o.invokeTool(ctx, call)
	if err != nil {
		// The model gets the failure as a tool result so it can
		// recover verbally.
		o.logger.Error().Err(err).Str("tool", call.Name).Msg("Tool invocation failed")
		result = fmt.Sprintf("error: %v", err)
	}
	sess.AppendTurn(session.Turn{
		Role:       session.RoleTool,
		Content:    result,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		At:         time.Now(),
	})

	return o.generate(ctx, sess)
}

func (o *Orchestrator) invokeTool(ctx context.Context, call *ToolCall) (string, error) {
	for _, tool := range o.tools {
		if tool.Name == call.Name {
			return tool.Invoke(ctx, call.Arguments)
		}
	}
	return "", fmt.Errorf("unknown tool %q", call.Name)
}
