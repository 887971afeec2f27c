package dialogue

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/session"
)

// OpenAIGenerator generates replies through an OpenAI-compatible chat
// completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIGenerator creates a generator from the configured endpoint
// and model.
func NewOpenAIGenerator(cfg *config.Config, logger zerolog.Logger) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIGenerator{
		client: &client,
		model:  cfg.OpenAIModel,
		logger: logger,
	}
}

// Generate requests the next assistant reply for the given history.
func (g *OpenAIGenerator) Generate(ctx context.Context, history []session.Turn, tools []Tool) (*Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: buildMessages(history),
	}
	for _, tool := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		g.logger.Debug().
			Str("tool", call.Function.Name).
			Str("finish_reason", string(choice.FinishReason)).
			Msg("Model requested tool call")
		return &Reply{ToolCall: &ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}}, nil
	}

	return &Reply{Text: choice.Message.Content}, nil
}

// buildMessages maps session turns onto chat completion messages. An
// assistant turn carrying a tool call id replays the tool request; a
// tool turn replays its result.
func buildMessages(history []session.Turn) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, turn := range history {
		switch turn.Role {
		case session.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case session.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case session.RoleAssistant:
			if turn.ToolCallID != "" {
				assistant := openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: turn.ToolCallID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      turn.ToolName,
							Arguments: turn.Content,
						},
					}},
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
				continue
			}
			messages = append(messages, openai.AssistantMessage(turn.Content))
		case session.RoleTool:
			messages = append(messages, openai.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return messages
}
