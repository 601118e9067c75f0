// ABOUTME: OpenAI-compatible chat completion generator for conversation engines
// ABOUTME: Maps history and tool specs to the chat API and tool calls back to messages

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/packs"
)

// ErrEmptyResponse is returned when the API answers without any choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI generates replies through an OpenAI-compatible chat completion API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAI creates a generator for cfg. The HTTP client timeout bounds each call.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "model", "model", cfg.Model),
	}
}

// Generate sends history to the model. An empty tools slice omits tool
// definitions from the request.
func (o *OpenAI) Generate(ctx context.Context, history []conversation.Message, tools []packs.Spec) ([]conversation.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toChatMessages(history),
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	if len(tools) > 0 {
		req.Tools = toChatTools(tools)
	}

	o.logger.Debug("requesting completion", "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return fromChatMessage(resp.Choices[0].Message), nil
}

// toChatMessages converts history to chat messages. Consecutive tool calls
// are merged into one assistant message so that their results follow it.
func toChatMessages(history []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))

	for _, msg := range history {
		switch {
		case msg.ToolCall != nil:
			call := openai.ToolCall{
				ID:   msg.ToolCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      msg.ToolCall.Name,
					Arguments: string(msg.ToolCall.Arguments),
				},
			}
			if n := len(out); n > 0 && out[n-1].Role == openai.ChatMessageRoleAssistant && len(out[n-1].ToolCalls) > 0 {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{call},
			})

		case msg.ToolResult != nil:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.ToolResult.Result,
				ToolCallID: msg.ToolResult.CallID,
			})

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    chatRole(msg.Role),
				Content: msg.Text,
			})
		}
	}

	return out
}

func chatRole(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case conversation.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func toChatTools(specs []packs.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var params any = json.RawMessage(spec.Parameters)
		if len(spec.Parameters) == 0 {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// fromChatMessage converts a completion choice into history messages: the
// text first, if any, then one message per tool call.
func fromChatMessage(msg openai.ChatCompletionMessage) []conversation.Message {
	var out []conversation.Message
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		out = append(out, conversation.TextMessage(conversation.RoleAssistant, msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		out = append(out, conversation.ToolCallMessage(conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: toolArguments(tc.Function.Arguments),
		}))
	}
	return out
}

// toolArguments keeps well-formed JSON as is. Anything else is passed on as
// a JSON string so that argument validation rejects it.
func toolArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}
