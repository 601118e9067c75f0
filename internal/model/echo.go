// ABOUTME: Offline generator that echoes user input for local development
// ABOUTME: Messages of the form "/tool name {json}" produce a tool call when tools are enabled

package model

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/packs"
)

const toolCommand = "/tool "

// Echo answers without a model backend.
type Echo struct{}

// NewEcho creates an echo generator.
func NewEcho() *Echo {
	return &Echo{}
}

// Generate replies to the newest user or system message.
func (Echo) Generate(_ context.Context, history []conversation.Message, tools []packs.Spec) ([]conversation.Message, error) {
	last, ok := lastPrompt(history)
	if !ok {
		return []conversation.Message{conversation.TextMessage(conversation.RoleAssistant, "")}, nil
	}

	if last.Role == conversation.RoleUser && len(tools) > 0 {
		if call, ok := parseToolCommand(last.Text, tools); ok {
			return []conversation.Message{conversation.ToolCallMessage(call)}, nil
		}
	}

	// A tool result is the newest entry after a round trip.
	if tail := history[len(history)-1]; tail.ToolResult != nil {
		return []conversation.Message{
			conversation.TextMessage(conversation.RoleAssistant, tail.ToolResult.Name+": "+tail.ToolResult.Result),
		}, nil
	}

	return []conversation.Message{
		conversation.TextMessage(conversation.RoleAssistant, "You said: "+last.Text),
	}, nil
}

func lastPrompt(history []conversation.Message) (conversation.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.ToolCall != nil || msg.ToolResult != nil {
			continue
		}
		if msg.Role == conversation.RoleUser || msg.Role == conversation.RoleSystem {
			return msg, true
		}
	}
	return conversation.Message{}, false
}

// parseToolCommand reads "/tool <name> [json]" for a registered tool.
func parseToolCommand(text string, tools []packs.Spec) (conversation.ToolCall, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), toolCommand)
	if !ok {
		return conversation.ToolCall{}, false
	}

	name, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
	known := false
	for _, spec := range tools {
		if spec.Name == name {
			known = true
			break
		}
	}
	if !known {
		return conversation.ToolCall{}, false
	}

	return conversation.ToolCall{
		ID:        uuid.New().String(),
		Name:      name,
		Arguments: toolArguments(args),
	}, true
}

var _ conversation.Generator = Echo{}

// Compile-time check that the OpenAI adapter satisfies the engine contract.
var _ conversation.Generator = (*OpenAI)(nil)
