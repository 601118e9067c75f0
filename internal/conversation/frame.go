// ABOUTME: Outbound frames sent to a session's transport
// ABOUTME: Text frames are JSON strings; tool frames are objects tagged by type

package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFrame is returned when a frame's shape matches no variant.
var ErrUnknownFrame = errors.New("unknown frame")

// Frame kinds, also used as metric labels.
const (
	FrameText       = "text"
	FrameToolCall   = "tool-call"
	FrameToolResult = "tool-result"
)

// Frame is one outbound message to a transport.
type Frame interface {
	Kind() string
}

// TextFrame is assistant text. It is encoded as a bare JSON string.
type TextFrame string

// ToolCallFrame displays a tool call.
type ToolCallFrame struct {
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args"`
}

// ToolResultFrame displays a tool result.
type ToolResultFrame struct {
	ToolName string `json:"toolName"`
	Result   string `json:"result"`
}

func (TextFrame) Kind() string       { return FrameText }
func (ToolCallFrame) Kind() string   { return FrameToolCall }
func (ToolResultFrame) Kind() string { return FrameToolResult }

type taggedFrame struct {
	Type     string          `json:"type"`
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   *string         `json:"result,omitempty"`
}

// EncodeFrame serializes f for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case TextFrame:
		return json.Marshal(string(v))
	case ToolCallFrame:
		args := v.Args
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return json.Marshal(taggedFrame{Type: FrameToolCall, ToolName: v.ToolName, Args: args})
	case ToolResultFrame:
		result := v.Result
		return json.Marshal(taggedFrame{Type: FrameToolResult, ToolName: v.ToolName, Result: &result})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}
}

// DecodeFrame parses a wire frame by shape: a JSON string is a TextFrame,
// an object is matched on its type tag.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrUnknownFrame
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decoding text frame: %w", err)
		}
		return TextFrame(s), nil
	case '{':
		var t taggedFrame
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return nil, fmt.Errorf("decoding tagged frame: %w", err)
		}
		switch t.Type {
		case FrameToolCall:
			return ToolCallFrame{ToolName: t.ToolName, Args: t.Args}, nil
		case FrameToolResult:
			var result string
			if t.Result != nil {
				result = *t.Result
			}
			return ToolResultFrame{ToolName: t.ToolName, Result: result}, nil
		}
		return nil, fmt.Errorf("%w: type %q", ErrUnknownFrame, t.Type)
	}
	return nil, ErrUnknownFrame
}
