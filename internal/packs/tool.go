// ABOUTME: Tool definitions, calls, and the typed handler adapter
// ABOUTME: Reflects JSON schemas for tool arguments from Go structs

package packs

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Spec describes a tool to the model.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Call is a single tool invocation requested by the model.
type Call struct {
	ID        string
	SessionID string
	Name      string
	Arguments json.RawMessage
}

// Handler executes a tool call.
type Handler func(ctx context.Context, call Call) (Outcome, error)

// Tool pairs a Spec with its Handler.
type Tool struct {
	Spec    Spec
	Handler Handler
}

// NewTool builds a Tool whose schema is reflected from T and whose arguments
// are decoded into T before fn runs.
func NewTool[T any](name, description string, fn func(ctx context.Context, call Call, args T) (Outcome, error)) *Tool {
	return &Tool{
		Spec: Spec{
			Name:        name,
			Description: description,
			Parameters:  SchemaFor[T](),
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args T
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &args); err != nil {
					return Outcome{}, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, call, args)
		},
	}
}

// SchemaFor returns the JSON schema for T as an inline object schema.
// Anonymous structs, such as struct{} for tools without arguments, are
// supported.
func SchemaFor[T any]() json.RawMessage {
	typ := reflect.TypeFor[T]()
	r := &jsonschema.Reflector{
		DoNotReference: true,
		// Expansion looks the struct up by name, so it only works for named types.
		ExpandedStruct: typ.Kind() == reflect.Struct && typ.Name() != "",
	}
	schema := r.ReflectFromType(typ)
	if schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflected schemas always marshal; fall back to an open object.
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
