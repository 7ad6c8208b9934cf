package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Tool is a function the voice agent can invoke.
type Tool struct {
	// Name is the canonical name (e.g. "captureScreenshot").
	Name string `json:"name"`

	// Aliases are alternative names served by the same handler.
	Aliases []string `json:"aliases,omitempty"`

	// Description tells the agent when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON schema for the tool's arguments. Invocations
	// are validated against it before the handler runs.
	Parameters map[string]any `json:"parameters"`

	// Handler runs the tool and returns the text handed back to the agent.
	Handler func(ctx context.Context, call *Call) (string, error) `json:"-"`

	schema *gojsonschema.Schema
}

// Call is what a Handler receives.
type Call struct {
	Invocation *Invocation
	Context    CallContext
	Timeout    time.Duration
}

// String returns a string parameter, or "" if absent.
func (c *Call) String(key string) string {
	s, _ := c.Invocation.Parameters[key].(string)
	return strings.TrimSpace(s)
}

// Int returns an integer parameter.
func (c *Call) Int(key string) (int, bool) {
	return intParam(c.Invocation.Parameters, key)
}

func (t *Tool) compile() error {
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object"}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", t.Name, err)
	}
	t.schema = schema
	return nil
}

// validate checks params against the tool schema. The first failure is
// reported as a ValidationError naming the offending field.
func (t *Tool) validate(params map[string]any) error {
	if t.schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := t.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if res.Valid() {
		return nil
	}

	first := res.Errors()[0]
	field := first.Field()
	if field == "(root)" {
		if p, ok := first.Details()["property"].(string); ok {
			field = p
		} else {
			field = ""
		}
	}
	return &ValidationError{Field: field, Reason: first.Description()}
}

// Definition is the public description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Aliases     []string       `json:"aliases,omitempty"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
