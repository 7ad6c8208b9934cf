package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Dialect names the webhook shape an invocation arrived in.
type Dialect string

const (
	// DialectToolCallAttempt is {type:"tool-call-attempt", tool_call, call}.
	DialectToolCallAttempt Dialect = "tool-call-attempt"
	// DialectToolCalls is {message:{type:"tool-calls", toolCallList, call}}.
	DialectToolCalls Dialect = "tool-calls"
	// DialectClientTool is {tool_call_id, tool_name, parameters, room_name?, participant_identity?}.
	DialectClientTool Dialect = "client-tool"
)

// Batched reports whether answers must use the batch response shape.
func (d Dialect) Batched() bool { return d == DialectToolCalls }

// ParseInvocations normalises any supported webhook body into invocations.
func ParseInvocations(body []byte) ([]*Invocation, Dialect, error) {
	var probe struct {
		Type     string          `json:"type"`
		Message  json.RawMessage `json:"message"`
		ToolName *string         `json:"tool_name"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, "", &ValidationError{Field: "body", Reason: "not a JSON object"}
	}

	switch {
	case len(probe.Message) > 0 && !bytes.Equal(probe.Message, []byte("null")):
		invs, err := parseToolCalls(body)
		return invs, DialectToolCalls, err
	case probe.Type == protocol.EventToolCallAttempt:
		inv, err := parseToolCallAttempt(body)
		if err != nil {
			return nil, DialectToolCallAttempt, err
		}
		return []*Invocation{inv}, DialectToolCallAttempt, nil
	case probe.ToolName != nil:
		inv, err := parseClientTool(body)
		if err != nil {
			return nil, DialectClientTool, err
		}
		return []*Invocation{inv}, DialectClientTool, nil
	case probe.Type != "":
		return nil, "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported event type %q", probe.Type)}
	default:
		return nil, "", &ValidationError{Field: "body", Reason: "unrecognised webhook shape"}
	}
}

func parseToolCallAttempt(body []byte) (*Invocation, error) {
	var ev protocol.ToolCallAttempt
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &ValidationError{Field: "tool_call", Reason: err.Error()}
	}
	params, err := decodeParams(ev.ToolCall.Parameters, "tool_call.parameters")
	if err != nil {
		return nil, err
	}
	return newInvocation(ev.ToolCall.Name, ev.ToolCall.ID, params, ev.Call)
}

func parseToolCalls(body []byte) ([]*Invocation, error) {
	var env protocol.ToolCallsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ValidationError{Field: "message", Reason: err.Error()}
	}
	if env.Message.Type != protocol.EventToolCalls {
		return nil, &ValidationError{Field: "message.type", Reason: fmt.Sprintf("unsupported message type %q", env.Message.Type)}
	}
	if len(env.Message.ToolCallList) == 0 {
		return nil, &ValidationError{Field: "message.toolCallList", Reason: "empty"}
	}

	invs := make([]*Invocation, 0, len(env.Message.ToolCallList))
	for i, tc := range env.Message.ToolCallList {
		field := fmt.Sprintf("message.toolCallList[%d].function.arguments", i)
		params, err := decodeParams(tc.Function.Arguments, field)
		if err != nil {
			return nil, err
		}
		inv, err := newInvocation(tc.Function.Name, tc.ID, params, env.Message.Call)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, nil
}

func parseClientTool(body []byte) (*Invocation, error) {
	var ev protocol.ClientToolCall
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	params, err := decodeParams(ev.Parameters, "parameters")
	if err != nil {
		return nil, err
	}
	// Top-level addressing counts as explicit parameters.
	if ev.RoomName != "" {
		if _, ok := params[ParamRoomName]; !ok {
			params[ParamRoomName] = ev.RoomName
		}
	}
	if ev.ParticipantIdentity != "" {
		if _, ok := params[ParamTargetIdentity]; !ok {
			params[ParamTargetIdentity] = ev.ParticipantIdentity
		}
	}
	return newInvocation(ev.ToolName, ev.ToolCallID, params, protocol.CallMeta{})
}

func newInvocation(name string, id protocol.ToolCallID, params map[string]any, call protocol.CallMeta) (*Invocation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "tool name is required"}
	}
	return &Invocation{Name: name, CallID: id, Parameters: params, Call: call}, nil
}

// decodeParams accepts a JSON object, a JSON string containing an object,
// or nothing.
func decodeParams(raw json.RawMessage, field string) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &ValidationError{Field: field, Reason: err.Error()}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(s)
	}

	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ValidationError{Field: field, Reason: "must be a JSON object"}
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
