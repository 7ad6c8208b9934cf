package protocol

import "encoding/json"

// Webhook event types.
const (
	EventToolCallAttempt = "tool-call-attempt"
	EventToolCalls       = "tool-calls"
)

// CallUser identifies the human on the call.
type CallUser struct {
	ID string `json:"id"`
}

// CallAssistant identifies the voice agent on the call.
type CallAssistant struct {
	Name string `json:"name"`
}

// CallMeta is the call block attached to agent platform webhooks.
type CallMeta struct {
	ID        string         `json:"id"`
	User      *CallUser      `json:"user,omitempty"`
	Assistant *CallAssistant `json:"assistant,omitempty"`
}

// ToolCallAttempt is the canonical single-call webhook.
type ToolCallAttempt struct {
	Type     string   `json:"type"`
	ToolCall ToolCall `json:"tool_call"`
	Call     CallMeta `json:"call"`
}

// ToolCall is the tool_call block of a canonical webhook.
type ToolCall struct {
	Name       string          `json:"name"`
	ID         ToolCallID      `json:"id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// ToolCallsEnvelope is the batched webhook dialect.
type ToolCallsEnvelope struct {
	Message struct {
		Type         string          `json:"type"`
		ToolCallList []BatchToolCall `json:"toolCallList"`
		Call         CallMeta        `json:"call"`
	} `json:"message"`
}

// BatchToolCall is one entry of a batched webhook. Arguments is either a JSON
// object or a JSON string holding an object.
type BatchToolCall struct {
	ID       ToolCallID `json:"id"`
	Type     string     `json:"type,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	} `json:"function"`
}

// ClientToolCall is the flat client-tool dialect.
type ClientToolCall struct {
	ToolCallID          ToolCallID      `json:"tool_call_id"`
	ToolName            string          `json:"tool_name"`
	Parameters          json.RawMessage `json:"parameters,omitempty"`
	RoomName            string          `json:"room_name,omitempty"`
	ParticipantIdentity string          `json:"participant_identity,omitempty"`
}

// ToolResponse answers a single tool call.
type ToolResponse struct {
	Success    bool       `json:"success"`
	Result     string     `json:"result,omitempty"`
	ToolCallID ToolCallID `json:"toolCallId,omitempty"`
}

// BatchResult is one entry of a batched webhook answer.
type BatchResult struct {
	ToolCallID ToolCallID `json:"toolCallId"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// BatchResponse answers a batched webhook.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Error string `json:"error"`
}
