// Package protocol defines the data channel messages exchanged between the
// tool server and capability clients, and the HTTP shapes around them.
// This package is shared by the server (pkg/server) and the reference
// client (pkg/capclient).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the type of a data channel message.
type MessageType string

const (
	// Server → participant commands
	TypeCaptureScreenshot MessageType = "capture_screenshot"
	TypeMarkStepComplete  MessageType = "mark_step_complete"

	// Participant → server
	TypeResult MessageType = "result"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// RequestID correlates one outbound command with its eventual result.
// It is generated by the server and is unrelated to ToolCallID.
type RequestID string

// ToolCallID is the agent platform's identifier for one tool invocation.
type ToolCallID string

// ErrUnknownType is returned when a message carries an unrecognised type.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Command is a server → participant message. The wire form is flat:
//
//	{"type":"capture_screenshot","question":"...","requestId":"..."}
//	{"type":"mark_step_complete","stepId":2,"requestId":"..."}
type Command struct {
	Type      MessageType `json:"type"`
	Question  string      `json:"question,omitempty"`
	StepID    int         `json:"stepId,omitempty"`
	RequestID RequestID   `json:"requestId"`
}

// Bytes returns the JSON-encoded command.
func (c *Command) Bytes() ([]byte, error) {
	return json.Marshal(c)
}

// ParseCommand decodes a server → participant command.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	switch cmd.Type {
	case TypeCaptureScreenshot, TypeMarkStepComplete, TypePing, TypePong:
		return &cmd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cmd.Type)
	}
}

// Envelope is the minimal view of any data channel message, used to route
// inbound participant traffic before decoding the body.
type Envelope struct {
	Type MessageType `json:"type"`
	Raw  []byte      `json:"-"`
}

// ParseEnvelope reads the type of a message and keeps the raw bytes.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	env.Raw = data
	return &env, nil
}

// PingData is carried by ping and pong messages.
type PingData struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
	TS   int64       `json:"ts,omitempty"`
}
