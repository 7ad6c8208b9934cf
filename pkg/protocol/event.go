package protocol

import "time"

// EventKind classifies entries on the dashboard event feed.
type EventKind string

const (
	EventInvoked      EventKind = "tool.invoked"
	EventCompleted    EventKind = "tool.completed"
	EventFailed       EventKind = "tool.failed"
	EventStepAcked    EventKind = "step.acknowledged"
	EventParticipant  EventKind = "room.participant"
	EventResultMissed EventKind = "result.missed"
)

// Event is broadcast to dashboard subscribers.
type Event struct {
	ID         string     `json:"id"`
	Kind       EventKind  `json:"kind"`
	Time       time.Time  `json:"time"`
	Tool       string     `json:"tool,omitempty"`
	ToolCallID ToolCallID `json:"toolCallId,omitempty"`
	RequestID  RequestID  `json:"requestId,omitempty"`
	Room       string     `json:"room,omitempty"`
	Identity   string     `json:"identity,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	LatencyMs  int64      `json:"latencyMs,omitempty"`
}
