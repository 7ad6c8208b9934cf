package protocol

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewCaptureScreenshot creates a capture_screenshot command.
func NewCaptureScreenshot(question string, id RequestID) *Command {
	return &Command{Type: TypeCaptureScreenshot, Question: question, RequestID: id}
}

// NewMarkStepComplete creates a mark_step_complete command.
func NewMarkStepComplete(stepID int, id RequestID) *Command {
	return &Command{Type: TypeMarkStepComplete, StepID: stepID, RequestID: id}
}

// NewScreenshotResultMessage encodes a screenshot result for the data channel.
func NewScreenshotResultMessage(res ScreenshotResult) ([]byte, error) {
	return json.Marshal(ResultEnvelope{Type: TypeResult, ScreenshotResult: res})
}

// NewStepResultMessage encodes a step acknowledgement for the data channel.
func NewStepResultMessage(step StepCompletion) ([]byte, error) {
	return json.Marshal(StepEnvelope{Type: TypeResult, StepCompletion: step})
}

// NewPong answers a ping.
func NewPong(ping PingData) ([]byte, error) {
	return json.Marshal(PingData{Type: TypePong, ID: ping.ID, TS: time.Now().UnixMilli()})
}
