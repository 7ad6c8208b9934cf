package protocol

import (
	"encoding/json"
	"fmt"
)

// ScreenshotResult is delivered by a capability client in answer to a
// capture_screenshot command. At most one of ImageBase64 and Answer is
// meaningful; Answer is the legacy pre-computed form.
type ScreenshotResult struct {
	RequestID   RequestID `json:"requestId"`
	ImageBase64 string    `json:"imageBase64,omitempty"`
	Question    string    `json:"question,omitempty"`
	Answer      string    `json:"answer,omitempty"`
}

// StepCompletion acknowledges a mark_step_complete command.
type StepCompletion struct {
	RequestID     RequestID `json:"requestId"`
	StepCompleted int       `json:"stepCompleted"`
	Success       bool      `json:"success"`
}

// Submission is a decoded result body. Exactly one of Screenshot and Step is
// set; Step is chosen whenever the body carries a stepCompleted key, whatever
// its value.
type Submission struct {
	RequestID  RequestID
	Screenshot *ScreenshotResult
	Step       *StepCompletion
}

// IsStepCompletion reports whether the submission is a step acknowledgement.
func (s *Submission) IsStepCompletion() bool {
	return s.Step != nil
}

// ParseSubmission decodes a result body from HTTP or a data channel result
// envelope. A "type" field, if present, is ignored.
func ParseSubmission(data []byte) (*Submission, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}

	var id RequestID
	if raw, ok := keys["requestId"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("failed to parse requestId: %w", err)
		}
	}

	if _, ok := keys["stepCompleted"]; ok {
		var step struct {
			StepCompleted *int  `json:"stepCompleted"`
			Success       *bool `json:"success"`
		}
		// Lenient: the key's presence decides the branch, not its shape.
		_ = json.Unmarshal(data, &step)
		sc := &StepCompletion{RequestID: id}
		if step.StepCompleted != nil {
			sc.StepCompleted = *step.StepCompleted
		}
		if step.Success != nil {
			sc.Success = *step.Success
		}
		return &Submission{RequestID: id, Step: sc}, nil
	}

	var res ScreenshotResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse screenshot result: %w", err)
	}
	return &Submission{RequestID: id, Screenshot: &res}, nil
}

// ResultEnvelope wraps a result for delivery over the data channel.
type ResultEnvelope struct {
	Type MessageType `json:"type"`
	ScreenshotResult
}

// StepEnvelope wraps a step acknowledgement for delivery over the data channel.
type StepEnvelope struct {
	Type MessageType `json:"type"`
	StepCompletion
}
