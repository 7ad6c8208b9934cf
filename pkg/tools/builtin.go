package tools

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Built-in tool names.
const (
	ToolCaptureScreenshot      = "captureScreenshot"
	ToolCaptureScreenshotAlias = "capture_screenshot"
	ToolMarkStepComplete       = "markStepComplete"
)

// MaxStepID bounds the step numbers markStepComplete accepts.
const MaxStepID = 1000

func addressingProperties(props map[string]any) map[string]any {
	props[ParamRoomName] = map[string]any{
		"type":        "string",
		"description": "Room to address. Derived from the call when omitted.",
	}
	props[ParamTargetIdentity] = map[string]any{
		"type":        "string",
		"description": "Participant to address. Derived from the call when omitted.",
	}
	return props
}

func (r *Router) captureScreenshotTool() *Tool {
	return &Tool{
		Name:        ToolCaptureScreenshot,
		Aliases:     []string{ToolCaptureScreenshotAlias},
		Description: "Capture what the trainee's camera currently shows and answer a question about it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": addressingProperties(map[string]any{
				"question": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "What to find out from the image",
				},
				ParamTimeoutMs: map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     300000,
					"description": "How long to wait for the screenshot",
				},
			}),
			"required": []string{"question"},
		},
		Handler: r.captureScreenshot,
	}
}

func (r *Router) markStepCompleteTool() *Tool {
	return &Tool{
		Name:        ToolMarkStepComplete,
		Description: "Mark a lab step as complete on the trainee's screen.",
		Parameters: map[string]any{
			"type": "object",
			"properties": addressingProperties(map[string]any{
				"stepId": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     MaxStepID,
					"description": "1-based step number",
				},
			}),
			"required": []string{"stepId"},
		},
		Handler: r.markStepComplete,
	}
}

// captureScreenshot asks the participant for a frame, waits for it to be
// delivered to the correlator and runs it through vision.
func (r *Router) captureScreenshot(ctx context.Context, call *Call) (string, error) {
	question := call.String("question")
	id := correlator.NewID()

	h, err := r.correlator.Register(id, call.Timeout)
	if err != nil {
		return "", err
	}

	payload, err := protocol.NewCaptureScreenshot(question, id).Bytes()
	if err == nil {
		err = r.transport.SendData(ctx, call.Context.Room, payload, []string{call.Context.Identity})
	}
	if err != nil {
		r.correlator.Reject(id, err)
		return "", fmt.Errorf("send capture command: %w", err)
	}

	r.logger.Debug("awaiting screenshot",
		"request_id", id,
		"tool_call_id", call.Invocation.CallID,
		"room", call.Context.Room,
		"identity", call.Context.Identity,
		"deadline", h.Deadline(),
	)

	out := h.Wait(ctx)
	if out.Kind != correlator.OutcomeDelivered {
		return "", out.Err
	}

	res := *out.Result
	if res.Question == "" {
		res.Question = question
	}
	return r.vision.Answer(ctx, &res)
}

// markStepComplete notifies the participant. Nothing waits for the
// acknowledgement.
func (r *Router) markStepComplete(ctx context.Context, call *Call) (string, error) {
	step, _ := call.Int("stepId")
	id := correlator.NewID()

	payload, err := protocol.NewMarkStepComplete(step, id).Bytes()
	if err == nil {
		err = r.transport.SendData(ctx, call.Context.Room, payload, []string{call.Context.Identity})
	}
	if err != nil {
		return "", fmt.Errorf("send step command: %w", err)
	}
	return fmt.Sprintf("Step %d marked complete", step), nil
}
