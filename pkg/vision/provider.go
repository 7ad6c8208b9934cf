// Package vision answers questions about screenshots.
//
// Incoming image payloads are canonicalised (Normalize) before being sent
// to an inference Provider. The Adapter ties the two together and falls back
// to a deterministic mock answer when no provider is configured, so the
// service stays fully usable offline.
package vision

import "context"

// Provider answers a question about one image.
type Provider interface {
	// Answer returns the first text block of the model output. An empty
	// Text with a nil error means the model produced no text.
	Answer(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider in logs and errors.
	Name() string
}

// Request is a single image question.
type Request struct {
	Question string
	Image    *Image
}

// Response holds the provider output.
type Response struct {
	Text      string
	Model     string
	LatencyMs int64
	Usage     Usage
}

// Usage contains token counts when the provider reports them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
