package vision

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Fixed answers.
const (
	MockAnswerPrefix = "Mock vision answer to: "
	NoTextFallback   = "No response text found"
)

// MockAnswer is returned when no provider is configured.
func MockAnswer(question string) string {
	return MockAnswerPrefix + question
}

// Adapter turns a delivered screenshot result into answer text.
type Adapter struct {
	provider      Provider
	maxImageBytes int
	logger        *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithMaxImageBytes caps decoded image size.
func WithMaxImageBytes(n int) AdapterOption {
	return func(a *Adapter) { a.maxImageBytes = n }
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an Adapter. A nil provider selects the offline mock.
func NewAdapter(provider Provider, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		provider:      provider,
		maxImageBytes: 20 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Component("vision")
	}
	return a
}

// Offline reports whether the mock answer is in use.
func (a *Adapter) Offline() bool { return a.provider == nil }

// Answer returns the text answer for res.
//
// A legacy pre-computed answer (no image) is returned as is. Otherwise the
// image is normalised first, so malformed payloads fail even offline.
func (a *Adapter) Answer(ctx context.Context, res *protocol.ScreenshotResult) (string, error) {
	if res.ImageBase64 == "" && res.Answer != "" {
		return res.Answer, nil
	}

	img, err := Normalize(res.ImageBase64, a.maxImageBytes)
	if err != nil {
		a.logger.Warn("rejected image payload", "request_id", res.RequestID, "error", err)
		return "", err
	}

	if a.provider == nil {
		return MockAnswer(res.Question), nil
	}

	start := time.Now()
	resp, err := a.provider.Answer(ctx, &Request{Question: res.Question, Image: img})
	if err != nil {
		a.logger.Error("vision inference failed",
			"request_id", res.RequestID,
			"provider", a.provider.Name(),
			"error", err,
		)
		return "", err
	}

	a.logger.Info("vision answered",
		"request_id", res.RequestID,
		"provider", a.provider.Name(),
		"mime", img.MIMEType,
		"bytes", len(img.Data),
		"latency", time.Since(start),
	)

	if resp == nil || resp.Text == "" {
		return NoTextFallback, nil
	}
	return resp.Text, nil
}
