package vision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider answers image questions with Gemini, sending the image as
// inline bytes.
type GeminiProvider struct {
	config *Config

	once      sync.Once
	client    *genai.Client
	clientErr error
}

var _ Provider = (*GeminiProvider)(nil)

// NewGemini creates a Gemini vision provider. The SDK client is created on
// first use.
func NewGemini(opts ...Option) (*GeminiProvider, error) {
	cfg := DefaultConfig()
	cfg.Model = DefaultGeminiModel
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GeminiProvider{config: cfg}, nil
}

// Name implements Provider.
func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) sdk(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     g.config.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: g.config.HTTPClient,
		}
		if g.config.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.config.BaseURL}
		}
		g.client, g.clientErr = genai.NewClient(ctx, cc)
	})
	return g.client, g.clientErr
}

// Answer implements Provider.
func (g *GeminiProvider) Answer(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	client, err := g.sdk(ctx)
	if err != nil {
		return nil, &InferenceError{Provider: g.Name(), Message: err.Error(), Err: err}
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{
			{Text: req.Question},
			{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data}},
		},
	}}

	genCfg := &genai.GenerateContentConfig{}
	if g.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, g.config.Model, contents, genCfg)
	if err != nil {
		return nil, g.wrapError(err)
	}

	out := &Response{
		Text:      firstCandidateText(resp),
		Model:     g.config.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	g.config.Logger.Debug("gemini vision answered",
		"model", out.Model,
		"latency_ms", out.LatencyMs,
		"found_text", out.Text != "",
	)
	return out, nil
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought && strings.TrimSpace(part.Text) != "" {
				return strings.TrimSpace(part.Text)
			}
		}
	}
	return ""
}

func (g *GeminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		return &InferenceError{Provider: g.Name(), StatusCode: apiErr.Code, Message: msg, Err: err}
	}
	return &InferenceError{Provider: g.Name(), Message: err.Error(), Err: err}
}
