package vision

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIProvider answers image questions with the OpenAI Responses API.
type OpenAIProvider struct {
	config *Config
	client openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAI creates an OpenAI vision provider.
func NewOpenAI(opts ...Option) (*OpenAIProvider, error) {
	cfg := DefaultConfig()
	cfg.Model = DefaultOpenAIModel
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIProvider{
		config: cfg,
		client: openai.NewClient(reqOpts...),
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Answer implements Provider.
func (p *OpenAIProvider) Answer(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	content := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: req.Question}},
		{OfInputImage: &responses.ResponseInputImageParam{
			ImageURL: openai.String(req.Image.DataURL()),
			Detail:   responses.ResponseInputImageDetailAuto,
		}},
	}

	params := responses.ResponseNewParams{
		Model: openai.ChatModel(p.config.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser),
			},
		},
		Store: openai.Bool(false),
	}
	if p.config.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(p.config.MaxTokens))
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := &Response{
		Text:      firstOutputText(resp),
		Model:     string(resp.Model),
		LatencyMs: time.Since(start).Milliseconds(),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	p.config.Logger.Debug("openai vision answered",
		"model", out.Model,
		"latency_ms", out.LatencyMs,
		"found_text", out.Text != "",
	)
	return out, nil
}

// firstOutputText walks output[].content[] and returns the first
// output_text block.
func firstOutputText(resp *responses.Response) string {
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.AsMessage().Content {
			if c.Type == "output_text" && c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &InferenceError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
	return &InferenceError{Provider: p.Name(), Message: err.Error(), Err: err}
}
