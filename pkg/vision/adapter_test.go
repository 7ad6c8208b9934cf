package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

const pixel = "data:image/png;base64,iVBORw0KGgo="

func TestAdapterMockAnswer(t *testing.T) {
	a := NewAdapter(nil)
	require.True(t, a.Offline())

	got, err := a.Answer(context.Background(), &protocol.ScreenshotResult{
		RequestID:   "r-1",
		ImageBase64: pixel,
		Question:    "What is this?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mock vision answer to: What is this?", got)
}

func TestAdapterLegacyAnswer(t *testing.T) {
	mock := NewMock("should not be called")
	a := NewAdapter(mock)

	got, err := a.Answer(context.Background(), &protocol.ScreenshotResult{
		RequestID: "r-2",
		Answer:    "  a torque wrench ",
	})
	require.NoError(t, err)
	assert.Equal(t, "  a torque wrench ", got)
	assert.Equal(t, 0, mock.CallCount())
}

func TestAdapterRejectsBeforeInference(t *testing.T) {
	mock := NewMock("unused")
	a := NewAdapter(mock)

	for _, img := range []string{"", "   ", "data:image/png,AAA=", "data:image/png;base64,"} {
		_, err := a.Answer(context.Background(), &protocol.ScreenshotResult{RequestID: "r", ImageBase64: img, Question: "q"})
		assert.Error(t, err, "image %q", img)
	}
	assert.Equal(t, 0, mock.CallCount(), "no provider call for invalid payloads")

	// Offline mode validates too.
	_, err := NewAdapter(nil).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: "  ", Question: "q"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestAdapterProvider(t *testing.T) {
	mock := NewMock("A socket wrench")
	a := NewAdapter(mock)

	got, err := a.Answer(context.Background(), &protocol.ScreenshotResult{
		ImageBase64: "data:image/jpeg;base64,/9j/\n4A==",
		Question:    "Which tool?",
	})
	require.NoError(t, err)
	assert.Equal(t, "A socket wrench", got)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Which tool?", calls[0].Question)
	assert.Equal(t, "image/jpeg", calls[0].MIMEType)
	assert.Equal(t, 4, calls[0].Bytes)
}

func TestAdapterNoTextFallback(t *testing.T) {
	a := NewAdapter(NewMock(""))
	got, err := a.Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, NoTextFallback, got)
}

func TestAdapterInferenceError(t *testing.T) {
	mock := &Mock{AnswerFunc: func(ctx context.Context, req *Request) (*Response, error) {
		return nil, &InferenceError{Provider: "mock", StatusCode: 400, Message: "Invalid image"}
	}}
	_, err := NewAdapter(mock).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})

	var ie *InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "Invalid image", ie.Message)
	assert.ErrorIs(t, err, ErrInference)
}

func TestChainFallback(t *testing.T) {
	failing := &Mock{ProviderName: "first", AnswerFunc: func(ctx context.Context, req *Request) (*Response, error) {
		return nil, &InferenceError{Provider: "first", StatusCode: 503, Message: "overloaded"}
	}}
	ok := NewMock("from second")

	chain, err := NewChain(failing, ok)
	require.NoError(t, err)
	assert.Equal(t, "chain(first,mock)", chain.Name())

	resp, err := chain.Answer(context.Background(), &Request{Question: "q", Image: &Image{MIMEType: "image/png", Data: []byte{1}}})
	require.NoError(t, err)
	assert.Equal(t, "from second", resp.Text)
	assert.Equal(t, 1, failing.CallCount())
}

func TestChainAllFail(t *testing.T) {
	bad := &Mock{AnswerFunc: func(ctx context.Context, req *Request) (*Response, error) {
		return nil, &InferenceError{Provider: "mock", Message: "nope"}
	}}
	chain, err := NewChain(bad, bad)
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), &Request{Image: &Image{Data: []byte{1}}})
	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Errors, 2)
	assert.ErrorIs(t, err, ErrInference)

	_, err = NewChain()
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestProviderConfigValidation(t *testing.T) {
	_, err := NewOpenAI()
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewGemini(WithAPIKey("k"), WithModel(""))
	assert.ErrorIs(t, err, ErrNoModel)

	g, err := NewGemini(WithAPIKey("k"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", g.Name())
}

func newResponsesServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if seen != nil {
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderAnswer(t *testing.T) {
	body := `{
		"id": "resp_1",
		"object": "response",
		"created_at": 1700000000,
		"model": "gpt-4o",
		"status": "completed",
		"output": [
			{"type": "reasoning", "id": "rs_1", "summary": []},
			{"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
			 "content": [
				{"type": "output_text", "text": "A torque wrench", "annotations": []},
				{"type": "output_text", "text": "ignored", "annotations": []}
			 ]}
		],
		"usage": {"input_tokens": 12, "output_tokens": 4, "total_tokens": 16}
	}`
	var seen map[string]any
	srv := newResponsesServer(t, http.StatusOK, body, &seen)

	p, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	require.NoError(t, err)

	a := NewAdapter(p)
	got, err := a.Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: "data:image/png;base64,AA\nA=", Question: "What is this?"})
	require.NoError(t, err)
	assert.Equal(t, "A torque wrench", got)

	raw, _ := json.Marshal(seen)
	assert.Contains(t, string(raw), "data:image/png;base64,AAA=", "canonical data URL sent upstream")
	assert.Contains(t, string(raw), "What is this?")
}

func TestOpenAIProviderNoText(t *testing.T) {
	body := `{"id":"resp_2","object":"response","created_at":1700000000,"model":"gpt-4o","status":"completed","output":[]}`
	srv := newResponsesServer(t, http.StatusOK, body, nil)

	p, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	require.NoError(t, err)

	got, err := NewAdapter(p).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "No response text found", got)
}

func TestOpenAIProviderError(t *testing.T) {
	body := `{"error":{"message":"Invalid image data","type":"invalid_request_error","param":null,"code":null}}`
	srv := newResponsesServer(t, http.StatusBadRequest, body, nil)

	p, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	require.NoError(t, err)

	_, err = NewAdapter(p).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})

	var ie *InferenceError
	require.True(t, errors.As(err, &ie), "err = %v", err)
	assert.Equal(t, http.StatusBadRequest, ie.StatusCode)
	assert.Contains(t, ie.Error(), "Invalid image data")
}

func newGeminiServer(t *testing.T, status int, body string, seen *map[string]any) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-test" {
			t.Errorf("api key = %q", got)
		}
		if seen != nil {
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	p, err := NewGemini(WithAPIKey("g-test"), WithModel("gemini-test"), WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)
	return p
}

func TestGeminiProviderAnswer(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "Looking at the dial first", "thought": true},
				{"text": "  The gauge reads 40 psi  "},
				{"text": "ignored"}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 6}
	}`
	var seen map[string]any
	p := newGeminiServer(t, http.StatusOK, body, &seen)

	got, err := NewAdapter(p).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "What does the gauge read?"})
	require.NoError(t, err)
	assert.Equal(t, "The gauge reads 40 psi", got)

	raw, _ := json.Marshal(seen)
	assert.Contains(t, string(raw), "What does the gauge read?")
	assert.Contains(t, string(raw), "image/png")
	assert.Contains(t, string(raw), "iVBORw0KGgo=", "image sent as inline bytes")
}

func TestGeminiProviderNoText(t *testing.T) {
	p := newGeminiServer(t, http.StatusOK, `{"candidates": []}`, nil)

	got, err := NewAdapter(p).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "No response text found", got)
}

func TestGeminiProviderError(t *testing.T) {
	body := `{"error": {"code": 400, "message": "Unable to process input image", "status": "INVALID_ARGUMENT"}}`
	p := newGeminiServer(t, http.StatusBadRequest, body, nil)

	_, err := NewAdapter(p).Answer(context.Background(), &protocol.ScreenshotResult{ImageBase64: pixel, Question: "q"})

	var ie *InferenceError
	require.True(t, errors.As(err, &ie), "err = %v", err)
	assert.Equal(t, "gemini", ie.Provider)
	assert.Equal(t, http.StatusBadRequest, ie.StatusCode)
	assert.Contains(t, ie.Error(), "Unable to process input image")
}
