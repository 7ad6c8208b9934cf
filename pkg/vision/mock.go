package vision

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// AnswerFunc is called when Answer is invoked.
	AnswerFunc func(ctx context.Context, req *Request) (*Response, error)

	// ProviderName overrides Name.
	ProviderName string

	mu    sync.Mutex
	calls []MockCall
}

var _ Provider = (*Mock)(nil)

// MockCall records an invocation.
type MockCall struct {
	Question string
	MIMEType string
	Bytes    int
	Time     time.Time
}

// NewMock creates a mock provider that answers with a fixed text.
func NewMock(text string) *Mock {
	return &Mock{
		AnswerFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Text: text, Model: "mock"}, nil
		},
	}
}

// Name implements Provider.
func (m *Mock) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

// Answer calls AnswerFunc and records the call.
func (m *Mock) Answer(ctx context.Context, req *Request) (*Response, error) {
	call := MockCall{Question: req.Question, Time: time.Now()}
	if req.Image != nil {
		call.MIMEType = req.Image.MIMEType
		call.Bytes = len(req.Image.Data)
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, req)
	}
	return nil, &InferenceError{Provider: m.Name(), Message: "no AnswerFunc set"}
}

// Calls returns the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Answer calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
