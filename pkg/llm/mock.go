package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockModel is the model name resolved when ZAOYA_INTERVIEW_MOCK is set.
// The mock transport answers it regardless of scripted model names.
const MockModel = "mock"

// MockCall records one request the mock received.
type MockCall struct {
	Model       string
	Messages    []Message
	Temperature float32
}

// Mock is a scripted Transport for tests and the mock-model feature flag.
// Responses are returned in order; when the script is exhausted the Handler
// (if set) answers, otherwise the call errors.
type Mock struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     []MockCall

	// Handler, when set, answers calls not covered by the script.
	Handler func(call MockCall) (*Response, error)
}

// NewMock creates a mock transport scripted with the given response
// contents, each reporting a small fixed usage.
func NewMock(contents ...string) *Mock {
	m := &Mock{}
	for _, c := range contents {
		m.responses = append(m.responses, Response{
			Content: c,
			Usage:   Usage{Prompt: 10, Completion: 20, Total: 30},
			Model:   MockModel,
		})
		m.errs = append(m.errs, nil)
	}
	return m
}

// EnqueueError scripts a transport error at the current script position.
func (m *Mock) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, Response{})
	m.errs = append(m.errs, err)
}

// Enqueue scripts a full response.
func (m *Mock) Enqueue(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
}

// Calls returns a copy of all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ChatComplete implements Transport.
func (m *Mock) ChatComplete(ctx context.Context, model string, messages []Message, temperature float32) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	call := MockCall{Model: model, Messages: messages, Temperature: temperature}
	m.calls = append(m.calls, call)
	if len(m.responses) > 0 {
		resp, err := m.responses[0], m.errs[0]
		m.responses = m.responses[1:]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(call)
	}
	return nil, fmt.Errorf("mock transport: no scripted response for model %s", model)
}
