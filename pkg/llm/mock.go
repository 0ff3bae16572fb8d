package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are returned in
// order; the last one repeats once the script is exhausted.
type MockClient struct {
	mu        sync.Mutex
	Responses []Response
	Errs      []error
	Requests  []Request
	Model     string
	calls     int
}

func (m *MockClient) Complete(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	i := m.calls
	m.calls++
	if i < len(m.Errs) && m.Errs[i] != nil {
		return Response{}, m.Errs[i]
	}
	if len(m.Responses) == 0 {
		return Response{}, nil
	}
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return m.Responses[i], nil
}

func (m *MockClient) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// Calls returns how many completions were attempted.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
