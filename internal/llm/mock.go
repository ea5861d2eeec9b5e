package llm

import "context"

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response", StopReason: "stop"}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return StreamOf("mock ", "stream response"), nil
}

// StreamOf returns a closed channel yielding one delta per chunk followed
// by a done event whose response holds the concatenated text.
func StreamOf(chunks ...string) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(chunks)+1)
	full := ""
	for _, c := range chunks {
		ch <- StreamEvent{Type: EventDelta, Content: c}
		full += c
	}
	ch <- StreamEvent{Type: EventDone, Response: &CompletionResponse{Content: full, StopReason: "stop"}}
	close(ch)
	return ch
}
