package llmadapter

import "context"

// MockProvider is a deterministic test double, condensed from the teacher's
// ai/providers/mock provider shape.
type MockProvider struct {
	Responses []Response
	calls     int
}

func (m *MockProvider) GenerateText(ctx context.Context, prompt string) (Response, error) {
	if len(m.Responses) == 0 {
		return Response{Content: "REASONING: stub\nVERDICT: PASS\n"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx], nil
}

var _ Provider = (*MockProvider)(nil)
