package rewrite

import (
	"context"
	"strings"
)

// MockProvider rewrites deterministically: each flagged passage has its
// word order rotated, which is enough for the loopback relay and tests
// to observe changed content of near-identical length.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Rewrite(ctx context.Context, req RewriteRequest) (RewriteResponse, ProviderInfo, error) {
	_ = ctx
	out := req.Content
	for _, f := range req.Flags {
		if f.Text == "" {
			continue
		}
		out = strings.Replace(out, f.Text, rotateWords(f.Text), 1)
	}
	return RewriteResponse{Text: out}, ProviderInfo{Name: "mock", Model: "mock-rewrite-v1", Key: "mock"}, nil
}

func rotateWords(s string) string {
	words := strings.Fields(s)
	if len(words) < 2 {
		return s
	}
	rotated := append(words[1:], words[0])
	return strings.Join(rotated, " ")
}
