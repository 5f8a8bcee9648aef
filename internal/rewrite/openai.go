package rewrite

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider revises content through OpenAI chat completions.
type OpenAIProvider struct {
	keyName string
	apiKey  string
	model   string
	client  *openai.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	apiKey := resolveOpenAIKey(keyName)
	model := os.Getenv("REDRAFT_OPENAI_MODEL")
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("REDRAFT_OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	return &OpenAIProvider{
		keyName: keyName,
		apiKey:  apiKey,
		model:   model,
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAIProvider) Rewrite(ctx context.Context, req RewriteRequest) (RewriteResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.model, Key: o.keyName}
	if o.apiKey == "" {
		return RewriteResponse{}, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an academic editor. Rewrite flagged passages faithfully, keep the author's voice, and never change factual claims or citations.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(req),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return RewriteResponse{}, info, fmt.Errorf("openai rewrite request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return RewriteResponse{}, info, fmt.Errorf("openai returned empty choices")
	}
	return RewriteResponse{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}, info, nil
}

func resolveOpenAIKey(alias string) string {
	if alias != "" {
		if k := os.Getenv("REDRAFT_OPENAI_KEY_" + strings.ToUpper(alias)); k != "" {
			return k
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
