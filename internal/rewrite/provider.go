package rewrite

import (
	"context"
	"fmt"
	"strings"

	"redraft/internal/models"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type RewriteRequest struct {
	Operation string               `json:"operation"`
	Content   string               `json:"content"`
	Flags     []models.FlaggedSpan `json:"flags"`
	Guidance  []string             `json:"guidance,omitempty"`
}

type RewriteResponse struct {
	Text string `json:"text"`
}

// Provider is one content-revision backend. No correctness guarantee is
// made here; quality is judged by re-submission to the checking service.
type Provider interface {
	Rewrite(ctx context.Context, req RewriteRequest) (RewriteResponse, ProviderInfo, error)
}

// ProviderRef is a parsed entry from the provider list config value,
// "name" or "name:keyalias".
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

func ParseProviderList(s string) []ProviderRef {
	out := make([]ProviderRef, 0, 2)
	for _, part := range strings.Split(s, ",") {
		raw := strings.TrimSpace(part)
		if raw == "" {
			continue
		}
		ref := ProviderRef{Raw: raw, Name: raw}
		if idx := strings.Index(raw, ":"); idx >= 0 {
			ref.Name = strings.TrimSpace(raw[:idx])
			ref.KeyAlias = strings.TrimSpace(raw[idx+1:])
		}
		out = append(out, ref)
	}
	return out
}

func buildPrompt(req RewriteRequest) string {
	b := strings.Builder{}
	b.WriteString("Rewrite the flagged passages of the document below so they no longer match external sources ")
	b.WriteString("and no longer read as machine-generated, while preserving the meaning, register, and citations of the original. ")
	b.WriteString("Keep the overall length within 10% of the original. Return ONLY the full revised document, no commentary.\n\n")
	if len(req.Flags) > 0 {
		b.WriteString("Flagged passages:\n")
		for i, f := range req.Flags {
			b.WriteString(fmt.Sprintf("%d. [%s/%s] %q", i+1, f.FlagKind, f.Severity, f.Text))
			if f.SourceAttribution != "" {
				b.WriteString(" (matched source: " + f.SourceAttribution + ")")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(req.Guidance) > 0 {
		b.WriteString("Reviewer guidance:\n")
		for _, g := range req.Guidance {
			b.WriteString("- " + g + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Document:\n")
	b.WriteString(req.Content)
	return b.String()
}
