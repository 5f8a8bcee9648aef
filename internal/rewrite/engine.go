package rewrite

import (
	"context"
	"fmt"
	"strings"

	"redraft/internal/models"
	"redraft/internal/util"
)

// CycleContext travels with a rewrite call for prompt grounding and audit.
type CycleContext struct {
	ChunkID         string
	LotID           string
	AttemptNumber   int
	Recommendations []string
}

// Engine wraps the configured providers behind the one call the
// orchestrator makes per attempt. Output is validated structurally
// (non-empty, length within tolerance); semantic quality is judged by
// re-submission, not here.
type Engine struct {
	manager   *Manager
	tolerance float64
}

func NewEngine(m *Manager, lengthTolerance float64) *Engine {
	if lengthTolerance <= 0 {
		lengthTolerance = 0.10
	}
	return &Engine{manager: m, tolerance: lengthTolerance}
}

// Rewrite produces revised content addressing every flagged span. Tries
// providers in configured order; a provider whose output fails
// validation counts as a provider failure, not a shorter document.
func (e *Engine) Rewrite(ctx context.Context, content string, flags []models.FlaggedSpan, cc CycleContext) (string, ProviderInfo, error) {
	if strings.TrimSpace(content) == "" {
		return "", ProviderInfo{}, fmt.Errorf("%w: empty input content", util.ErrEngineOutput)
	}
	req := RewriteRequest{
		Operation: fmt.Sprintf("rewrite_attempt_%d", cc.AttemptNumber),
		Content:   content,
		Flags:     flags,
		Guidance:  cc.Recommendations,
	}
	var lastErr error
	for i := 0; i < e.manager.Count(); i++ {
		p, ref := e.manager.ByIndex(i)
		resp, info, err := p.Rewrite(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("provider %s (%s): %w", ref.Raw, ClassifyError(err), err)
			continue
		}
		revised := strings.TrimSpace(resp.Text)
		if err := e.validate(content, revised); err != nil {
			lastErr = fmt.Errorf("provider %s: %w", ref.Raw, err)
			continue
		}
		return revised, info, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no providers configured", util.ErrEngineOutput)
	}
	return "", ProviderInfo{}, lastErr
}

func (e *Engine) validate(original, revised string) error {
	if revised == "" {
		return fmt.Errorf("%w: empty revision", util.ErrEngineOutput)
	}
	ratio := float64(len(revised)) / float64(len(original))
	if ratio < 1-e.tolerance || ratio > 1+e.tolerance {
		return fmt.Errorf("%w: length ratio %.2f outside tolerance %.2f", util.ErrEngineOutput, ratio, e.tolerance)
	}
	return nil
}
