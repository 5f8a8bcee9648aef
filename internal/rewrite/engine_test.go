package rewrite

import (
	"context"
	"errors"
	"testing"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	text string
	err  error
}

func (s stubProvider) Rewrite(_ context.Context, _ RewriteRequest) (RewriteResponse, ProviderInfo, error) {
	return RewriteResponse{Text: s.text}, ProviderInfo{Name: "stub"}, s.err
}

func managerOf(ps ...Provider) *Manager {
	m := &Manager{}
	for _, p := range ps {
		m.providers = append(m.providers, NamedProvider{Ref: ProviderRef{Raw: "stub", Name: "stub"}, Provider: p})
	}
	return m
}

func TestMockProviderRewritesFlaggedSpans(t *testing.T) {
	content := "Steam power reshaped manufacturing across the continent. Other sentences stay put."
	flags := []models.FlaggedSpan{{
		Text:        "Steam power reshaped manufacturing across the continent.",
		StartOffset: 0,
		EndOffset:   57,
		FlagKind:    models.FlagSimilarity,
	}}

	e := NewEngine(managerOf(NewMockProvider()), 0.10)
	out, info, err := e.Rewrite(context.Background(), content, flags, CycleContext{ChunkID: "c1", AttemptNumber: 1})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.NotEqual(t, content, out)
	require.NotContains(t, out, flags[0].Text)
	require.Contains(t, out, "Other sentences stay put.")
}

func TestEngineRejectsLengthDrift(t *testing.T) {
	content := "A perfectly reasonable paragraph that the engine is asked to revise carefully."
	e := NewEngine(managerOf(stubProvider{text: "too short"}), 0.10)

	_, _, err := e.Rewrite(context.Background(), content, nil, CycleContext{AttemptNumber: 1})
	require.Error(t, err)
	require.ErrorIs(t, err, util.ErrEngineOutput)
}

func TestEngineFailsOverBetweenProviders(t *testing.T) {
	content := "A perfectly reasonable paragraph that the engine is asked to revise carefully."
	good := content[:len(content)-10] + " rephrased."
	e := NewEngine(managerOf(
		stubProvider{err: errors.New("service unavailable")},
		stubProvider{text: good},
	), 0.10)

	out, _, err := e.Rewrite(context.Background(), content, nil, CycleContext{AttemptNumber: 2})
	require.NoError(t, err)
	require.Equal(t, good, out)
}

func TestEngineEmptyInput(t *testing.T) {
	e := NewEngine(managerOf(NewMockProvider()), 0.10)
	_, _, err := e.Rewrite(context.Background(), "   ", nil, CycleContext{})
	require.ErrorIs(t, err, util.ErrEngineOutput)
}

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("openai:primary, groq , mock")
	require.Len(t, refs, 3)
	require.Equal(t, "openai", refs[0].Name)
	require.Equal(t, "primary", refs[0].KeyAlias)
	require.Equal(t, "groq", refs[1].Name)
	require.Equal(t, "mock", refs[2].Name)
}
