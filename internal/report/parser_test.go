package report

import (
	"strings"
	"testing"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/stretchr/testify/require"
)

const essay = "The industrial revolution transformed European society in profound ways. " +
	"Steam power reshaped manufacturing across the continent during the nineteenth century. " +
	"Urban populations grew rapidly as workers migrated from rural areas to factory towns. " +
	"Living conditions in these towns were frequently overcrowded and unsanitary."

func TestParseExtractsOverallScore(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Turnitin Originality Report\nOverall Similarity Index: 35%\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.True(t, rep.ScoreFound)
	require.Equal(t, 35.0, rep.OverallScore)
}

func TestParseScorePatternPriority(t *testing.T) {
	p := NewParser(TextExtractor{})
	// Both label styles present; the higher-priority label wins.
	raw := []byte("Overall Similarity: 12%\nsomething 40% similar elsewhere\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.Equal(t, 12.0, rep.OverallScore)
}

func TestParseScoreMissingDefaultsToZero(t *testing.T) {
	p := NewParser(TextExtractor{})
	rep, err := p.Parse([]byte("No percentages here at all, just prose."), models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.False(t, rep.ScoreFound)
	require.Equal(t, 0.0, rep.OverallScore)
}

func TestParseLocatesExactSpanWithAttribution(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Similarity Index: 22%\n" +
		"Steam power reshaped manufacturing across the continent during the nineteenth century.\n" +
		"Internet Source: https://example.com/industrial-history\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.Len(t, rep.Spans, 1)

	s := rep.Spans[0]
	require.Equal(t, models.FlagSimilarity, s.FlagKind)
	require.Equal(t, "https://example.com/industrial-history", s.SourceAttribution)
	require.Equal(t, strings.Index(essay, "Steam power"), s.StartOffset)
	require.Equal(t, essay[s.StartOffset:s.EndOffset], s.Text)
}

func TestParseFuzzyThreeWordWindowFallback(t *testing.T) {
	p := NewParser(TextExtractor{})
	// Report echoes the flagged text with a different prefix; only a
	// 3-word window matches the snapshot.
	raw := []byte("Similarity Index: 22%\n" +
		"Flagged excerpt follows here: urban populations grew rapidly as workers migrated from rural areas\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, strings.ToLower(essay))
	require.NoError(t, err)
	require.Len(t, rep.Spans, 1)
	require.Less(t, rep.Spans[0].StartOffset, rep.Spans[0].EndOffset)
}

func TestParseDiscardsUnlocatableSpans(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Similarity Index: 22%\n" +
		"Completely unrelated sentence that never appeared in the submitted document whatsoever.\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.Empty(t, rep.Spans)
}

func TestParseSpanLocality(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Similarity Index: 40%\n" +
		"The industrial revolution transformed European society in profound ways.\n" +
		"Living conditions in these towns were frequently overcrowded and unsanitary.\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Spans)
	for _, s := range rep.Spans {
		require.GreaterOrEqual(t, s.StartOffset, 0)
		require.Less(t, s.StartOffset, s.EndOffset)
		require.LessOrEqual(t, s.EndOffset, len(essay))
	}
}

func TestParseCollapsesOverlappingSpans(t *testing.T) {
	p := NewParser(TextExtractor{})
	// Same flagged region reported twice with slightly different trims.
	raw := []byte("Similarity Index: 40%\n" +
		"Steam power reshaped manufacturing across the continent during the nineteenth century.\n" +
		"Steam power reshaped manufacturing across the continent during the nineteenth\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.Len(t, rep.Spans, 1)
	// First encountered after sorting by start offset is kept.
	require.Equal(t, strings.Index(essay, "Steam power"), rep.Spans[0].StartOffset)
}

func TestParseAIReportStockPhrasesRaiseConfidence(t *testing.T) {
	original := "Furthermore, the committee reviewed the data. Moreover, in conclusion the findings were clear. " +
		"The committee then adjourned for the day without further business to discuss."
	p := NewParser(TextExtractor{})
	raw := []byte("AI Writing Detected: 80%\n" +
		"Furthermore, the committee reviewed the data. Moreover, in conclusion the findings were clear.\n" +
		"The committee then adjourned for the day without further business to discuss.\n")
	rep, err := p.Parse(raw, models.ReportAIDetection, original)
	require.NoError(t, err)
	require.Equal(t, 80.0, rep.OverallScore)
	require.Len(t, rep.Spans, 2)
	require.Equal(t, models.FlagAIDetection, rep.Spans[0].FlagKind)
	require.Greater(t, rep.Spans[0].Confidence, rep.Spans[1].Confidence)
}

func TestParseRecommendationsCollected(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Similarity Index: 5%\nRecommendation: cite the 1848 census figures directly.\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	require.Equal(t, []string{"cite the 1848 census figures directly."}, rep.Recommendations)
}

func TestParseUnreadableInput(t *testing.T) {
	p := NewParser(AutoExtractor{})
	_, err := p.Parse([]byte("%PDF-1.7 garbage\x00\x01"), models.ReportSimilarity, essay)
	require.Error(t, err)
	require.ErrorIs(t, err, util.ErrReportUnreadable)

	_, err = p.Parse(nil, models.ReportSimilarity, essay)
	require.ErrorIs(t, err, util.ErrReportUnreadable)
}

func TestSeverityHistogramMatchesSpans(t *testing.T) {
	p := NewParser(TextExtractor{})
	raw := []byte("Similarity Index: 40%\n" +
		"The industrial revolution transformed European society in profound ways.\n" +
		"Source: Hobsbawm, The Age of Revolution\n")
	rep, err := p.Parse(raw, models.ReportSimilarity, essay)
	require.NoError(t, err)
	total := 0
	for _, n := range rep.SeverityHistogram {
		total += n
	}
	require.Equal(t, len(rep.Spans), total)
}
