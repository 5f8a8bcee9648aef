package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"redraft/internal/models"
	"redraft/internal/util"
)

// Parser turns raw plagiarism / AI-detection reports into structured
// flagged spans located inside the content snapshot the report was
// generated against. Pure over its inputs; no I/O.
type Parser struct {
	extractor Extractor
}

func NewParser(e Extractor) *Parser {
	if e == nil {
		e = AutoExtractor{}
	}
	return &Parser{extractor: e}
}

var similarityScorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)overall\s+similarity(?:\s+index)?\D{0,12}(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(?i)similarity\s+index\D{0,12}(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s+similar`),
}

var aiScorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ai\s+writing\D{0,12}(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s+(?:of\s+)?(?:the\s+)?(?:text\s+)?(?:was\s+|is\s+)?likely\s+ai`),
	regexp.MustCompile(`(?i)ai\s+detect(?:ion|ed)\D{0,12}(\d{1,3}(?:\.\d+)?)\s*%`),
}

var (
	attributionPattern = regexp.MustCompile(`(?i)^(?:source|internet\s+source|student\s+papers?|publication)s?\s*[:\-]\s*(.+)$`)
	urlPattern         = regexp.MustCompile(`https?://\S+`)
	recommendationLine = regexp.MustCompile(`(?i)^recommendations?\s*[:\-]\s*(.+)$`)
)

// Stock transitions detectors associate with machine-generated prose.
var aiStockPhrases = []string{
	"furthermore", "moreover", "in conclusion", "additionally",
	"it is important to note", "it is worth noting", "in summary",
	"delve", "in today's", "overall,",
}

// Parse extracts the overall score and located flagged spans from a raw
// report document. Unreadable input surfaces ErrReportUnreadable; the
// caller treats that as a fetch failure, not a consumed rewrite attempt.
func (p *Parser) Parse(raw []byte, kind models.ReportKind, original string) (models.ParsedReport, error) {
	text, err := p.extractor.Extract(raw)
	if err != nil {
		return models.ParsedReport{}, fmt.Errorf("extract report text: %w", err)
	}
	text = util.SanitizeText(text)

	out := models.ParsedReport{
		Kind:              kind,
		SeverityHistogram: map[models.Severity]int{},
	}
	out.OverallScore, out.ScoreFound = extractScore(text, kind)

	lines := strings.Split(text, "\n")
	spans := make([]models.FlaggedSpan, 0, 8)
	for i, line := range lines {
		candidate := strings.TrimSpace(line)
		if rec := recommendationLine.FindStringSubmatch(candidate); rec != nil {
			out.Recommendations = append(out.Recommendations, strings.TrimSpace(rec[1]))
			continue
		}
		if len(strings.Fields(candidate)) < 5 {
			continue
		}
		start, end, ok := locate(original, candidate)
		if !ok {
			// Spans that cannot be located in the snapshot are discarded.
			continue
		}
		attribution := ""
		if i+1 < len(lines) {
			attribution = extractAttribution(lines[i+1])
		}
		span := models.FlaggedSpan{
			Text:              candidate,
			StartOffset:       start,
			EndOffset:         end,
			FlagKind:          classifyFlag(kind, candidate, attribution),
			SourceAttribution: attribution,
		}
		span.Confidence = confidence(kind, candidate, attribution)
		span.Severity = severity(span.Confidence, end-start)
		spans = append(spans, span)
	}

	out.Spans = collapseOverlaps(spans)
	for _, s := range out.Spans {
		out.SeverityHistogram[s.Severity]++
	}
	return out, nil
}

// extractScore returns the first match across the prioritized label
// patterns for the report kind, defaulting to 0 when none matched.
func extractScore(text string, kind models.ReportKind) (float64, bool) {
	patterns := similarityScorePatterns
	if kind == models.ReportAIDetection {
		patterns = aiScorePatterns
	}
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			if v < 0 {
				v = 0
			}
			if v > 100 {
				v = 100
			}
			return v, true
		}
	}
	return 0, false
}

// locate finds the candidate text inside the original content, exact
// match first, then a fuzzy fallback on any 3-word window of the
// candidate. Offsets are byte offsets into the snapshot.
func locate(original, candidate string) (start, end int, ok bool) {
	if original == "" || candidate == "" {
		return 0, 0, false
	}
	if idx := strings.Index(original, candidate); idx >= 0 {
		return idx, idx + len(candidate), true
	}
	words := strings.Fields(candidate)
	for i := 0; i+3 <= len(words); i++ {
		window := strings.Join(words[i:i+3], " ")
		idx := strings.Index(original, window)
		if idx < 0 {
			continue
		}
		end := idx + len(candidate)
		if end > len(original) {
			end = len(original)
		}
		if idx >= end {
			end = idx + len(window)
			if end > len(original) {
				return 0, 0, false
			}
		}
		return idx, end, true
	}
	return 0, 0, false
}

func extractAttribution(line string) string {
	line = strings.TrimSpace(line)
	if m := attributionPattern.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	if u := urlPattern.FindString(line); u != "" {
		return u
	}
	return ""
}

func classifyFlag(kind models.ReportKind, text, attribution string) models.FlagKind {
	if kind == models.ReportAIDetection {
		return models.FlagAIDetection
	}
	low := strings.ToLower(text)
	switch {
	case strings.Contains(low, "citation") || strings.Contains(low, "uncited"):
		return models.FlagCitationMissing
	case attribution == "" && strings.Contains(low, "paraphras"):
		return models.FlagParaphrase
	default:
		return models.FlagSimilarity
	}
}

// confidence is a heuristic over flagged-text length plus a cited source
// (similarity) or the density of stock AI transition phrases (detection).
func confidence(kind models.ReportKind, text, attribution string) float64 {
	n := float64(len(text))
	var c float64
	if kind == models.ReportAIDetection {
		c = 0.3 + minF(0.25, n/500)
		hits := 0
		low := strings.ToLower(text)
		for _, phrase := range aiStockPhrases {
			if strings.Contains(low, phrase) {
				hits++
			}
		}
		if hits > 3 {
			hits = 3
		}
		c += 0.1 * float64(hits)
	} else {
		c = 0.35 + minF(0.4, n/400)
		if attribution != "" {
			c += 0.2
		}
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func severity(confidence float64, spanLen int) models.Severity {
	w := confidence * minF(1, float64(spanLen)/240)
	switch {
	case w >= 0.5:
		return models.SeverityHigh
	case w >= 0.25:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// collapseOverlaps sorts spans by start offset and drops any span whose
// overlap with an already-kept span exceeds half of the shorter one.
func collapseOverlaps(spans []models.FlaggedSpan) []models.FlaggedSpan {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartOffset == spans[j].StartOffset {
			return spans[i].EndOffset < spans[j].EndOffset
		}
		return spans[i].StartOffset < spans[j].StartOffset
	})
	kept := make([]models.FlaggedSpan, 0, len(spans))
	for _, s := range spans {
		drop := false
		for _, k := range kept {
			if overlapsMoreThanHalf(k, s) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	return kept
}

func overlapsMoreThanHalf(a, b models.FlaggedSpan) bool {
	lo := maxI(a.StartOffset, b.StartOffset)
	hi := minI(a.EndOffset, b.EndOffset)
	if hi <= lo {
		return false
	}
	overlap := hi - lo
	shorter := minI(a.EndOffset-a.StartOffset, b.EndOffset-b.StartOffset)
	return float64(overlap) > 0.5*float64(shorter)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
