package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Loopback is a deterministic in-process relay for development and
// integration environments without the real bot. Every upload produces
// both report artifacts on the next inbound poll, echoing the first
// sentence of the submission as the flagged excerpt.
type Loopback struct {
	mu              sync.Mutex
	similarityScore float64
	aiScore         float64
	pending         []InboundMessage
	seq             int
}

func NewLoopback(similarityScore, aiScore float64) *Loopback {
	return &Loopback{similarityScore: similarityScore, aiScore: aiScore}
}

func (l *Loopback) Upload(ctx context.Context, content []byte, filename, caption string) (string, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	msgID := fmt.Sprintf("loopback-%d", l.seq)

	excerpt := firstSentence(string(content))
	sim := fmt.Sprintf("Turnitin Originality Report\nOverall Similarity Index: %.0f%%\n%s\nInternet Source: https://loopback.invalid/source\n",
		l.similarityScore, excerpt)
	ai := fmt.Sprintf("AI Writing Report\nAI Writing Detected: %.0f%%\n%s\n", l.aiScore, excerpt)

	l.pending = append(l.pending,
		InboundMessage{MessageID: msgID + "-sim", Caption: caption, Filename: "similarity_report.txt", Attachment: []byte(sim)},
		InboundMessage{MessageID: msgID + "-ai", Caption: caption, Filename: "ai_report.txt", Attachment: []byte(ai)},
	)
	return msgID, nil
}

func (l *Loopback) PollInbound(ctx context.Context) ([]InboundMessage, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		return strings.TrimSpace(s[:idx+1])
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
