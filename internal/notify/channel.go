package notify

import (
	"context"
	"log"
	"sync"

	"redraft/internal/util"
)

// Channel delivers a short message to a recipient. Delivery mechanics
// are out of scope here; implementations report success or failure and
// callers never block state transitions on the result.
type Channel interface {
	Send(ctx context.Context, recipientID, text string) error
}

// LogChannel writes notifications to the process log. The default for
// development and the fallback when no real channel is configured.
type LogChannel struct{}

func (LogChannel) Send(ctx context.Context, recipientID, text string) error {
	_ = ctx
	log.Printf("notify %s: %s", recipientID, util.DisplaySnippet(text, 300))
	return nil
}

// MemoryChannel records sends for tests.
type MemoryChannel struct {
	mu   sync.Mutex
	Sent []Message
}

type Message struct {
	RecipientID string
	Text        string
}

func (m *MemoryChannel) Send(ctx context.Context, recipientID, text string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, Message{RecipientID: recipientID, Text: text})
	return nil
}

func ByName(name string) Channel {
	switch name {
	case "log", "":
		return LogChannel{}
	default:
		log.Printf("unknown notify channel %q, falling back to log", name)
		return LogChannel{}
	}
}
