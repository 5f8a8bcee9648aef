package gateway

import (
	"context"
	"regexp"
	"strings"
)

// InboundMessage is one message observed on the relay's inbound stream.
// The correlation token lives in the caption (or filename, for relays
// that strip captions).
type InboundMessage struct {
	MessageID  string
	Caption    string
	Filename   string
	Attachment []byte
}

// SubmissionTransport is the chat-based document relay used to reach the
// checking service. The relay is stateless: correlation happens through a
// token embedded in outbound metadata and matched on inbound messages.
type SubmissionTransport interface {
	Upload(ctx context.Context, content []byte, filename, caption string) (string, error)
	PollInbound(ctx context.Context) ([]InboundMessage, error)
}

const correlationPrefix = "redraft-sub::"

var correlationPattern = regexp.MustCompile(`redraft-sub::([0-9a-fA-F-]{36})`)

func CorrelationToken(handle string) string {
	return correlationPrefix + handle
}

// ParseCorrelation extracts a submission handle from inbound metadata.
func ParseCorrelation(parts ...string) (string, bool) {
	for _, p := range parts {
		if m := correlationPattern.FindStringSubmatch(p); m != nil {
			return strings.ToLower(m[1]), true
		}
	}
	return "", false
}
