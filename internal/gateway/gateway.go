package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SubmissionStore persists submission records and their artifact slots.
// Implemented by storage.SubmissionRepo; tests use an in-memory store.
type SubmissionStore interface {
	Create(ctx context.Context, sub models.Submission) error
	Get(ctx context.Context, handle string) (models.Submission, error)
	// AttachArtifact fills the slot for one report kind. Returns false
	// when the slot was already filled (duplicate delivery).
	AttachArtifact(ctx context.Context, handle string, kind models.ReportKind, msgID string, artifact []byte) (bool, error)
	MarkStatus(ctx context.Context, handle string, from, to models.SubmissionState) (bool, error)
}

// Meta travels with an upload so operators can trace a relay document
// back to its chunk.
type Meta struct {
	ChunkID       string
	LotID         string
	AttemptNumber int
}

// Status is the normalized poll result.
type Status struct {
	State      models.SubmissionState
	Similarity []byte
	AI         []byte
	Reason     string
}

// Gateway drives one round trip through the checking service: upload the
// content, then watch the inbound stream until both report artifacts
// arrive or the deadline passes. Uploads are not retried here; the outer
// cycle owns retry policy.
type Gateway struct {
	transport SubmissionTransport
	store     SubmissionStore
	limiter   *rate.Limiter
	timeout   time.Duration
}

func New(t SubmissionTransport, s SubmissionStore, timeout time.Duration, uploadsPerSec float64, burst int) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if uploadsPerSec <= 0 {
		uploadsPerSec = 0.5
	}
	if burst <= 0 {
		burst = 1
	}
	return &Gateway{
		transport: t,
		store:     s,
		limiter:   rate.NewLimiter(rate.Limit(uploadsPerSec), burst),
		timeout:   timeout,
	}
}

// Submit uploads content to the relay and returns the submission handle.
func (g *Gateway) Submit(ctx context.Context, content string, meta Meta) (string, error) {
	handle := uuid.NewString()
	contentHash := util.SHA256Hex([]byte(content))
	filename := fmt.Sprintf("%s-attempt-%d-%s.txt", meta.ChunkID, meta.AttemptNumber, contentHash[:8])
	caption := fmt.Sprintf("%s chunk=%s lot=%s attempt=%d",
		CorrelationToken(handle), meta.ChunkID, meta.LotID, meta.AttemptNumber)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("upload rate limit wait: %w", err)
	}
	if _, err := g.transport.Upload(ctx, []byte(content), filename, caption); err != nil {
		return "", fmt.Errorf("relay upload: %w", err)
	}

	now := time.Now().UTC()
	sub := models.Submission{
		Handle:      handle,
		ChunkID:     meta.ChunkID,
		Filename:    filename,
		SubmittedAt: now,
		Deadline:    now.Add(g.timeout),
		Status:      models.SubmissionPending,
	}
	if err := g.store.Create(ctx, sub); err != nil {
		return "", fmt.Errorf("persist submission: %w", err)
	}
	return handle, nil
}

// Poll drains the inbound stream, files any correlated artifacts, then
// reports the state of the given handle. Completed only once both the
// similarity and AI-detection artifacts have arrived, in any order;
// duplicate deliveries are idempotent.
func (g *Gateway) Poll(ctx context.Context, handle string) (Status, error) {
	msgs, err := g.transport.PollInbound(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("poll inbound: %w", err)
	}
	for _, m := range msgs {
		g.ingest(ctx, m)
	}

	sub, err := g.store.Get(ctx, handle)
	if err != nil {
		return Status{}, fmt.Errorf("load submission %s: %w", handle, err)
	}
	switch {
	case sub.Complete():
		_, _ = g.store.MarkStatus(ctx, handle, models.SubmissionPending, models.SubmissionCompleted)
		return Status{State: models.SubmissionCompleted, Similarity: sub.SimilarityArtifact, AI: sub.AIArtifact}, nil
	case time.Now().UTC().After(sub.Deadline):
		_, _ = g.store.MarkStatus(ctx, handle, models.SubmissionPending, models.SubmissionFailed)
		return Status{State: models.SubmissionFailed, Reason: "timeout"}, nil
	default:
		return Status{State: models.SubmissionPending}, nil
	}
}

// ingest files one inbound message against its submission. Messages for
// unknown handles or without a correlation token are skipped; a filled
// slot stays filled.
func (g *Gateway) ingest(ctx context.Context, m InboundMessage) {
	handle, ok := ParseCorrelation(m.Caption, m.Filename)
	if !ok {
		return
	}
	kind, ok := classifyArtifact(m)
	if !ok {
		return
	}
	if _, err := g.store.AttachArtifact(ctx, handle, kind, m.MessageID, m.Attachment); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return
		}
		// The message is gone from the inbound stream after this drain,
		// so a filing failure has to leave a trace somewhere.
		log.Printf("gateway: file %s artifact for submission %s: %v", kind, handle, err)
	}
}

func classifyArtifact(m InboundMessage) (models.ReportKind, bool) {
	probe := strings.ToLower(m.Filename + " " + m.Caption)
	switch {
	case strings.Contains(probe, "similarity"), strings.Contains(probe, "originality"):
		return models.ReportSimilarity, true
	case strings.Contains(probe, "ai"):
		return models.ReportAIDetection, true
	default:
		return "", false
	}
}
