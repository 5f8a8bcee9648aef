package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string]models.Submission
}

func newMemStore() *memStore {
	return &memStore{subs: map[string]models.Submission{}}
}

func (m *memStore) Create(_ context.Context, sub models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.Handle] = sub
	return nil
}

func (m *memStore) Get(_ context.Context, handle string) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[handle]
	if !ok {
		return models.Submission{}, util.ErrNotFound
	}
	return sub, nil
}

func (m *memStore) AttachArtifact(_ context.Context, handle string, kind models.ReportKind, msgID string, artifact []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[handle]
	if !ok {
		return false, util.ErrNotFound
	}
	switch kind {
	case models.ReportSimilarity:
		if len(sub.SimilarityArtifact) > 0 {
			return false, nil
		}
		sub.SimilarityArtifact = artifact
		sub.SimilarityMsgID = msgID
	case models.ReportAIDetection:
		if len(sub.AIArtifact) > 0 {
			return false, nil
		}
		sub.AIArtifact = artifact
		sub.AIMsgID = msgID
	}
	m.subs[handle] = sub
	return true, nil
}

func (m *memStore) MarkStatus(_ context.Context, handle string, from, to models.SubmissionState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[handle]
	if !ok || sub.Status != from {
		return false, nil
	}
	sub.Status = to
	m.subs[handle] = sub
	return true, nil
}

type scriptedTransport struct {
	mu       sync.Mutex
	uploads  []string
	captions []string
	inbound  [][]InboundMessage
}

func (t *scriptedTransport) Upload(_ context.Context, content []byte, filename, caption string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads = append(t.uploads, string(content))
	t.captions = append(t.captions, caption)
	return "msg-1", nil
}

func (t *scriptedTransport) PollInbound(_ context.Context) ([]InboundMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbound) == 0 {
		return nil, nil
	}
	batch := t.inbound[0]
	t.inbound = t.inbound[1:]
	return batch, nil
}

func TestSubmitEmbedsCorrelationToken(t *testing.T) {
	tr := &scriptedTransport{}
	g := New(tr, newMemStore(), time.Minute, 100, 10)

	handle, err := g.Submit(context.Background(), "essay body.", Meta{ChunkID: "chunk-1", LotID: "lot-1", AttemptNumber: 1})
	require.NoError(t, err)
	require.NotEmpty(t, handle)
	require.Len(t, tr.captions, 1)

	parsed, ok := ParseCorrelation(tr.captions[0])
	require.True(t, ok)
	require.Equal(t, handle, parsed)
}

func TestPollOutOfOrderArtifacts(t *testing.T) {
	tr := &scriptedTransport{}
	g := New(tr, newMemStore(), time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "essay body.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)
	caption := CorrelationToken(handle)

	// AI report lands first, similarity later.
	tr.inbound = [][]InboundMessage{
		{{MessageID: "m1", Caption: caption, Filename: "ai_report.pdf", Attachment: []byte("ai bytes")}},
		{{MessageID: "m2", Caption: caption, Filename: "similarity_report.pdf", Attachment: []byte("sim bytes")}},
	}

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionPending, st.State)

	st, err = g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionCompleted, st.State)
	require.Equal(t, []byte("sim bytes"), st.Similarity)
	require.Equal(t, []byte("ai bytes"), st.AI)
}

func TestPollDuplicateDeliveryIsIdempotent(t *testing.T) {
	tr := &scriptedTransport{}
	g := New(tr, newMemStore(), time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "essay body.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)
	caption := CorrelationToken(handle)

	tr.inbound = [][]InboundMessage{{
		{MessageID: "m1", Caption: caption, Filename: "similarity_report.pdf", Attachment: []byte("first")},
		{MessageID: "m1-dup", Caption: caption, Filename: "similarity_report.pdf", Attachment: []byte("second")},
		{MessageID: "m2", Caption: caption, Filename: "ai_report.pdf", Attachment: []byte("ai")},
	}}

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionCompleted, st.State)
	// First delivery wins the slot.
	require.Equal(t, []byte("first"), st.Similarity)
}

func TestPollIgnoresUncorrelatedMessages(t *testing.T) {
	tr := &scriptedTransport{}
	g := New(tr, newMemStore(), time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "essay body.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)

	tr.inbound = [][]InboundMessage{{
		{MessageID: "m1", Caption: "no token here", Filename: "similarity_report.pdf", Attachment: []byte("x")},
		{MessageID: "m2", Caption: CorrelationToken("00000000-0000-0000-0000-000000000000"), Filename: "ai_report.pdf", Attachment: []byte("y")},
	}}

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionPending, st.State)
}

type flakyStore struct {
	*memStore
	attachErr error
}

func (f *flakyStore) AttachArtifact(ctx context.Context, handle string, kind models.ReportKind, msgID string, artifact []byte) (bool, error) {
	if f.attachErr != nil {
		return false, f.attachErr
	}
	return f.memStore.AttachArtifact(ctx, handle, kind, msgID, artifact)
}

func TestPollSurvivesTransientFilingFailure(t *testing.T) {
	tr := &scriptedTransport{}
	store := &flakyStore{memStore: newMemStore()}
	g := New(tr, store, time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "essay body.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)
	caption := CorrelationToken(handle)

	store.attachErr = errors.New("connection reset")
	tr.inbound = [][]InboundMessage{{
		{MessageID: "m1", Caption: caption, Filename: "similarity_report.pdf", Attachment: []byte("sim")},
	}}

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionPending, st.State)
}

func TestPollTimesOut(t *testing.T) {
	tr := &scriptedTransport{}
	store := newMemStore()
	g := New(tr, store, time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "essay body.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)

	// Age the submission past its deadline.
	sub, err := store.Get(ctx, handle)
	require.NoError(t, err)
	sub.Deadline = time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.Create(ctx, sub))

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionFailed, st.State)
	require.Equal(t, "timeout", st.Reason)
}

func TestLoopbackRoundTrip(t *testing.T) {
	lb := NewLoopback(4, 6)
	g := New(lb, newMemStore(), time.Minute, 100, 10)
	ctx := context.Background()

	handle, err := g.Submit(ctx, "The essay begins here. More text follows.", Meta{ChunkID: "chunk-1", AttemptNumber: 1})
	require.NoError(t, err)

	st, err := g.Poll(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionCompleted, st.State)
	require.Contains(t, string(st.Similarity), "Overall Similarity Index: 4%")
	require.Contains(t, string(st.AI), "AI Writing Detected: 6%")
}
