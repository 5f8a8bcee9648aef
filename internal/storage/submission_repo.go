package storage

import (
	"context"
	"errors"
	"fmt"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/jackc/pgx/v5"
)

// SubmissionRepo backs the gateway's SubmissionStore with Postgres so
// artifact slots survive worker restarts mid-poll.
type SubmissionRepo struct {
	db *DB
}

func NewSubmissionRepo(db *DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

func (r *SubmissionRepo) Create(ctx context.Context, sub models.Submission) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO submissions (handle, chunk_id, filename, submitted_at, deadline, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (handle) DO NOTHING`,
		sub.Handle, sub.ChunkID, sub.Filename, sub.SubmittedAt, sub.Deadline, string(sub.Status))
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepo) Get(ctx context.Context, handle string) (models.Submission, error) {
	var s models.Submission
	var status string
	err := r.db.Pool.QueryRow(ctx, `
SELECT handle, chunk_id, filename, submitted_at, deadline, status,
       COALESCE(similarity_artifact, ''::bytea), COALESCE(similarity_msg_id, ''),
       COALESCE(ai_artifact, ''::bytea), COALESCE(ai_msg_id, '')
FROM submissions WHERE handle=$1`, handle,
	).Scan(&s.Handle, &s.ChunkID, &s.Filename, &s.SubmittedAt, &s.Deadline, &status,
		&s.SimilarityArtifact, &s.SimilarityMsgID, &s.AIArtifact, &s.AIMsgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Submission{}, util.ErrNotFound
	}
	if err != nil {
		return models.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	s.Status = models.SubmissionState(status)
	return s, nil
}

// AttachArtifact fills one artifact slot if it is still empty. The
// first delivery wins; replays return false without touching the slot.
func (r *SubmissionRepo) AttachArtifact(ctx context.Context, handle string, kind models.ReportKind, msgID string, artifact []byte) (bool, error) {
	var query string
	switch kind {
	case models.ReportSimilarity:
		query = `
UPDATE submissions SET similarity_artifact=$2, similarity_msg_id=$3
WHERE handle=$1 AND similarity_artifact IS NULL`
	case models.ReportAIDetection:
		query = `
UPDATE submissions SET ai_artifact=$2, ai_msg_id=$3
WHERE handle=$1 AND ai_artifact IS NULL`
	default:
		return false, fmt.Errorf("attach artifact: unknown report kind %q", kind)
	}
	tag, err := r.db.Pool.Exec(ctx, query, handle, artifact, msgID)
	if err != nil {
		return false, fmt.Errorf("attach %s artifact: %w", kind, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE handle=$1)`, handle).Scan(&exists); err != nil {
		return false, fmt.Errorf("check submission %s: %w", handle, err)
	}
	if !exists {
		return false, util.ErrNotFound
	}
	return false, nil
}

func (r *SubmissionRepo) MarkStatus(ctx context.Context, handle string, from, to models.SubmissionState) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE submissions SET status=$3 WHERE handle=$1 AND status=$2`,
		handle, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("mark submission %s: %w", to, err)
	}
	return tag.RowsAffected() == 1, nil
}
