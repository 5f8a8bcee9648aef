package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/jackc/pgx/v5"
)

type CycleRepo struct {
	db *DB
}

func NewCycleRepo(db *DB) *CycleRepo {
	return &CycleRepo{db: db}
}

// Create inserts a new cycle for the chunk. A live (non-terminal) cycle
// for the same chunk wins: the insert is rejected and Create returns
// false. A terminal prior cycle is replaced in place.
func (r *CycleRepo) Create(ctx context.Context, c models.RewriteCycle) (bool, error) {
	attempts, err := json.Marshal(c.Attempts)
	if err != nil {
		return false, fmt.Errorf("marshal attempts: %w", err)
	}
	if c.Attempts == nil {
		attempts = []byte("[]")
	}
	var chunkID string
	err = r.db.Pool.QueryRow(ctx, `
INSERT INTO rewrite_cycles
  (chunk_id, lot_id, stage, outcome, original_content, latest_content, attempts,
   similarity_max, ai_max, escalated, started_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, FALSE, NOW(), $10)
ON CONFLICT (chunk_id)
DO UPDATE SET
  lot_id = EXCLUDED.lot_id,
  stage = EXCLUDED.stage,
  outcome = EXCLUDED.outcome,
  original_content = EXCLUDED.original_content,
  latest_content = EXCLUDED.latest_content,
  attempts = EXCLUDED.attempts,
  similarity_max = EXCLUDED.similarity_max,
  ai_max = EXCLUDED.ai_max,
  submission_handle = NULL,
  escalated = FALSE,
  started_at = NOW(),
  completed_at = NULL,
  expires_at = EXCLUDED.expires_at,
  updated_at = NOW()
WHERE rewrite_cycles.stage IN ('completed', 'failed_exhausted', 'escalated')
RETURNING chunk_id`,
		c.ChunkID, c.LotID, string(c.Stage), string(c.Outcome), c.OriginalContent,
		c.LatestContent, string(attempts), c.SimilarityMax, c.AIMax, c.ExpiresAt,
	).Scan(&chunkID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create cycle: %w", err)
	}
	return true, nil
}

func (r *CycleRepo) Get(ctx context.Context, chunkID string) (models.RewriteCycle, error) {
	var c models.RewriteCycle
	var attempts []byte
	var stage, outcome string
	err := r.db.Pool.QueryRow(ctx, `
SELECT chunk_id, lot_id, stage, outcome, original_content, latest_content, attempts,
       similarity_max, ai_max, COALESCE(submission_handle,''), escalated,
       started_at, completed_at, expires_at
FROM rewrite_cycles
WHERE chunk_id=$1`, chunkID).Scan(
		&c.ChunkID, &c.LotID, &stage, &outcome, &c.OriginalContent, &c.LatestContent,
		&attempts, &c.SimilarityMax, &c.AIMax, &c.SubmissionHandle, &c.Escalated,
		&c.StartedAt, &c.CompletedAt, &c.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RewriteCycle{}, util.ErrNotFound
	}
	if err != nil {
		return models.RewriteCycle{}, fmt.Errorf("get cycle: %w", err)
	}
	c.Stage = models.CycleStage(stage)
	c.Outcome = models.CycleOutcome(outcome)
	if err := json.Unmarshal(attempts, &c.Attempts); err != nil {
		return models.RewriteCycle{}, fmt.Errorf("decode attempts: %w", err)
	}
	return c, nil
}

// SetStage persists a stage transition. An empty handle leaves the
// stored submission handle untouched so a resumed cycle can re-poll it.
func (r *CycleRepo) SetStage(ctx context.Context, chunkID string, stage models.CycleStage, handle string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE rewrite_cycles
SET stage=$2, submission_handle=COALESCE(NULLIF($3,''), submission_handle), updated_at=NOW()
WHERE chunk_id=$1`, chunkID, string(stage), handle)
	if err != nil {
		return fmt.Errorf("set cycle stage: %w", err)
	}
	return nil
}

func (r *CycleRepo) AppendAttempt(ctx context.Context, chunkID string, a models.RewriteAttempt) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE rewrite_cycles
SET attempts = attempts || $2::jsonb, updated_at=NOW()
WHERE chunk_id=$1`, chunkID, string(b))
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

func (r *CycleRepo) SetLatestContent(ctx context.Context, chunkID, content string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE rewrite_cycles SET latest_content=$2, updated_at=NOW() WHERE chunk_id=$1`, chunkID, content)
	if err != nil {
		return fmt.Errorf("set latest content: %w", err)
	}
	return nil
}

func (r *CycleRepo) Complete(ctx context.Context, chunkID string, stage models.CycleStage, outcome models.CycleOutcome, finalContent string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE rewrite_cycles
SET stage=$2, outcome=$3,
    latest_content=CASE WHEN $4 <> '' THEN $4 ELSE latest_content END,
    completed_at=NOW(), updated_at=NOW()
WHERE chunk_id=$1`, chunkID, string(stage), string(outcome), finalContent)
	if err != nil {
		return fmt.Errorf("complete cycle: %w", err)
	}
	return nil
}

// MarkEscalated flips the escalation flag once. Returns true only for
// the call that won, so the admin alert is enqueued exactly once.
func (r *CycleRepo) MarkEscalated(ctx context.Context, chunkID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE rewrite_cycles SET escalated=TRUE, updated_at=NOW()
WHERE chunk_id=$1 AND escalated=FALSE`, chunkID)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes terminal cycles past their retention deadline.
func (r *CycleRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
DELETE FROM rewrite_cycles
WHERE expires_at < NOW() AND stage IN ('completed', 'failed_exhausted', 'escalated')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired cycles: %w", err)
	}
	return tag.RowsAffected(), nil
}
