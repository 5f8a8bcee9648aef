package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/jackc/pgx/v5"
)

type ClaimRepo struct {
	db *DB
}

func NewClaimRepo(db *DB) *ClaimRepo {
	return &ClaimRepo{db: db}
}

// Start takes the claim lock on a chunk. An active claim held by a
// different claimant rejects the call with ErrClaimConflict; the same
// claimant re-claiming restarts the window. Completed or expired claims
// are replaced. The work item moves to checking under the same
// transaction so the board and the lock never disagree.
func (r *ClaimRepo) Start(ctx context.Context, chunkID, claimantID string, window time.Duration) (models.Claim, error) {
	now := time.Now().UTC()
	expires := now.Add(window)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.Claim{}, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var c models.Claim
	var status string
	err = tx.QueryRow(ctx, `
INSERT INTO claims (chunk_id, claimant_id, claimed_at, expires_at, warned, status)
VALUES ($1, $2, $3, $4, FALSE, 'active')
ON CONFLICT (chunk_id) DO UPDATE SET
  claimant_id = EXCLUDED.claimant_id,
  claimed_at = EXCLUDED.claimed_at,
  expires_at = EXCLUDED.expires_at,
  warned = FALSE,
  status = 'active'
WHERE claims.status <> 'active' OR claims.claimant_id = EXCLUDED.claimant_id
RETURNING chunk_id, claimant_id, claimed_at, expires_at, warned, status`,
		chunkID, claimantID, now, expires,
	).Scan(&c.ChunkID, &c.ClaimantID, &c.ClaimedAt, &c.ExpiresAt, &c.Warned, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Claim{}, util.ErrClaimConflict
	}
	if err != nil {
		return models.Claim{}, fmt.Errorf("start claim: %w", err)
	}
	c.Status = models.ClaimStatus(status)

	_, err = tx.Exec(ctx, `
INSERT INTO work_items (chunk_id, lot_id, status, claimant_id, claim_deadline, updated_at)
VALUES ($1, '', 'checking', $2, $3, NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  status = 'checking', claimant_id = $2, claim_deadline = $3, updated_at = NOW()`,
		chunkID, claimantID, expires)
	if err != nil {
		return models.Claim{}, fmt.Errorf("mark work item checking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Claim{}, fmt.Errorf("commit claim tx: %w", err)
	}
	return c, nil
}

// Complete closes an active claim held by the given claimant. Returns
// false when the claim already expired or belongs to someone else, so a
// late completion never claws back a released chunk.
func (r *ClaimRepo) Complete(ctx context.Context, chunkID, claimantID string) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE claims SET status='completed'
WHERE chunk_id=$1 AND claimant_id=$2 AND status='active'`, chunkID, claimantID)
	if err != nil {
		return false, fmt.Errorf("complete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
UPDATE work_items SET status='submitted', claim_deadline=NULL, updated_at=NOW()
WHERE chunk_id=$1`, chunkID)
	if err != nil {
		return false, fmt.Errorf("mark work item submitted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit complete tx: %w", err)
	}
	return true, nil
}

// Expire releases an abandoned claim and returns the chunk to the open
// pool. Returns the expired claim and true only for the caller that won
// the transition; concurrent timers and reconcile sweeps lose quietly.
func (r *ClaimRepo) Expire(ctx context.Context, chunkID string) (models.Claim, bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.Claim{}, false, fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var c models.Claim
	var status string
	err = tx.QueryRow(ctx, `
UPDATE claims SET status='expired'
WHERE chunk_id=$1 AND status='active'
RETURNING chunk_id, claimant_id, claimed_at, expires_at, warned, status`,
		chunkID,
	).Scan(&c.ChunkID, &c.ClaimantID, &c.ClaimedAt, &c.ExpiresAt, &c.Warned, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Claim{}, false, nil
	}
	if err != nil {
		return models.Claim{}, false, fmt.Errorf("expire claim: %w", err)
	}
	c.Status = models.ClaimStatus(status)

	_, err = tx.Exec(ctx, `
UPDATE work_items SET status='open', claimant_id=NULL, claim_deadline=NULL, updated_at=NOW()
WHERE chunk_id=$1`, chunkID)
	if err != nil {
		return models.Claim{}, false, fmt.Errorf("release work item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Claim{}, false, fmt.Errorf("commit expire tx: %w", err)
	}
	return c, true, nil
}

// MarkWarned records that the approaching-deadline warning went out.
// Returns true once per claim window.
func (r *ClaimRepo) MarkWarned(ctx context.Context, chunkID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE claims SET warned=TRUE
WHERE chunk_id=$1 AND status='active' AND warned=FALSE`, chunkID)
	if err != nil {
		return false, fmt.Errorf("mark claim warned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ClaimRepo) Get(ctx context.Context, chunkID string) (models.Claim, error) {
	var c models.Claim
	var status string
	err := r.db.Pool.QueryRow(ctx, `
SELECT chunk_id, claimant_id, claimed_at, expires_at, warned, status
FROM claims WHERE chunk_id=$1`, chunkID,
	).Scan(&c.ChunkID, &c.ClaimantID, &c.ClaimedAt, &c.ExpiresAt, &c.Warned, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Claim{}, util.ErrNotFound
	}
	if err != nil {
		return models.Claim{}, fmt.Errorf("get claim: %w", err)
	}
	c.Status = models.ClaimStatus(status)
	return c, nil
}

// ListActive returns every active claim, oldest deadline first. The
// reconcile sweep uses this to find timers lost to a process crash.
func (r *ClaimRepo) ListActive(ctx context.Context) ([]models.Claim, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, claimant_id, claimed_at, expires_at, warned, status
FROM claims WHERE status='active'
ORDER BY expires_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active claims: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

func (r *ClaimRepo) ListActiveByClaimant(ctx context.Context, claimantID string) ([]models.Claim, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, claimant_id, claimed_at, expires_at, warned, status
FROM claims WHERE status='active' AND claimant_id=$1
ORDER BY expires_at ASC`, claimantID)
	if err != nil {
		return nil, fmt.Errorf("list claims for %s: %w", claimantID, err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

func scanClaims(rows pgx.Rows) ([]models.Claim, error) {
	var out []models.Claim
	for rows.Next() {
		var c models.Claim
		var status string
		if err := rows.Scan(&c.ChunkID, &c.ClaimantID, &c.ClaimedAt, &c.ExpiresAt, &c.Warned, &status); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Status = models.ClaimStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return out, nil
}
