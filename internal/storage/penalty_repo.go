package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redraft/internal/models"

	"github.com/jackc/pgx/v5"
)

type PenaltyRepo struct {
	db *DB
}

func NewPenaltyRepo(db *DB) *PenaltyRepo {
	return &PenaltyRepo{db: db}
}

// AddPoint records one expired-claim penalty. Hitting the threshold
// suspends the claimant and resets the counter, so repeat offenses
// after a suspension start from zero.
func (r *PenaltyRepo) AddPoint(ctx context.Context, claimantID string, threshold int, suspendFor time.Duration) (models.PenaltyState, bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.PenaltyState{}, false, fmt.Errorf("begin penalty tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s := models.PenaltyState{ClaimantID: claimantID}
	err = tx.QueryRow(ctx, `
INSERT INTO checker_penalties (claimant_id, points, updated_at)
VALUES ($1, 1, NOW())
ON CONFLICT (claimant_id) DO UPDATE SET
  points = checker_penalties.points + 1, updated_at = NOW()
RETURNING points, suspended_until`, claimantID,
	).Scan(&s.Points, &s.SuspendedUntil)
	if err != nil {
		return models.PenaltyState{}, false, fmt.Errorf("add penalty point: %w", err)
	}

	suspended := false
	if s.Points >= threshold {
		until := time.Now().UTC().Add(suspendFor)
		_, err = tx.Exec(ctx, `
UPDATE checker_penalties SET points=0, suspended_until=$2, updated_at=NOW()
WHERE claimant_id=$1`, claimantID, until)
		if err != nil {
			return models.PenaltyState{}, false, fmt.Errorf("apply suspension: %w", err)
		}
		s.Points = 0
		s.SuspendedUntil = &until
		suspended = true
	}

	if err := tx.Commit(ctx); err != nil {
		return models.PenaltyState{}, false, fmt.Errorf("commit penalty tx: %w", err)
	}
	return s, suspended, nil
}

// Get returns the penalty state for a claimant, zero-valued when none
// has been recorded yet.
func (r *PenaltyRepo) Get(ctx context.Context, claimantID string) (models.PenaltyState, error) {
	s := models.PenaltyState{ClaimantID: claimantID}
	err := r.db.Pool.QueryRow(ctx, `
SELECT points, suspended_until FROM checker_penalties WHERE claimant_id=$1`, claimantID,
	).Scan(&s.Points, &s.SuspendedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return models.PenaltyState{}, fmt.Errorf("get penalty state: %w", err)
	}
	return s, nil
}

// IsSuspended reports whether the claimant is currently barred from
// taking new claims.
func (r *PenaltyRepo) IsSuspended(ctx context.Context, claimantID string) (bool, error) {
	s, err := r.Get(ctx, claimantID)
	if err != nil {
		return false, err
	}
	return s.SuspendedUntil != nil && s.SuspendedUntil.After(time.Now().UTC()), nil
}
