package storage

import (
	"context"
	"errors"
	"fmt"

	"redraft/internal/models"
	"redraft/internal/util"

	"github.com/jackc/pgx/v5"
)

type WorkItemRepo struct {
	db *DB
}

func NewWorkItemRepo(db *DB) *WorkItemRepo {
	return &WorkItemRepo{db: db}
}

func (r *WorkItemRepo) Upsert(ctx context.Context, item models.WorkItem) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO work_items (chunk_id, lot_id, status, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  lot_id = CASE WHEN EXCLUDED.lot_id <> '' THEN EXCLUDED.lot_id ELSE work_items.lot_id END,
  status = EXCLUDED.status, updated_at = NOW()`,
		item.ChunkID, item.LotID, string(item.Status))
	if err != nil {
		return fmt.Errorf("upsert work item: %w", err)
	}
	return nil
}

func (r *WorkItemRepo) SetStatus(ctx context.Context, chunkID string, status models.WorkItemStatus) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE work_items SET status=$2, updated_at=NOW() WHERE chunk_id=$1`,
		chunkID, string(status))
	if err != nil {
		return fmt.Errorf("set work item status: %w", err)
	}
	return nil
}

func (r *WorkItemRepo) Get(ctx context.Context, chunkID string) (models.WorkItem, error) {
	var w models.WorkItem
	var status string
	var claimant *string
	err := r.db.Pool.QueryRow(ctx, `
SELECT chunk_id, lot_id, status, claimant_id, claim_deadline, updated_at
FROM work_items WHERE chunk_id=$1`, chunkID,
	).Scan(&w.ChunkID, &w.LotID, &status, &claimant, &w.ClaimDeadline, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, util.ErrNotFound
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("get work item: %w", err)
	}
	w.Status = models.WorkItemStatus(status)
	if claimant != nil {
		w.ClaimantID = *claimant
	}
	return w, nil
}

func (r *WorkItemRepo) ListByStatus(ctx context.Context, status models.WorkItemStatus) ([]models.WorkItem, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, lot_id, status, claimant_id, claim_deadline, updated_at
FROM work_items WHERE status=$1
ORDER BY updated_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var out []models.WorkItem
	for rows.Next() {
		var w models.WorkItem
		var st string
		var claimant *string
		if err := rows.Scan(&w.ChunkID, &w.LotID, &st, &claimant, &w.ClaimDeadline, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		w.Status = models.WorkItemStatus(st)
		if claimant != nil {
			w.ClaimantID = *claimant
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return out, nil
}
