package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"redraft/internal/models"

	"github.com/jackc/pgx/v5"
)

// AlertRepo is a durable queue of escalation alerts. Alerts survive
// process restarts and are consumed by an admin-facing drain.
type AlertRepo struct {
	db *DB
}

func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) Push(ctx context.Context, a models.AdminAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO admin_alerts (alert_id, payload, enqueued_at)
VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (alert_id) DO NOTHING`, a.AlertID, string(payload))
	if err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest alert, nil when the queue is
// empty. SKIP LOCKED keeps concurrent drains from double-delivering.
func (r *AlertRepo) Pop(ctx context.Context) (*models.AdminAlert, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `
DELETE FROM admin_alerts
WHERE alert_id = (
  SELECT alert_id FROM admin_alerts
  ORDER BY enqueued_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING payload`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop alert: %w", err)
	}
	var a models.AdminAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	return &a, nil
}

func (r *AlertRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM admin_alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
