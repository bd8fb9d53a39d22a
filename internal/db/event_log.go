package db

import (
	"context"
	"time"
)

const insertIntentLogSQL = `
	INSERT INTO intent_log (kind, topology, epoch, reason, dropped, created_at)
	VALUES (:kind, :topology, :epoch, :reason, :dropped, :created_at)
`

const insertDecisionLogSQL = `
	INSERT INTO decision_log (step, topology_before, action, epsilon, switch_attempted, switch_committed, epoch, features, created_at)
	VALUES (:step, :topology_before, :action, :epsilon, :switch_attempted, :switch_committed, :epoch, :features, :created_at)
`

// SaveIntentLogEntry inserts an append-only intent_log row. The insert is
// bound against IntentLogEntry's `db:"..."` struct tags via sqlx.Named,
// letting JSONB.Value handle the Dropped column's JSON encoding.
func (c *Client) SaveIntentLogEntry(ctx context.Context, e *IntentLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query, args, err := c.sqlx.BindNamed(insertIntentLogSQL, e)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, query, args...)
	return err
}

// SaveDecisionRecord inserts one controller decision for offline
// bandit-weight training mirroring (§12).
func (c *Client) SaveDecisionRecord(ctx context.Context, r *DecisionRecordRow) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query, args, err := c.sqlx.BindNamed(insertDecisionLogSQL, r)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, query, args...)
	return err
}

// RecentIntentLogEntries returns the most recent intent_log rows, newest
// first, scanned directly into IntentLogEntry via sqlx's struct tags.
func (c *Client) RecentIntentLogEntries(ctx context.Context, limit int) ([]IntentLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []IntentLogEntry
	err := c.sqlx.SelectContext(ctx, &out, `
		SELECT id, kind, topology, epoch, reason, dropped, created_at
		FROM intent_log ORDER BY id DESC LIMIT ?
	`, limit)
	return out, err
}
