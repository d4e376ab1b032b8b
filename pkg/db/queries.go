package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// InsertEventSQL is the statement used to journal one event. Batched writers
// pass EventArgs as its arguments.
const InsertEventSQL = `INSERT OR IGNORE INTO events (id, event, campaign_id, inst_id, payload, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`

// EventArgs returns the InsertEventSQL arguments for r.
func EventArgs(r EventRecord) []any {
	return []any{r.ID, r.Event, r.CampaignID, r.InstID, string(r.Payload), r.CreatedAt.UnixMilli()}
}

// Queries groups journal reads and writes.
type Queries struct {
	db *sql.DB
}

// InsertEvent writes a single record.
func (q *Queries) InsertEvent(ctx context.Context, r EventRecord) error {
	if _, err := q.db.ExecContext(ctx, InsertEventSQL, EventArgs(r)...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first.
func (q *Queries) ListEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.CampaignID != "" {
		where = append(where, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if f.Event != "" {
		where = append(where, "event = ?")
		args = append(args, f.Event)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at_ms >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	query := `SELECT id, event, campaign_id, inst_id, payload, created_at_ms FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ms DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r       EventRecord
			payload string
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.Event, &r.CampaignID, &r.InstID, &payload, &ms); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Payload = []byte(payload)
		r.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountEvents returns how many events are journaled for campaignID, or in
// total when campaignID is empty.
func (q *Queries) CountEvents(ctx context.Context, campaignID string) (int, error) {
	query := `SELECT COUNT(*) FROM events`
	var args []any
	if campaignID != "" {
		query += ` WHERE campaign_id = ?`
		args = append(args, campaignID)
	}
	var n int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
