package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	outboxColumns = `id, conversation_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`
	jobColumns    = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`
)

// nilIfEmpty maps "" to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j                        Job
		payload, lastErr, dedupe sql.NullString
		lockedAt                 sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.Kind, &j.RunAt, &payload, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastErr, &lockedAt, &dedupe, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	j.PayloadJSON, j.LastError, j.DedupeKey = payload.String, lastErr.String, dedupe.String
	j.LockedAt = timePtr(lockedAt)
	return j, nil
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var (
		m                        OutboxMessage
		payload, dedupe, lastErr sql.NullString
		nextAttempt, lockedAt    sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Kind, &payload, &m.Status, &m.Attempts,
		&nextAttempt, &dedupe, &lockedAt, &lastErr, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return OutboxMessage{}, err
	}
	m.PayloadJSON, m.DedupeKey, m.LastError = payload.String, dedupe.String, lastErr.String
	m.NextAttemptAt = timePtr(nextAttempt)
	m.LockedAt = timePtr(lockedAt)
	return m, nil
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, what string, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s failed: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iteration failed: %w", what, err)
	}
	return out, nil
}

func collectOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	return collect(rows, "outbox message", scanOutboxMessage)
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	return collect(rows, "job", scanJob)
}
