package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// attrQueries holds the dialect-specific statements shared by the SQL backends.
type attrQueries struct {
	selectContact, upsertContact, deleteContact string
	selectConv, upsertConv, deleteConv          string
	selectLabels, insertLabel, deleteLabel      string
}

func loadAttrs(ctx context.Context, db *sql.DB, query, id string) (models.Attrs, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query attributes for %s: %w", id, err)
	}
	defer rows.Close()

	attrs := models.Attrs{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute row: %w", err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute rows: %w", err)
	}
	return attrs, nil
}

// saveAttrs applies all changes in one transaction; empty values delete the key.
func saveAttrs(ctx context.Context, db *sql.DB, upsert, del, id string, attrs models.Attrs) error {
	if len(attrs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attribute tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, k := range attrs.Keys() {
		v := attrs[k]
		if v == "" {
			_, err = tx.ExecContext(ctx, del, id, k)
		} else {
			_, err = tx.ExecContext(ctx, upsert, id, k, v, now)
		}
		if err != nil {
			return fmt.Errorf("write attribute %s for %s: %w", k, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attribute tx: %w", err)
	}
	return nil
}

func loadLabels(ctx context.Context, db *sql.DB, query, conversationID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query labels for %s: %w", conversationID, err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func execLabels(ctx context.Context, db *sql.DB, query, conversationID string, labels []string, withTime bool) error {
	now := time.Now().UTC()
	for _, l := range labels {
		var err error
		if withTime {
			_, err = db.ExecContext(ctx, query, conversationID, l, now)
		} else {
			_, err = db.ExecContext(ctx, query, conversationID, l)
		}
		if err != nil {
			return fmt.Errorf("update label %s for %s: %w", l, conversationID, err)
		}
	}
	return nil
}
