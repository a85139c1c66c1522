// Package store provides storage backends for tutorbot.
//
// This file implements a PostgreSQL-backed attribute store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/stephenadei/tutorbot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresAttrQueries = attrQueries{
	selectContact: `SELECT key, value FROM contact_attrs WHERE contact_id = $1`,
	upsertContact: `INSERT INTO contact_attrs (contact_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (contact_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	deleteContact: `DELETE FROM contact_attrs WHERE contact_id = $1 AND key = $2`,
	selectConv:    `SELECT key, value FROM conv_attrs WHERE conversation_id = $1`,
	upsertConv: `INSERT INTO conv_attrs (conversation_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	deleteConv:   `DELETE FROM conv_attrs WHERE conversation_id = $1 AND key = $2`,
	selectLabels: `SELECT label FROM conv_labels WHERE conversation_id = $1 ORDER BY label`,
	insertLabel:  `INSERT INTO conv_labels (conversation_id, label, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
	deleteLabel:  `DELETE FROM conv_labels WHERE conversation_id = $1 AND label = $2`,
}

// PostgresStore persists attributes, labels, dedup records, the outbox and jobs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks.
var (
	_ Store               = (*PostgresStore)(nil)
	_ PersistenceProvider = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetContactAttrs(ctx context.Context, contactID string) (models.Attrs, error) {
	return loadAttrs(ctx, s.db, postgresAttrQueries.selectContact, contactID)
}

func (s *PostgresStore) SetContactAttrs(ctx context.Context, contactID string, attrs models.Attrs) error {
	if err := models.ValidateContactAttrs(attrs); err != nil {
		return err
	}
	err := saveAttrs(ctx, s.db, postgresAttrQueries.upsertContact, postgresAttrQueries.deleteContact, contactID, attrs)
	if err != nil {
		slog.Error("PostgresStore.SetContactAttrs failed", "error", err, "contactID", contactID)
		return err
	}
	slog.Debug("PostgresStore.SetContactAttrs succeeded", "contactID", contactID, "keys", attrs.Keys())
	return nil
}

func (s *PostgresStore) GetConvAttrs(ctx context.Context, conversationID string) (models.Attrs, error) {
	return loadAttrs(ctx, s.db, postgresAttrQueries.selectConv, conversationID)
}

func (s *PostgresStore) SetConvAttrs(ctx context.Context, conversationID string, attrs models.Attrs) error {
	if err := models.ValidateConvAttrs(attrs); err != nil {
		return err
	}
	err := saveAttrs(ctx, s.db, postgresAttrQueries.upsertConv, postgresAttrQueries.deleteConv, conversationID, attrs)
	if err != nil {
		slog.Error("PostgresStore.SetConvAttrs failed", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("PostgresStore.SetConvAttrs succeeded", "conversationID", conversationID, "keys", attrs.Keys())
	return nil
}

func (s *PostgresStore) GetConvLabels(ctx context.Context, conversationID string) ([]string, error) {
	return loadLabels(ctx, s.db, postgresAttrQueries.selectLabels, conversationID)
}

func (s *PostgresStore) AddConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return execLabels(ctx, s.db, postgresAttrQueries.insertLabel, conversationID, normalizeLabels(labels), true)
}

func (s *PostgresStore) RemoveConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return execLabels(ctx, s.db, postgresAttrQueries.deleteLabel, conversationID, labels, false)
}

// DedupRepo returns the store's inbound dedup repository.
func (s *PostgresStore) DedupRepo() DedupRepo { return s }

// OutboxRepo returns the store's outbox repository.
func (s *PostgresStore) OutboxRepo() OutboxRepo { return s }

// JobRepo returns the store's job repository.
func (s *PostgresStore) JobRepo() JobRepo { return s }

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
