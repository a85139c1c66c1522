// Package store provides storage backends for tutorbot.
//
// This file implements an SQLite-backed attribute store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stephenadei/tutorbot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteAttrQueries = attrQueries{
	selectContact: `SELECT key, value FROM contact_attrs WHERE contact_id = ?`,
	upsertContact: `INSERT INTO contact_attrs (contact_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (contact_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	deleteContact: `DELETE FROM contact_attrs WHERE contact_id = ? AND key = ?`,
	selectConv:    `SELECT key, value FROM conv_attrs WHERE conversation_id = ?`,
	upsertConv: `INSERT INTO conv_attrs (conversation_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	deleteConv:   `DELETE FROM conv_attrs WHERE conversation_id = ? AND key = ?`,
	selectLabels: `SELECT label FROM conv_labels WHERE conversation_id = ? ORDER BY label`,
	insertLabel:  `INSERT OR IGNORE INTO conv_labels (conversation_id, label, created_at) VALUES (?, ?, ?)`,
	deleteLabel:  `DELETE FROM conv_labels WHERE conversation_id = ? AND label = ?`,
}

// SQLiteStore persists attributes, labels, dedup records, the outbox and jobs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time checks.
var (
	_ Store               = (*SQLiteStore)(nil)
	_ PersistenceProvider = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := dsn
	if !strings.Contains(dsn, "?") {
		connStr += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer avoids SQLITE_BUSY between the webhook, outbox and job loops.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetContactAttrs(ctx context.Context, contactID string) (models.Attrs, error) {
	return loadAttrs(ctx, s.db, sqliteAttrQueries.selectContact, contactID)
}

func (s *SQLiteStore) SetContactAttrs(ctx context.Context, contactID string, attrs models.Attrs) error {
	if err := models.ValidateContactAttrs(attrs); err != nil {
		return err
	}
	err := saveAttrs(ctx, s.db, sqliteAttrQueries.upsertContact, sqliteAttrQueries.deleteContact, contactID, attrs)
	if err != nil {
		slog.Error("SQLiteStore.SetContactAttrs failed", "error", err, "contactID", contactID)
		return err
	}
	slog.Debug("SQLiteStore.SetContactAttrs succeeded", "contactID", contactID, "keys", attrs.Keys())
	return nil
}

func (s *SQLiteStore) GetConvAttrs(ctx context.Context, conversationID string) (models.Attrs, error) {
	return loadAttrs(ctx, s.db, sqliteAttrQueries.selectConv, conversationID)
}

func (s *SQLiteStore) SetConvAttrs(ctx context.Context, conversationID string, attrs models.Attrs) error {
	if err := models.ValidateConvAttrs(attrs); err != nil {
		return err
	}
	err := saveAttrs(ctx, s.db, sqliteAttrQueries.upsertConv, sqliteAttrQueries.deleteConv, conversationID, attrs)
	if err != nil {
		slog.Error("SQLiteStore.SetConvAttrs failed", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("SQLiteStore.SetConvAttrs succeeded", "conversationID", conversationID, "keys", attrs.Keys())
	return nil
}

func (s *SQLiteStore) GetConvLabels(ctx context.Context, conversationID string) ([]string, error) {
	return loadLabels(ctx, s.db, sqliteAttrQueries.selectLabels, conversationID)
}

func (s *SQLiteStore) AddConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return execLabels(ctx, s.db, sqliteAttrQueries.insertLabel, conversationID, normalizeLabels(labels), true)
}

func (s *SQLiteStore) RemoveConvLabels(ctx context.Context, conversationID string, labels []string) error {
	return execLabels(ctx, s.db, sqliteAttrQueries.deleteLabel, conversationID, labels, false)
}

// DedupRepo returns the store's inbound dedup repository.
func (s *SQLiteStore) DedupRepo() DedupRepo { return s }

// OutboxRepo returns the store's outbox repository.
func (s *SQLiteStore) OutboxRepo() OutboxRepo { return s }

// JobRepo returns the store's job repository.
func (s *SQLiteStore) JobRepo() JobRepo { return s }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
