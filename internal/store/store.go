// Package store provides storage backends for tutorbot.
//
// It defines the AttributeStore consumed by the dialogue engine (contact and
// conversation attributes plus conversation labels) and the durable repos for
// inbound dedup, the outbound message outbox and background jobs. Backends are
// SQLite, PostgreSQL and an in-memory store for tests and single-process runs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// DefaultDedupRetention bounds how long processed message ids are remembered.
const DefaultDedupRetention = 7 * 24 * time.Hour

// AttributeStore reads and writes persistent key-value attributes scoped to a
// contact and to a conversation. Writes are idempotent upserts; an empty value
// clears the key. Implementations reject keys outside the allow-lists in
// models with models.ErrUnknownAttribute.
type AttributeStore interface {
	GetContactAttrs(ctx context.Context, contactID string) (models.Attrs, error)
	SetContactAttrs(ctx context.Context, contactID string, attrs models.Attrs) error
	GetConvAttrs(ctx context.Context, conversationID string) (models.Attrs, error)
	SetConvAttrs(ctx context.Context, conversationID string, attrs models.Attrs) error
	GetConvLabels(ctx context.Context, conversationID string) ([]string, error)
	AddConvLabels(ctx context.Context, conversationID string, labels []string) error
	RemoveConvLabels(ctx context.Context, conversationID string, labels []string) error
}

// Store is a closable attribute store backed by this package.
type Store interface {
	AttributeStore
	DedupRepo() DedupRepo
	Close() error
}

// PersistenceProvider is implemented by database-backed stores that can also
// host the outbox and the job queue.
type PersistenceProvider interface {
	JobRepo() JobRepo
	OutboxRepo() OutboxRepo
	DedupRepo() DedupRepo
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN            string
	DedupRetention time.Duration
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDedupRetention sets how long the in-memory store remembers message ids.
func WithDedupRetention(d time.Duration) Option {
	return func(o *Opts) { o.DedupRetention = d }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open builds the backend matching the DSN. An empty DSN yields an in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(opts...), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

func normalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
