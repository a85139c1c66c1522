package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stephenadei/tutorbot/internal/models"
)

// InMemoryStore keeps attributes and labels in process memory. Dedup records
// live in a go-cache whose expiry implements the retention window.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]models.Attrs
	convs    map[string]models.Attrs
	labels   map[string]map[string]bool

	seen *cache.Cache
}

// Compile-time checks.
var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	retention := cfg.DedupRetention
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	slog.Debug("NewInMemoryStore: created", "dedupRetention", retention)
	return &InMemoryStore{
		contacts: make(map[string]models.Attrs),
		convs:    make(map[string]models.Attrs),
		labels:   make(map[string]map[string]bool),
		seen:     cache.New(retention, retention/4),
	}
}

func (s *InMemoryStore) GetContactAttrs(_ context.Context, contactID string) (models.Attrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contacts[contactID].Clone(), nil
}

func (s *InMemoryStore) SetContactAttrs(_ context.Context, contactID string, attrs models.Attrs) error {
	if err := models.ValidateContactAttrs(attrs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contactID] = upsert(s.contacts[contactID], attrs)
	return nil
}

func (s *InMemoryStore) GetConvAttrs(_ context.Context, conversationID string) (models.Attrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convs[conversationID].Clone(), nil
}

func (s *InMemoryStore) SetConvAttrs(_ context.Context, conversationID string, attrs models.Attrs) error {
	if err := models.ValidateConvAttrs(attrs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conversationID] = upsert(s.convs[conversationID], attrs)
	return nil
}

func upsert(current, changes models.Attrs) models.Attrs {
	if current == nil {
		current = models.Attrs{}
	}
	for k, v := range changes {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return current
}

func (s *InMemoryStore) GetConvLabels(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.labels[conversationID]))
	for l := range s.labels[conversationID] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) AddConvLabels(_ context.Context, conversationID string, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.labels[conversationID]
	if set == nil {
		set = make(map[string]bool)
		s.labels[conversationID] = set
	}
	for _, l := range normalizeLabels(labels) {
		set[l] = true
	}
	return nil
}

func (s *InMemoryStore) RemoveConvLabels(_ context.Context, conversationID string, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range labels {
		delete(s.labels[conversationID], l)
	}
	return nil
}

// DedupRepo returns the store itself.
func (s *InMemoryStore) DedupRepo() DedupRepo { return s }

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	_, found := s.seen.Get(messageID)
	return found, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, conversationID string) (bool, error) {
	// Add fails when the key is already present and not expired.
	if err := s.seen.Add(messageID, DedupRecord{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReceivedAt:     time.Now(),
	}, cache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) ReleaseInbound(_ context.Context, messageID string) error {
	s.seen.Delete(messageID)
	return nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	v, expiry, found := s.seen.GetWithExpiration(messageID)
	if !found {
		return nil
	}
	rec := v.(DedupRecord)
	now := time.Now()
	rec.ProcessedAt = &now
	ttl := time.Until(expiry)
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	s.seen.Set(messageID, rec, ttl)
	return nil
}

func (s *InMemoryStore) PurgeInboundBefore(_ context.Context, before time.Time) (int, error) {
	n := 0
	for id, item := range s.seen.Items() {
		rec, ok := item.Object.(DedupRecord)
		if ok && rec.ReceivedAt.Before(before) {
			s.seen.Delete(id)
			n++
		}
	}
	s.seen.DeleteExpired()
	return n, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
