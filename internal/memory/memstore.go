package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DayOf truncates a timestamp to day precision in UTC. FirstObserved and
// LastConfirmed are stored at this precision.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// tripleKey is the composite write identity of a record.
type tripleKey struct {
	subject string
	layer   Layer
	key     string
}

// InMemoryStore is a mutex-guarded Store for tests and dev mode.
//
// Every mutation happens under one lock, which trivially satisfies the
// atomicity contract: concurrent merges into the same triple serialize and
// lose no evidence increments.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	byTriple map[tripleKey]string
	closed   bool
	failErr  error
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string]*Record),
		byTriple: make(map[tripleKey]string),
	}
}

// SetUnavailable makes every subsequent operation fail with err until called
// again with nil. Tests use it to exercise store-outage paths.
func (s *InMemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// usable reports the store's availability under an already-held lock.
func (s *InMemoryStore) usable() error {
	if s.closed {
		return ErrStoreClosed
	}
	return s.failErr
}

// Upsert atomically creates or merges a record for the triple.
func (s *InMemoryStore) Upsert(ctx context.Context, params UpsertParams) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, false, err
	}

	triple := tripleKey{params.SubjectID, params.Layer, params.Key}
	if id, ok := s.byTriple[triple]; ok {
		rec := s.records[id]
		rec.Content = cloneContent(params.Content)
		rec.Confidence = params.Confidence
		rec.EvidenceCount++
		rec.LastUpdated = params.Now
		if params.ExpiresAt != nil {
			t := *params.ExpiresAt
			rec.ExpiresAt = &t
		}
		return rec.Clone(), false, nil
	}

	rec := &Record{
		ID:            uuid.New().String(),
		SubjectID:     params.SubjectID,
		Layer:         params.Layer,
		Key:           params.Key,
		Content:       cloneContent(params.Content),
		Status:        params.CreateStatus,
		Confidence:    params.Confidence,
		EvidenceCount: 1,
		FirstObserved: DayOf(params.Now),
		LastUpdated:   params.Now,
	}
	if params.ExpiresAt != nil {
		t := *params.ExpiresAt
		rec.ExpiresAt = &t
	}

	s.records[rec.ID] = rec
	s.byTriple[triple] = rec.ID
	return rec.Clone(), true, nil
}

// Get returns a record by ID.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return rec.Clone(), nil
}

// List returns matching records ordered by LastUpdated descending.
func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	var out []*Record
	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ApplyTransition conditionally mutates one record under the guard.
func (s *InMemoryStore) ApplyTransition(ctx context.Context, id string, guard TransitionGuard, set TransitionSet) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrStoreNotFound
	}

	if rec.Layer != guard.Layer || rec.Status != guard.Status {
		return nil, ErrStateConflict
	}
	if guard.Confidence != "" && rec.Confidence != guard.Confidence {
		return nil, ErrStateConflict
	}
	if !guard.UpdatedBefore.IsZero() && !rec.LastUpdated.Before(guard.UpdatedBefore) {
		return nil, ErrStateConflict
	}

	if set.Layer != "" {
		rec.Layer = set.Layer
	}
	if set.Status != "" {
		rec.Status = set.Status
	}
	if set.Confidence != "" {
		rec.Confidence = set.Confidence
	}
	if set.ClearExpiry {
		rec.ExpiresAt = nil
	}
	if set.LastConfirmed != nil {
		t := *set.LastConfirmed
		rec.LastConfirmed = &t
	}
	rec.LastUpdated = set.Now

	return rec.Clone(), nil
}

// SweepExpired marks overdue active ephemeral records expired.
func (s *InMemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return 0, err
	}

	var changed int64
	for _, rec := range s.records {
		if rec.Layer != LayerEphemeral || rec.Status != StatusActive {
			continue
		}
		if rec.ExpiresAt == nil || !rec.ExpiresAt.Before(now) {
			continue
		}
		rec.Status = StatusExpired
		rec.LastUpdated = now
		changed++
	}
	return changed, nil
}

// ListSubjects returns the distinct subject IDs, sorted.
func (s *InMemoryStore) ListSubjects(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, rec := range s.records {
		seen[rec.SubjectID] = struct{}{}
	}
	subjects := make([]string, 0, len(seen))
	for id := range seen {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// Ping reports availability.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable()
}

// Close marks the store closed. Idempotent.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*InMemoryStore)(nil)

// matchesFilter applies the conjunctive list filters to one record.
func matchesFilter(rec *Record, filter ListFilter) bool {
	if filter.SubjectID != "" && rec.SubjectID != filter.SubjectID {
		return false
	}
	if filter.Layer != "" && rec.Layer != filter.Layer {
		return false
	}
	if len(filter.Statuses) > 0 {
		ok := false
		for _, st := range filter.Statuses {
			if rec.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.KeySubstring != "" && !strings.Contains(rec.Key, filter.KeySubstring) {
		return false
	}
	if filter.MinConfidence != "" && !rec.Confidence.AtLeast(filter.MinConfidence) {
		return false
	}
	if !filter.UpdatedBefore.IsZero() && !rec.LastUpdated.Before(filter.UpdatedBefore) {
		return false
	}
	return true
}

func cloneContent(content map[string]any) map[string]any {
	if content == nil {
		return nil
	}
	out := make(map[string]any, len(content))
	for k, v := range content {
		out[k] = v
	}
	return out
}
