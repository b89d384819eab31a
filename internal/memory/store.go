package memory

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for record store operations.
var (
	// ErrStoreNotFound is returned when no record exists for an ID.
	ErrStoreNotFound = errors.New("record not found in store")

	// ErrStateConflict is returned by ApplyTransition when the record no
	// longer matches the guard. The caller decides whether to re-read and
	// retry (promotion) or skip the record this pass (sweeps).
	ErrStateConflict = errors.New("record state changed concurrently")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("record store is closed")
)

// UpsertParams describes one atomic create-or-merge.
//
// The store resolves the (SubjectID, Layer, Key) triple itself: if no record
// exists it creates one with EvidenceCount 1 and CreateStatus, otherwise it
// merges in a single atomic operation that overwrites content and confidence,
// increments the evidence count by exactly one, and refreshes LastUpdated
// (and ExpiresAt when set). Callers never read-modify-write.
type UpsertParams struct {
	SubjectID string
	Layer     Layer
	Key       string
	Content   map[string]any

	// Confidence replaces the stored grade on merge and seeds it on create.
	Confidence Confidence

	// CreateStatus is the status a freshly created record gets. Merges
	// leave the stored status untouched, terminal or not.
	CreateStatus Status

	// Now becomes LastUpdated, and FirstObserved on create.
	Now time.Time

	// ExpiresAt is written on create AND on merge (the ephemeral sliding
	// window). Nil leaves any stored expiry untouched.
	ExpiresAt *time.Time
}

// ListFilter selects records. Zero values mean "no filter".
type ListFilter struct {
	// SubjectID restricts to one subject. Empty matches all subjects
	// (used by sweeps only).
	SubjectID string

	// Layer restricts to one tier.
	Layer Layer

	// Statuses restricts to the listed statuses. Empty matches all.
	Statuses []Status

	// KeySubstring keeps records whose key contains the substring
	// (case-sensitive).
	KeySubstring string

	// MinConfidence keeps records at or above the grade.
	MinConfidence Confidence

	// UpdatedBefore keeps records whose LastUpdated is strictly older.
	UpdatedBefore time.Time

	// Limit caps the result count. Zero means no cap.
	Limit int
}

// TransitionGuard is the expected prior state of a conditional update.
// A transition only applies while every set field still matches.
type TransitionGuard struct {
	Layer  Layer
	Status Status

	// Confidence, when set, must also match (decay uses this so a
	// concurrent re-observation at a new grade wins over the sweep).
	Confidence Confidence

	// UpdatedBefore, when set, requires LastUpdated to be strictly older
	// (decay uses this so a refreshed record escapes the current pass).
	UpdatedBefore time.Time
}

// TransitionSet is the mutation a successful transition applies. Zero-value
// fields are left unchanged; Now always becomes the new LastUpdated.
type TransitionSet struct {
	Layer      Layer
	Status     Status
	Confidence Confidence

	// ClearExpiry removes the TTL deadline (promotion out of ephemeral).
	ClearExpiry bool

	// LastConfirmed, when non-nil, replaces the stored confirmation day.
	LastConfirmed *time.Time

	Now time.Time
}

// Store is the record persistence contract.
//
// The service is stateless, so the store is the only shared state and every
// mutation here must be atomic on its own: Upsert is a single
// create-or-merge, ApplyTransition is a single conditional update keyed by
// ID and guard, and SweepExpired flips each overdue row independently. Under
// that contract, concurrent writers merging into one triple lose no evidence
// increments and sweeps are safe to run alongside writes.
//
// Implementations:
//   - InMemoryStore: mutex-guarded maps (tests, dev mode)
//   - recordstore.SQLiteStore: embedded SQLite (production default)
type Store interface {
	// Upsert atomically creates or merges a record for the
	// (subject, layer, key) triple and returns the stored result.
	// The boolean is true when a new record was created.
	Upsert(ctx context.Context, params UpsertParams) (*Record, bool, error)

	// Get returns a record by ID, or ErrStoreNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns records matching the filter, ordered by LastUpdated
	// descending (ties broken by ID for determinism).
	List(ctx context.Context, filter ListFilter) ([]*Record, error)

	// ApplyTransition conditionally mutates one record: the set applies
	// only while the guard still matches. Returns the updated record,
	// ErrStoreNotFound for an unknown ID, or ErrStateConflict when the
	// record exists but no longer matches the guard.
	ApplyTransition(ctx context.Context, id string, guard TransitionGuard, set TransitionSet) (*Record, error)

	// SweepExpired marks every active ephemeral record with an expiry
	// before now as expired, across all subjects, and returns the number
	// of records changed. Idempotent.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// ListSubjects returns the distinct subject IDs present in the store.
	ListSubjects(ctx context.Context) ([]string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
