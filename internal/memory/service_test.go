package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable time source for TTL and decay time travel.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureSink records events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []string
	sweeps map[string]int64
}

func newCaptureSink() *captureSink {
	return &captureSink{sweeps: make(map[string]int64)}
}

func (c *captureSink) RecordChanged(ctx context.Context, event string, rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) SweepCompleted(ctx context.Context, sweep string, changed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps[sweep] += changed
}

func (c *captureSink) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

var testStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (Service, *InMemoryStore, *testClock) {
	t.Helper()

	store := NewInMemoryStore()
	clock := newTestClock(testStart)
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	svc, err := NewService(nil, store, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return svc, store, clock
}

func observe(subject, key string) *WriteRequest {
	return &WriteRequest{
		SubjectID: subject,
		Layer:     LayerEphemeral,
		Key:       key,
		Content:   map[string]any{"observation": "asked for a hint"},
	}
}

func hypothesize(subject, key string) *WriteRequest {
	return &WriteRequest{
		SubjectID:  subject,
		Layer:      LayerHypothesis,
		Key:        key,
		Content:    map[string]any{"theory": "prefers worked examples"},
		Confidence: ConfidenceHigh,
	}
}

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()

	assert.Equal(t, 10, cfg.DefaultTTLDays)
	assert.Equal(t, 30, cfg.DecayAfterDays)
	assert.Equal(t, 5, cfg.SummaryRecentLimit)
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestService_Write_CreatesEphemeral(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Write(context.Background(), observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	assert.Equal(t, LayerEphemeral, rec.Layer)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, ConfidenceLow, rec.Confidence)
	assert.Equal(t, 1, rec.EvidenceCount)
	assert.Equal(t, DayOf(testStart), rec.FirstObserved)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(testStart.Add(10*24*time.Hour)))
}

func TestService_Write_CreatesHypothesisSuspected(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Write(context.Background(), hypothesize("learner-1", "prefers-examples"))
	require.NoError(t, err)

	assert.Equal(t, LayerHypothesis, rec.Layer)
	assert.Equal(t, StatusSuspected, rec.Status)
	assert.Equal(t, ConfidenceHigh, rec.Confidence)
	assert.Nil(t, rec.ExpiresAt)
}

func TestService_Write_StableCreatesActive(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Write(context.Background(), &WriteRequest{
		SubjectID:  "learner-1",
		Layer:      LayerStable,
		Key:        "visual-learner",
		Content:    map[string]any{"trait": "diagrams stick"},
		Confidence: ConfidenceHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, LayerStable, rec.Layer)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Nil(t, rec.ExpiresAt)
}

func TestService_Write_SequentialMerges(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	var last *Record
	for i := 0; i < 5; i++ {
		var err error
		last, err = svc.Write(ctx, observe("learner-1", "prefers-hints"))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	assert.Equal(t, 5, last.EvidenceCount)

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_Write_ConcurrentMerges(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, writers, records[0].EvidenceCount)
}

func TestService_Write_SlidingTTL(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	// Rewrite on day 8: expiry slides to day 18.
	clock.Advance(8 * 24 * time.Hour)
	rec, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(testStart.Add(18*24*time.Hour)))

	// Day 11 would have expired the original write; the refresh saved it.
	clock.Advance(3 * 24 * time.Hour)
	changed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusActive, records[0].Status)
}

func TestService_Write_CustomTTL(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := observe("learner-1", "prefers-hints")
	req.TTLDays = 3
	rec, err := svc.Write(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(testStart.Add(3*24*time.Hour)))
}

func TestService_Write_MergeIntoTerminalKeepsStatus(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	// Let it expire and sweep it.
	clock.Advance(11 * 24 * time.Hour)
	changed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), changed)

	// Merging into the expired record succeeds but does not revive it.
	merged, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, merged.ID)
	assert.Equal(t, StatusExpired, merged.Status)
	assert.Equal(t, 2, merged.EvidenceCount)
}

func TestService_Write_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Write(ctx, &WriteRequest{Layer: LayerEphemeral, Key: "k", Content: map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrEmptySubjectID)
}

func TestService_Write_StoreUnavailable(t *testing.T) {
	svc, store, _ := newTestService(t)

	store.SetUnavailable(errors.New("disk gone"))
	_, err := svc.Write(context.Background(), observe("learner-1", "k"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_Read_DefaultsToActive(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	clock.Advance(11 * 24 * time.Hour)
	_, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1"})
	require.NoError(t, err)
	assert.Empty(t, records)

	// Terminal records are visible when asked for explicitly.
	records, err = svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusExpired}})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_Read_ConjunctiveFilters(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.Write(ctx, observe("learner-1", "skips-reading"))
	require.NoError(t, err)

	// Key substring within one layer, suspected status, confidence floor.
	records, err := svc.Read(ctx, &Query{
		SubjectID:     "learner-1",
		Layer:         LayerHypothesis,
		Statuses:      []Status{StatusSuspected},
		KeyPattern:    "hint",
		MinConfidence: ConfidenceMedium,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hint-dependence", records[0].Key)

	// Same filters with a higher floor than the record carries: nothing.
	records, err = svc.Read(ctx, &Query{
		SubjectID:     "learner-1",
		KeyPattern:    "hint",
		Statuses:      []Status{StatusActive, StatusSuspected},
		MinConfidence: ConfidenceHigh,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, LayerHypothesis, records[0].Layer)
}

func TestService_Read_OrderedByLastUpdated(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, observe("learner-1", "first"))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = svc.Write(ctx, observe("learner-1", "second"))
	require.NoError(t, err)
	clock.Advance(time.Hour)

	// Re-touching the oldest moves it to the front.
	_, err = svc.Write(ctx, observe("learner-1", "first"))
	require.NoError(t, err)

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Key)
	assert.Equal(t, "second", records[1].Key)
}

func TestService_Promote_Ladder(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)

	// Hop one: ephemeral/active -> hypothesis/suspected.
	clock.Advance(time.Hour)
	hyp, err := svc.Promote(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerHypothesis, hyp.Layer)
	assert.Equal(t, StatusSuspected, hyp.Status)
	assert.Nil(t, hyp.ExpiresAt)
	require.NotNil(t, hyp.LastConfirmed)
	assert.Equal(t, DayOf(clock.Now()), *hyp.LastConfirmed)

	// Hop two: hypothesis/suspected -> stable/active.
	clock.Advance(time.Hour)
	stable, err := svc.Promote(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerStable, stable.Layer)
	assert.Equal(t, StatusActive, stable.Status)

	// Same ID all the way up; promotion happens in place.
	assert.Equal(t, rec.ID, stable.ID)
	assert.Equal(t, rec.EvidenceCount, stable.EvidenceCount)
}

func TestService_Promote_StableIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, &WriteRequest{
		SubjectID: "learner-1",
		Layer:     LayerStable,
		Key:       "visual-learner",
		Content:   map[string]any{"trait": "diagrams stick"},
	})
	require.NoError(t, err)

	before := rec.LastUpdated
	again, err := svc.Promote(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, LayerStable, again.Layer)
	assert.Equal(t, StatusActive, again.Status)
	assert.True(t, again.LastUpdated.Equal(before))
}

func TestService_Promote_IllegalStates(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	clock.Advance(11 * 24 * time.Hour)
	_, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)

	// Expired ephemeral records are off the ladder.
	_, err = svc.Promote(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Rejected hypotheses are off the ladder too.
	hyp, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	_, err = svc.ValidateHypothesis(ctx, hyp.ID, OutcomeRejected)
	require.NoError(t, err)
	_, err = svc.Promote(ctx, hyp.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestService_Promote_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Promote(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestService_ValidateHypothesis_Validated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	updated, err := svc.ValidateHypothesis(ctx, rec.ID, OutcomeValidated)
	require.NoError(t, err)
	assert.Equal(t, LayerStable, updated.Layer)
	assert.Equal(t, StatusActive, updated.Status)
	require.NotNil(t, updated.LastConfirmed)
}

func TestService_ValidateHypothesis_Rejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	updated, err := svc.ValidateHypothesis(ctx, rec.ID, OutcomeRejected)
	require.NoError(t, err)
	// Resolved in place: layer untouched, no hard delete.
	assert.Equal(t, LayerHypothesis, updated.Layer)
	assert.Equal(t, StatusResolved, updated.Status)

	// Rejecting again is a no-op success.
	again, err := svc.ValidateHypothesis(ctx, rec.ID, OutcomeRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, again.Status)
}

func TestService_ValidateHypothesis_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ValidateHypothesis(ctx, "missing", OutcomeValidated)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	rec, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	_, err = svc.ValidateHypothesis(ctx, rec.ID, Outcome("maybe"))
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	// Ephemeral records cannot be validated.
	eph, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	_, err = svc.ValidateHypothesis(ctx, eph.ID, OutcomeValidated)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Validating an already-rejected hypothesis is illegal.
	_, err = svc.ValidateHypothesis(ctx, rec.ID, OutcomeRejected)
	require.NoError(t, err)
	_, err = svc.ValidateHypothesis(ctx, rec.ID, OutcomeValidated)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestService_Decay_Ladder(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	require.Equal(t, ConfidenceHigh, rec.Confidence)

	// Day 31: high -> medium.
	clock.Advance(31 * 24 * time.Hour)
	changed, err := svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusSuspected}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ConfidenceMedium, records[0].Confidence)

	// Day 62: medium -> low.
	clock.Advance(31 * 24 * time.Hour)
	changed, err = svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	// Day 93: low -> resolved.
	clock.Advance(31 * 24 * time.Hour)
	changed, err = svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	records, err = svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusResolved}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, LayerHypothesis, records[0].Layer)

	// Nothing left to decay.
	clock.Advance(31 * 24 * time.Hour)
	changed, err = svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestService_Decay_Scope(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// An ephemeral and a stable record, both old.
	_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	_, err = svc.Write(ctx, &WriteRequest{
		SubjectID:  "learner-1",
		Layer:      LayerStable,
		Key:        "visual-learner",
		Content:    map[string]any{"trait": "diagrams stick"},
		Confidence: ConfidenceHigh,
	})
	require.NoError(t, err)

	// A fresh hypothesis, written just inside the window.
	clock.Advance(29 * 24 * time.Hour)
	_, err = svc.Write(ctx, hypothesize("learner-1", "fresh-theory"))
	require.NoError(t, err)

	clock.Advance(2 * 24 * time.Hour)
	changed, err := svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	got, err := svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusActive, StatusSuspected}})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestService_Decay_RefreshReArmsWindow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	// Day 20: a merge refreshes LastUpdated.
	clock.Advance(20 * 24 * time.Hour)
	_, err = svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	// Day 31 from first write is only day 11 from the refresh.
	clock.Advance(11 * 24 * time.Hour)
	changed, err := svc.Decay(ctx, "learner-1")
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestService_Decay_RequiresSubject(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Decay(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySubjectID)
}

func TestService_CleanupExpired_AllSubjects(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	_, err = svc.Write(ctx, observe("learner-2", "skips-reading"))
	require.NoError(t, err)
	_, err = svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)

	clock.Advance(11 * 24 * time.Hour)
	changed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	// Idempotent.
	changed, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	// The hypothesis is untouched.
	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusSuspected}})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_Summarize(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// Seven ephemerals; only the five most recent make the summary.
	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"}
	for _, key := range keys {
		_, err := svc.Write(ctx, observe("learner-1", key))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	_, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = svc.Write(ctx, &WriteRequest{
		SubjectID:  "learner-1",
		Layer:      LayerStable,
		Key:        "visual-learner",
		Content:    map[string]any{"trait": "diagrams stick"},
		Confidence: ConfidenceHigh,
	})
	require.NoError(t, err)

	summary, err := svc.Summarize(ctx, "learner-1")
	require.NoError(t, err)

	assert.Equal(t, "learner-1", summary.SubjectID)
	require.Len(t, summary.StablePatterns, 1)
	assert.Equal(t, "visual-learner", summary.StablePatterns[0].Key)
	require.Len(t, summary.ActiveHypotheses, 1)
	assert.Equal(t, "hint-dependence", summary.ActiveHypotheses[0].Key)

	require.Len(t, summary.RecentObservations, 5)
	assert.Equal(t, "k7", summary.RecentObservations[0].Key)
	assert.Equal(t, "k3", summary.RecentObservations[4].Key)

	// Stats cover the full live set, not the truncated five.
	assert.Equal(t, 9, summary.Stats.Total)
	assert.Equal(t, 7, summary.Stats.Ephemeral)
	assert.Equal(t, 1, summary.Stats.Hypothesis)
	assert.Equal(t, 1, summary.Stats.Stable)
}

func TestService_Summarize_ExcludesSettledRecords(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	hyp, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	_, err = svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)

	_, err = svc.ValidateHypothesis(ctx, hyp.ID, OutcomeRejected)
	require.NoError(t, err)

	clock.Advance(11 * 24 * time.Hour)
	_, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)

	summary, err := svc.Summarize(ctx, "learner-1")
	require.NoError(t, err)

	assert.Empty(t, summary.ActiveHypotheses)
	assert.Empty(t, summary.RecentObservations)
	assert.Zero(t, summary.Stats.Total)

	// The rejected hypothesis still exists, soft-resolved.
	records, err := svc.Read(ctx, &Query{SubjectID: "learner-1", Statuses: []Status{StatusResolved}})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_Summarize_EmptySubject(t *testing.T) {
	svc, _, _ := newTestService(t)

	summary, err := svc.Summarize(context.Background(), "learner-unknown")
	require.NoError(t, err)

	assert.NotNil(t, summary.StablePatterns)
	assert.Empty(t, summary.StablePatterns)
	assert.Zero(t, summary.Stats.Total)

	_, err = svc.Summarize(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySubjectID)
}

func TestService_PublishesEvents(t *testing.T) {
	sink := newCaptureSink()
	svc, _, clock := newTestService(t, WithEventSink(sink))
	ctx := context.Background()

	rec, err := svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	_, err = svc.Write(ctx, observe("learner-1", "prefers-hints"))
	require.NoError(t, err)
	_, err = svc.Promote(ctx, rec.ID)
	require.NoError(t, err)

	hyp, err := svc.Write(ctx, hypothesize("learner-1", "hint-dependence"))
	require.NoError(t, err)
	_, err = svc.ValidateHypothesis(ctx, hyp.ID, OutcomeRejected)
	require.NoError(t, err)

	// An observation that outlives nothing: it expires in the sweep below.
	_, err = svc.Write(ctx, observe("learner-1", "skips-reading"))
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	_, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)

	events := sink.recorded()
	assert.Equal(t, []string{
		EventCreated,
		EventMerged,
		EventPromoted,
		EventCreated,
		EventValidated,
		EventResolved,
		EventCreated,
	}, events)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, int64(1), sink.sweeps[SweepExpired])
}

func TestService_Close(t *testing.T) {
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.Write(context.Background(), observe("learner-1", "k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service is closed")
}
