package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/memory"

// promoteRetries bounds how often a promotion re-reads a record after losing
// a guard race to a concurrent writer.
const promoteRetries = 3

// Service provides the tiered memory engine operations.
type Service interface {
	// Write records an observation, creating or merging a record.
	Write(ctx context.Context, req *WriteRequest) (*Record, error)

	// Read retrieves records matching the query, most recent first.
	Read(ctx context.Context, q *Query) ([]*Record, error)

	// Promote moves a record one tier up.
	Promote(ctx context.Context, id string) (*Record, error)

	// ValidateHypothesis settles a hypothesis as validated or rejected.
	ValidateHypothesis(ctx context.Context, id string, outcome Outcome) (*Record, error)

	// Decay ages out stale hypotheses for one subject.
	Decay(ctx context.Context, subjectID string) (int64, error)

	// CleanupExpired marks overdue ephemeral records expired, all subjects.
	CleanupExpired(ctx context.Context) (int64, error)

	// Summarize builds the layered snapshot for one subject.
	Summarize(ctx context.Context, subjectID string) (*Summary, error)

	// Close closes the service.
	Close() error
}

// Config configures the memory engine.
type Config struct {
	// DefaultTTLDays is the sliding expiry window applied to ephemeral
	// writes that do not set their own (default: 10).
	DefaultTTLDays int

	// DecayAfterDays is how long a suspected hypothesis may sit untouched
	// before a decay sweep ages it one step (default: 30).
	DecayAfterDays int

	// SummaryRecentLimit caps recent observations in a summary (default: 5).
	SummaryRecentLimit int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		DefaultTTLDays:     10,
		DecayAfterDays:     30,
		SummaryRecentLimit: 5,
	}
}

// Option customizes service construction.
type Option func(*service)

// WithClock overrides the time source. Tests use it to drive TTL and decay
// windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventSink attaches a change-notification sink.
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.events = sink
	}
}

// service implements the Service interface.
type service struct {
	config *Config
	store  Store
	logger *zap.Logger
	events EventSink
	now    func() time.Time

	// Telemetry
	tracer          trace.Tracer
	meter           metric.Meter
	writeCounter    metric.Int64Counter
	promoteCounter  metric.Int64Counter
	validateCounter metric.Int64Counter
	sweepCounter    metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new memory engine service.
func NewService(cfg *Config, store Store, logger *zap.Logger, opts ...Option) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolved := *cfg
	if resolved.DefaultTTLDays <= 0 {
		resolved.DefaultTTLDays = 10
	}
	if resolved.DecayAfterDays <= 0 {
		resolved.DecayAfterDays = 30
	}
	if resolved.SummaryRecentLimit <= 0 {
		resolved.SummaryRecentLimit = 5
	}

	s := &service{
		config: &resolved,
		store:  store,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.writeCounter, err = s.meter.Int64Counter(
		"memoryd.memory.writes_total",
		metric.WithDescription("Total number of observations written"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		s.logger.Warn("failed to create write counter", zap.Error(err))
	}

	s.promoteCounter, err = s.meter.Int64Counter(
		"memoryd.memory.promotions_total",
		metric.WithDescription("Total number of tier promotions"),
		metric.WithUnit("{promotion}"),
	)
	if err != nil {
		s.logger.Warn("failed to create promote counter", zap.Error(err))
	}

	s.validateCounter, err = s.meter.Int64Counter(
		"memoryd.memory.validations_total",
		metric.WithDescription("Total number of hypothesis validations"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create validate counter", zap.Error(err))
	}

	s.sweepCounter, err = s.meter.Int64Counter(
		"memoryd.memory.sweep_changes_total",
		metric.WithDescription("Total number of records changed by sweeps"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create sweep counter", zap.Error(err))
	}
}

// Write records an observation, creating or merging a record.
func (s *service) Write(ctx context.Context, req *WriteRequest) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.write")
	defer span.End()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if req == nil {
		return nil, fmt.Errorf("%w: nil write request", ErrValidation)
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("subject_id", req.SubjectID),
		attribute.String("layer", string(req.Layer)),
		attribute.String("key", req.Key),
	)

	now := s.now()
	params := UpsertParams{
		SubjectID:    req.SubjectID,
		Layer:        req.Layer,
		Key:          req.Key,
		Content:      req.Content,
		Confidence:   req.Confidence,
		CreateStatus: initialStatus(req.Layer),
		Now:          now,
	}
	if req.Layer == LayerEphemeral {
		ttl := req.TTLDays
		if ttl == 0 {
			ttl = s.config.DefaultTTLDays
		}
		exp := now.Add(time.Duration(ttl) * 24 * time.Hour)
		params.ExpiresAt = &exp
	}

	rec, created, err := s.store.Upsert(ctx, params)
	if err != nil {
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to write record: %w", err)
	}

	event := EventMerged
	if created {
		event = EventCreated
	}
	s.publish(ctx, event, rec)

	if s.writeCounter != nil {
		s.writeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("layer", string(rec.Layer)),
			attribute.Bool("created", created),
		))
	}

	s.logger.Info("recorded observation",
		zap.String("id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.String("layer", string(rec.Layer)),
		zap.Bool("created", created),
		zap.Int("evidence_count", rec.EvidenceCount),
	)

	span.SetAttributes(
		attribute.String("record_id", rec.ID),
		attribute.Bool("created", created),
	)
	return rec, nil
}

// Read retrieves records matching the query, most recent first. Read never
// mutates anything, including expiry: an overdue record stays visible until
// a cleanup sweep marks it.
func (s *service) Read(ctx context.Context, q *Query) ([]*Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.read")
	defer span.End()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrValidation)
	}
	if err := q.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("subject_id", q.SubjectID),
		attribute.String("layer", string(q.Layer)),
		attribute.String("key_pattern", q.KeyPattern),
	)

	records, err := s.store.List(ctx, ListFilter{
		SubjectID:     q.SubjectID,
		Layer:         q.Layer,
		Statuses:      q.Statuses,
		KeySubstring:  q.KeyPattern,
		MinConfidence: q.MinConfidence,
	})
	if err != nil {
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(records)))
	return records, nil
}

// Promote moves a record one tier up. Promoting an active stable record is
// an idempotent no-op; every other state outside the ladder is illegal.
func (s *service) Promote(ctx context.Context, id string) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.promote")
	defer span.End()

	span.SetAttributes(attribute.String("record_id", id))

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", ErrValidation)
	}

	for attempt := 0; attempt < promoteRetries; attempt++ {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrStoreNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
			}
			err = asUnavailable(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to load record: %w", err)
		}

		if rec.Layer == LayerStable && rec.Status == StatusActive {
			span.SetAttributes(attribute.Bool("noop", true))
			return rec, nil
		}

		toLayer, toStatus, ok := promotionTarget(rec.Layer, rec.Status)
		if !ok {
			err := fmt.Errorf("%w: cannot promote %s/%s record", ErrIllegalTransition, rec.Layer, rec.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		confirmed := DayOf(s.now())
		set := TransitionSet{
			Layer:         toLayer,
			Status:        toStatus,
			LastConfirmed: &confirmed,
			Now:           s.now(),
		}
		if rec.Layer == LayerEphemeral {
			set.ClearExpiry = true
		}

		updated, err := s.store.ApplyTransition(ctx, id, TransitionGuard{Layer: rec.Layer, Status: rec.Status}, set)
		if errors.Is(err, ErrStateConflict) {
			// Lost the race; re-read and re-evaluate.
			continue
		}
		if err != nil {
			if errors.Is(err, ErrStoreNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
			}
			err = asUnavailable(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to promote record: %w", err)
		}

		s.publish(ctx, EventPromoted, updated)

		if s.promoteCounter != nil {
			s.promoteCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from_layer", string(rec.Layer)),
				attribute.String("to_layer", string(updated.Layer)),
			))
		}

		s.logger.Info("promoted record",
			zap.String("id", updated.ID),
			zap.String("subject_id", updated.SubjectID),
			zap.String("from_layer", string(rec.Layer)),
			zap.String("to_layer", string(updated.Layer)),
		)

		span.SetAttributes(attribute.String("to_layer", string(updated.Layer)))
		return updated, nil
	}

	err := fmt.Errorf("promote record %s: %w", id, ErrStateConflict)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// ValidateHypothesis settles a hypothesis. A validated outcome promotes the
// record to stable; a rejected outcome resolves it in place. Rejecting an
// already-resolved hypothesis succeeds without changing anything.
func (s *service) ValidateHypothesis(ctx context.Context, id string, outcome Outcome) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.validate")
	defer span.End()

	span.SetAttributes(
		attribute.String("record_id", id),
		attribute.String("outcome", string(outcome)),
	)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", ErrValidation)
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load record: %w", err)
	}

	if rec.Layer != LayerHypothesis {
		err := fmt.Errorf("%w: cannot validate %s record", ErrIllegalTransition, rec.Layer)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	switch outcome {
	case OutcomeValidated:
		if rec.Status != StatusSuspected {
			err := fmt.Errorf("%w: cannot validate %s hypothesis", ErrIllegalTransition, rec.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		updated, err := s.Promote(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		s.publish(ctx, EventValidated, updated)
		s.recordValidation(ctx, outcome)
		s.logger.Info("validated hypothesis",
			zap.String("id", updated.ID),
			zap.String("subject_id", updated.SubjectID),
			zap.String("outcome", string(outcome)),
		)
		return updated, nil

	case OutcomeRejected:
		if rec.Status == StatusResolved {
			// Already settled; rejecting again is a no-op.
			span.SetAttributes(attribute.Bool("noop", true))
			return rec, nil
		}
		if rec.Status != StatusSuspected {
			err := fmt.Errorf("%w: cannot reject %s hypothesis", ErrIllegalTransition, rec.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		confirmed := DayOf(s.now())
		updated, err := s.store.ApplyTransition(ctx, id,
			TransitionGuard{Layer: rec.Layer, Status: rec.Status},
			TransitionSet{Status: StatusResolved, LastConfirmed: &confirmed, Now: s.now()},
		)
		if err != nil {
			if errors.Is(err, ErrStoreNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
			}
			if errors.Is(err, ErrStateConflict) {
				err = fmt.Errorf("reject record %s: %w", id, ErrStateConflict)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			err = asUnavailable(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to reject record: %w", err)
		}

		s.publish(ctx, EventValidated, updated)
		s.publish(ctx, EventResolved, updated)
		s.recordValidation(ctx, outcome)
		s.logger.Info("rejected hypothesis",
			zap.String("id", updated.ID),
			zap.String("subject_id", updated.SubjectID),
			zap.String("outcome", string(outcome)),
		)
		return updated, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
}

// Decay ages out stale hypotheses for one subject. Each call moves a stale
// suspected hypothesis one confidence step down, or resolves it when already
// at low. Touching the record re-arms its staleness window.
func (s *service) Decay(ctx context.Context, subjectID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "memory.decay")
	defer span.End()

	span.SetAttributes(attribute.String("subject_id", subjectID))

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if subjectID == "" {
		return 0, ErrEmptySubjectID
	}

	now := s.now()
	cutoff := now.Add(-time.Duration(s.config.DecayAfterDays) * 24 * time.Hour)

	stale, err := s.store.List(ctx, ListFilter{
		SubjectID:     subjectID,
		Layer:         LayerHypothesis,
		Statuses:      []Status{StatusSuspected},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to list stale hypotheses: %w", err)
	}

	var changed int64
	for _, rec := range stale {
		guard := TransitionGuard{
			Layer:         LayerHypothesis,
			Status:        StatusSuspected,
			Confidence:    rec.Confidence,
			UpdatedBefore: cutoff,
		}

		var set TransitionSet
		next, ok := rec.Confidence.StepDown()
		if ok {
			set = TransitionSet{Confidence: next, Now: now}
		} else {
			set = TransitionSet{Status: StatusResolved, Now: now}
		}

		updated, err := s.store.ApplyTransition(ctx, rec.ID, guard, set)
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrStoreNotFound) {
			// A concurrent write refreshed or settled the record; that
			// re-arms its window, so skip it this cycle.
			continue
		}
		if err != nil {
			err = asUnavailable(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return changed, fmt.Errorf("failed to decay record %s: %w", rec.ID, err)
		}

		changed++
		if !ok {
			s.publish(ctx, EventResolved, updated)
		}
	}

	if s.sweepCounter != nil && changed > 0 {
		s.sweepCounter.Add(ctx, changed, metric.WithAttributes(
			attribute.String("sweep", SweepDecay),
		))
	}
	s.publishSweep(ctx, SweepDecay, changed)

	if changed > 0 {
		s.logger.Info("decayed stale hypotheses",
			zap.String("subject_id", subjectID),
			zap.Int64("changed", changed),
		)
	}

	span.SetAttributes(attribute.Int64("changed", changed))
	return changed, nil
}

// CleanupExpired marks overdue active ephemeral records expired across all
// subjects. Safe to run repeatedly.
func (s *service) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "memory.cleanup_expired")
	defer span.End()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, errors.New("service is closed")
	}
	s.mu.RUnlock()

	changed, err := s.store.SweepExpired(ctx, s.now())
	if err != nil {
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to sweep expired records: %w", err)
	}

	if s.sweepCounter != nil && changed > 0 {
		s.sweepCounter.Add(ctx, changed, metric.WithAttributes(
			attribute.String("sweep", SweepExpired),
		))
	}
	s.publishSweep(ctx, SweepExpired, changed)

	if changed > 0 {
		s.logger.Info("expired ephemeral records", zap.Int64("changed", changed))
	}

	span.SetAttributes(attribute.Int64("changed", changed))
	return changed, nil
}

// Summarize builds the layered snapshot for one subject from its live
// records. Resolved and expired records never appear.
func (s *service) Summarize(ctx context.Context, subjectID string) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "memory.summarize")
	defer span.End()

	span.SetAttributes(attribute.String("subject_id", subjectID))

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if subjectID == "" {
		return nil, ErrEmptySubjectID
	}

	live, err := s.store.List(ctx, ListFilter{
		SubjectID: subjectID,
		Statuses:  []Status{StatusActive, StatusSuspected},
	})
	if err != nil {
		err = asUnavailable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to summarize subject: %w", err)
	}

	summary := &Summary{
		SubjectID:          subjectID,
		StablePatterns:     make([]*Record, 0),
		ActiveHypotheses:   make([]*Record, 0),
		RecentObservations: make([]*Record, 0, s.config.SummaryRecentLimit),
	}

	for _, rec := range live {
		summary.Stats.Total++
		switch rec.Layer {
		case LayerStable:
			summary.Stats.Stable++
			summary.StablePatterns = append(summary.StablePatterns, rec)
		case LayerHypothesis:
			summary.Stats.Hypothesis++
			summary.ActiveHypotheses = append(summary.ActiveHypotheses, rec)
		case LayerEphemeral:
			summary.Stats.Ephemeral++
			if len(summary.RecentObservations) < s.config.SummaryRecentLimit {
				summary.RecentObservations = append(summary.RecentObservations, rec)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("live_count", summary.Stats.Total),
		attribute.Int("stable_count", summary.Stats.Stable),
	)
	return summary, nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

// Helper functions

// initialStatus is the status a freshly created record starts in.
func initialStatus(layer Layer) Status {
	if layer == LayerHypothesis {
		return StatusSuspected
	}
	return StatusActive
}

// asUnavailable wraps raw store failures in ErrStoreUnavailable. Domain
// sentinels pass through so callers can branch on them.
func asUnavailable(err error) error {
	if errors.Is(err, ErrStoreNotFound) || errors.Is(err, ErrStateConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *service) publish(ctx context.Context, event string, rec *Record) {
	if s.events == nil {
		return
	}
	s.events.RecordChanged(ctx, event, rec)
}

func (s *service) publishSweep(ctx context.Context, sweep string, changed int64) {
	if s.events == nil || changed == 0 {
		return
	}
	s.events.SweepCompleted(ctx, sweep, changed)
}

func (s *service) recordValidation(ctx context.Context, outcome Outcome) {
	if s.validateCounter == nil {
		return
	}
	s.validateCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
	))
}
