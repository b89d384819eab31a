// Package scheduler runs memoryd's periodic maintenance sweeps.
//
// A SweepScheduler triggers the expiration sweep and the per-subject decay
// sweep on a fixed interval. The sweeps themselves are plain service
// methods and stay callable on demand; the scheduler only supplies the
// clockwork around them.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

const (
	// DefaultInterval is the time between sweep cycles.
	DefaultInterval = 10 * time.Minute

	// sweepTimeout bounds a single sweep cycle. Sweeps are local store
	// updates, so a cycle still running after this is stuck, not slow.
	sweepTimeout = 2 * time.Minute
)

// SubjectLister enumerates the subjects that currently hold records.
// The record store satisfies it.
type SubjectLister interface {
	ListSubjects(ctx context.Context) ([]string, error)
}

// SweepScheduler manages the background maintenance loop.
//
// Thread Safety: all public methods are safe for concurrent use. The
// running state is guarded by a mutex so Start and Stop cannot race.
type SweepScheduler struct {
	// interval is the time between sweep cycles.
	interval time.Duration

	// jitter delays each cycle by a random duration in [0, jitter) so
	// replicas sharing a store do not sweep in lockstep.
	jitter time.Duration

	// service performs the actual sweeps.
	service memory.Service

	// subjects supplies the subject IDs the decay sweep visits.
	subjects SubjectLister

	// mu protects running and stopCh from concurrent access.
	mu sync.Mutex

	// running tracks whether the scheduler loop is active.
	running bool

	// stopCh signals the loop to exit.
	stopCh chan struct{}

	logger *zap.Logger
}

// Option configures a SweepScheduler.
type Option func(*SweepScheduler)

// WithInterval sets the time between sweep cycles.
// If not set, defaults to 10 minutes.
func WithInterval(interval time.Duration) Option {
	return func(s *SweepScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithJitter sets the maximum random delay applied before each cycle.
// Zero disables jitter.
func WithJitter(jitter time.Duration) Option {
	return func(s *SweepScheduler) {
		if jitter > 0 {
			s.jitter = jitter
		}
	}
}

// NewSweepScheduler creates a sweep scheduler over the given service.
//
// The scheduler does not start automatically - call Start() to begin
// the background loop.
//
// Returns an error if service, subjects, or logger is nil.
func NewSweepScheduler(service memory.Service, subjects SubjectLister, logger *zap.Logger, opts ...Option) (*SweepScheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if subjects == nil {
		return nil, fmt.Errorf("subject lister cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &SweepScheduler{
		interval: DefaultInterval,
		service:  service,
		subjects: subjects,
		running:  false,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start begins the background sweep loop.
//
// The loop runs sweeps at the configured interval until Stop() is called.
// Calling Start() on a scheduler that is already running returns an error
// without starting a second goroutine.
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// Fresh stop channel for this run so Start works again after Stop.
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("sweep scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("jitter", s.jitter),
	)

	go s.run(s.stopCh)

	return nil
}

// Stop signals the background loop to exit.
//
// Idempotent - stopping a scheduler that is not running is a no-op.
// An in-flight sweep cycle is allowed to finish; Stop does not wait
// for it.
func (s *SweepScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("sweep scheduler stop called but not running")
		return nil
	}

	s.logger.Info("stopping sweep scheduler")
	s.running = false

	// stopCh is recreated in Start() so it can be safely closed here.
	close(s.stopCh)

	return nil
}

// run is the scheduler loop. stopCh is passed in rather than read from
// the struct so a loop left over from an earlier Start never observes a
// channel created by a later one.
func (s *SweepScheduler) run(stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep scheduler goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			// Mark as not running so it can be restarted.
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.logger.Debug("sweep scheduler goroutine started")
	defer s.logger.Debug("sweep scheduler goroutine stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep(stopCh)

		case <-stopCh:
			s.logger.Debug("sweep scheduler received stop signal")
			return
		}
	}
}

// safeSweep wraps sweep with panic recovery so a single bad cycle does
// not kill the loop.
func (s *SweepScheduler) safeSweep(stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep cycle panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	s.sweep(stopCh)
}

// sweep executes one maintenance cycle: expire overdue ephemeral records,
// then decay stale hypotheses subject by subject. Errors are logged and
// the cycle moves on; the next tick gets another chance.
func (s *SweepScheduler) sweep(stopCh <-chan struct{}) {
	if s.jitter > 0 {
		select {
		case <-time.After(rand.N(s.jitter)):
		case <-stopCh:
			return
		}
	}

	s.logger.Debug("starting sweep cycle")

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()

	expired, err := s.service.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("expiration sweep failed", zap.Error(err))
	}

	subjects, err := s.subjects.ListSubjects(ctx)
	if err != nil {
		s.logger.Error("listing subjects for decay sweep failed", zap.Error(err))
		return
	}

	var decayed int64
	for _, subjectID := range subjects {
		n, err := s.service.Decay(ctx, subjectID)
		if err != nil {
			s.logger.Warn("decay sweep failed for subject",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
			continue
		}
		decayed += n
	}

	s.logger.Info("sweep cycle completed",
		zap.Int64("expired", expired),
		zap.Int64("decayed", decayed),
		zap.Int("subject_count", len(subjects)),
		zap.Duration("duration", time.Since(start)),
	)
}
