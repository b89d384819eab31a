package memory

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is the base error for malformed requests. All request
// validation errors wrap it, so callers can match the whole class with
// errors.Is(err, ErrValidation).
var ErrValidation = errors.New("invalid request")

// Common errors for memory operations.
var (
	ErrRecordNotFound    = errors.New("memory record not found")
	ErrStoreUnavailable  = errors.New("memory store unavailable")
	ErrIllegalTransition = errors.New("illegal record transition")

	ErrEmptySubjectID    = fmt.Errorf("%w: subject ID cannot be empty", ErrValidation)
	ErrEmptyKey          = fmt.Errorf("%w: record key cannot be empty", ErrValidation)
	ErrEmptyContent      = fmt.Errorf("%w: record content cannot be empty", ErrValidation)
	ErrInvalidLayer      = fmt.Errorf("%w: layer must be 'ephemeral', 'hypothesis', or 'stable'", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: unknown record status", ErrValidation)
	ErrInvalidConfidence = fmt.Errorf("%w: confidence must be 'low', 'medium', or 'high'", ErrValidation)
	ErrInvalidOutcome    = fmt.Errorf("%w: outcome must be 'validated' or 'rejected'", ErrValidation)
	ErrInvalidTTL        = fmt.Errorf("%w: ttl_days must be positive", ErrValidation)
)

// Layer identifies the memory tier a record lives in.
type Layer string

const (
	// LayerEphemeral holds raw observations with a sliding TTL.
	LayerEphemeral Layer = "ephemeral"

	// LayerHypothesis holds promoted observations awaiting validation.
	LayerHypothesis Layer = "hypothesis"

	// LayerStable holds validated traits. Stable is terminal: records
	// never advance past it and decay never touches it.
	LayerStable Layer = "stable"
)

// Valid reports whether the layer is one of the three known tiers.
func (l Layer) Valid() bool {
	switch l {
	case LayerEphemeral, LayerHypothesis, LayerStable:
		return true
	}
	return false
}

// ParseLayer parses a wire-format layer name.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLayer, s)
	}
	return l, nil
}

// Status is the lifecycle status of a record.
type Status string

const (
	// StatusActive indicates a live record (ephemeral or stable layer).
	StatusActive Status = "active"

	// StatusSuspected indicates a hypothesis awaiting validation.
	StatusSuspected Status = "suspected"

	// StatusResolving is reserved for future validation workflows. The
	// engine accepts it as input but never produces it; no transition
	// reaches it.
	StatusResolving Status = "resolving"

	// StatusResolved is a soft terminal marker: the record's lifecycle
	// ended by validation rejection or decay bottoming out.
	StatusResolved Status = "resolved"

	// StatusExpired is a soft terminal marker set by the expiration sweep
	// on overdue ephemeral records.
	StatusExpired Status = "expired"
)

// Valid reports whether the status is part of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspected, StatusResolving, StatusResolved, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status ends a record's lifecycle. Terminal
// records persist for audit history but are excluded from reads by default
// and never transition again.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// Live reports whether the record still participates in the subject's
// working set (summaries, default reads).
func (s Status) Live() bool {
	return s == StatusActive || s == StatusSuspected
}

// ParseStatus parses a wire-format status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Confidence is an ordinal confidence grade: low < medium < high.
// It is deliberately not a probability; producers assign it and the decay
// sweep steps it down one rung at a time.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether the confidence is one of the three grades.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Rank returns the ordinal position of the grade (low=0, medium=1, high=2).
// Unknown grades rank below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 0
	case ConfidenceMedium:
		return 1
	case ConfidenceHigh:
		return 2
	}
	return -1
}

// AtLeast reports whether c is the same grade as min or stronger.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.Rank() >= min.Rank()
}

// StepDown returns the next grade down the ladder. The second return is
// false when the grade is already low and cannot weaken further.
func (c Confidence) StepDown() (Confidence, bool) {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium, true
	case ConfidenceMedium:
		return ConfidenceLow, true
	}
	return c, false
}

// ParseConfidence parses a wire-format confidence grade.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidConfidence, s)
	}
	return c, nil
}

// Outcome is the caller's verdict on a hypothesis.
type Outcome string

const (
	// OutcomeValidated confirms the hypothesis; the record promotes to stable.
	OutcomeValidated Outcome = "validated"

	// OutcomeRejected disconfirms the hypothesis; the record resolves in place.
	OutcomeRejected Outcome = "rejected"
)

// Valid reports whether the outcome is part of the closed outcome set.
func (o Outcome) Valid() bool {
	return o == OutcomeValidated || o == OutcomeRejected
}

// ParseOutcome parses a wire-format validation outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
	return o, nil
}

// Record is a single behavioral inference about a subject.
//
// A record is uniquely identified by its store-assigned ID for its whole
// lifetime, and by the (SubjectID, Layer, Key) triple for writes: a second
// write to the same triple merges into the existing record.
type Record struct {
	// ID is the store-assigned record identifier (UUID).
	ID string `json:"id"`

	// SubjectID identifies the learner this inference is about.
	SubjectID string `json:"subject_id"`

	// Layer is the memory tier: ephemeral, hypothesis, or stable.
	Layer Layer `json:"layer"`

	// Key is the semantic identity of the inference within the subject
	// and layer (e.g. "prefers_visual_diagrams").
	Key string `json:"key"`

	// Content is the inference payload. The engine stores and returns it
	// verbatim and never interprets it.
	Content map[string]any `json:"content"`

	// Status is the lifecycle status, constrained per layer by the
	// transition table.
	Status Status `json:"status"`

	// Confidence is the ordinal confidence grade.
	Confidence Confidence `json:"confidence"`

	// EvidenceCount is the number of observations merged into this record.
	// Starts at 1 and never decreases.
	EvidenceCount int `json:"evidence_count"`

	// FirstObserved is the day the record was created (UTC, day precision).
	// It never changes after creation.
	FirstObserved time.Time `json:"first_observed"`

	// LastUpdated is set on every write and every state change.
	LastUpdated time.Time `json:"last_updated"`

	// LastConfirmed is the day the record last passed a promotion or
	// validation step (UTC, day precision). Nil until the first one.
	LastConfirmed *time.Time `json:"last_confirmed,omitempty"`

	// ExpiresAt is the TTL deadline. Non-nil exactly when the record is
	// ephemeral; promotion out of ephemeral clears it permanently.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Clone returns a deep copy of the record. Content is copied one level deep,
// which is enough to keep store internals from leaking to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Content != nil {
		out.Content = make(map[string]any, len(r.Content))
		for k, v := range r.Content {
			out.Content[k] = v
		}
	}
	if r.LastConfirmed != nil {
		t := *r.LastConfirmed
		out.LastConfirmed = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// state is a (layer, status) pair, the unit the transition table speaks in.
type state struct {
	layer  Layer
	status Status
}

// promotions is the complete promotion table. Anything absent is illegal,
// except (stable, active) which promote treats as an idempotent no-op.
var promotions = map[state]state{
	{LayerEphemeral, StatusActive}:     {LayerHypothesis, StatusSuspected},
	{LayerHypothesis, StatusSuspected}: {LayerStable, StatusActive},
}

// promotionTarget returns the next (layer, status) for a record, or false
// when the record's current state has no promotion edge.
func promotionTarget(layer Layer, status Status) (Layer, Status, bool) {
	next, ok := promotions[state{layer, status}]
	if !ok {
		return "", "", false
	}
	return next.layer, next.status, true
}

// WriteRequest carries one observation into the engine.
type WriteRequest struct {
	// SubjectID identifies the learner. Required.
	SubjectID string `json:"subject_id"`

	// Layer is the tier to write into. Required.
	Layer Layer `json:"layer"`

	// Key is the semantic identity within (subject, layer). Required.
	Key string `json:"key"`

	// Content is the inference payload. Required, at least one entry.
	Content map[string]any `json:"content"`

	// Confidence defaults to low when empty.
	Confidence Confidence `json:"confidence,omitempty"`

	// TTLDays is the sliding expiry window for ephemeral writes. Zero
	// means the engine default; negative is invalid. Ignored for
	// hypothesis and stable writes.
	TTLDays int `json:"ttl_days,omitempty"`
}

// Validate checks the request and normalizes optional fields in place.
func (r *WriteRequest) Validate() error {
	if r.SubjectID == "" {
		return ErrEmptySubjectID
	}
	if !r.Layer.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLayer, string(r.Layer))
	}
	if r.Key == "" {
		return ErrEmptyKey
	}
	if len(r.Content) == 0 {
		return ErrEmptyContent
	}
	if r.Confidence == "" {
		r.Confidence = ConfidenceLow
	}
	if !r.Confidence.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidConfidence, string(r.Confidence))
	}
	if r.TTLDays < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTTL, r.TTLDays)
	}
	return nil
}

// Query selects records for a subject. All filters are conjunctive; zero
// values mean "no filter" except Statuses, which defaults to active only.
type Query struct {
	// SubjectID identifies the learner. Required.
	SubjectID string `json:"subject_id"`

	// Layer restricts results to one tier when set.
	Layer Layer `json:"layer,omitempty"`

	// Statuses restricts results to the listed statuses. Empty means
	// active records only; terminal records must be asked for explicitly.
	Statuses []Status `json:"statuses,omitempty"`

	// KeyPattern keeps records whose key contains the substring
	// (case-sensitive).
	KeyPattern string `json:"key_pattern,omitempty"`

	// MinConfidence keeps records at or above the grade when set.
	MinConfidence Confidence `json:"min_confidence,omitempty"`
}

// Validate checks the query and applies the default status filter in place.
func (q *Query) Validate() error {
	if q.SubjectID == "" {
		return ErrEmptySubjectID
	}
	if q.Layer != "" && !q.Layer.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLayer, string(q.Layer))
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, string(s))
		}
	}
	if len(q.Statuses) == 0 {
		q.Statuses = []Status{StatusActive}
	}
	if q.MinConfidence != "" && !q.MinConfidence.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidConfidence, string(q.MinConfidence))
	}
	return nil
}

// Summary is the aggregated per-subject view of live records.
type Summary struct {
	// SubjectID identifies the learner the summary describes.
	SubjectID string `json:"subject_id"`

	// StablePatterns are the subject's validated traits.
	StablePatterns []*Record `json:"stable_patterns"`

	// ActiveHypotheses are hypotheses still awaiting validation.
	ActiveHypotheses []*Record `json:"active_hypotheses"`

	// RecentObservations are the most recently updated live ephemeral
	// records, truncated to the configured limit.
	RecentObservations []*Record `json:"recent_observations"`

	// Stats counts the full live set, including ephemeral records beyond
	// the RecentObservations truncation.
	Stats SummaryStats `json:"stats"`
}

// SummaryStats counts live records per tier.
type SummaryStats struct {
	Total      int `json:"total"`
	Ephemeral  int `json:"ephemeral"`
	Hypothesis int `json:"hypothesis"`
	Stable     int `json:"stable"`
}
