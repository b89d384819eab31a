package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayer_Constants(t *testing.T) {
	assert.Equal(t, Layer("ephemeral"), LayerEphemeral)
	assert.Equal(t, Layer("hypothesis"), LayerHypothesis)
	assert.Equal(t, Layer("stable"), LayerStable)
}

func TestParseLayer(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Layer
		wantErr bool
	}{
		{name: "ephemeral", input: "ephemeral", want: LayerEphemeral},
		{name: "hypothesis", input: "hypothesis", want: LayerHypothesis},
		{name: "stable", input: "stable", want: LayerStable},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown", input: "permanent", wantErr: true},
		{name: "case sensitive", input: "Stable", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLayer(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLayer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "active", input: "active", want: StatusActive},
		{name: "suspected", input: "suspected", want: StatusSuspected},
		{name: "resolving accepted", input: "resolving", want: StatusResolving},
		{name: "resolved", input: "resolved", want: StatusResolved},
		{name: "expired", input: "expired", want: StatusExpired},
		{name: "unknown", input: "archived", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusSuspected.Terminal())
	assert.False(t, StatusResolving.Terminal())
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestStatus_Live(t *testing.T) {
	assert.True(t, StatusActive.Live())
	assert.True(t, StatusSuspected.Live())
	assert.False(t, StatusResolving.Live())
	assert.False(t, StatusResolved.Live())
	assert.False(t, StatusExpired.Live())
}

func TestConfidence_Rank(t *testing.T) {
	assert.Equal(t, 0, ConfidenceLow.Rank())
	assert.Equal(t, 1, ConfidenceMedium.Rank())
	assert.Equal(t, 2, ConfidenceHigh.Rank())
	assert.Equal(t, -1, Confidence("certain").Rank())
}

func TestConfidence_AtLeast(t *testing.T) {
	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceLow))
	assert.True(t, ConfidenceMedium.AtLeast(ConfidenceMedium))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceMedium))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceHigh))
}

func TestConfidence_StepDown(t *testing.T) {
	next, ok := ConfidenceHigh.StepDown()
	require.True(t, ok)
	assert.Equal(t, ConfidenceMedium, next)

	next, ok = ConfidenceMedium.StepDown()
	require.True(t, ok)
	assert.Equal(t, ConfidenceLow, next)

	_, ok = ConfidenceLow.StepDown()
	assert.False(t, ok)
}

func TestPromotionTarget(t *testing.T) {
	layer, status, ok := promotionTarget(LayerEphemeral, StatusActive)
	require.True(t, ok)
	assert.Equal(t, LayerHypothesis, layer)
	assert.Equal(t, StatusSuspected, status)

	layer, status, ok = promotionTarget(LayerHypothesis, StatusSuspected)
	require.True(t, ok)
	assert.Equal(t, LayerStable, layer)
	assert.Equal(t, StatusActive, status)

	// Nothing else is in the table.
	_, _, ok = promotionTarget(LayerEphemeral, StatusExpired)
	assert.False(t, ok)
	_, _, ok = promotionTarget(LayerHypothesis, StatusResolved)
	assert.False(t, ok)
	_, _, ok = promotionTarget(LayerStable, StatusActive)
	assert.False(t, ok)
}

func TestWriteRequest_Validate(t *testing.T) {
	valid := func() *WriteRequest {
		return &WriteRequest{
			SubjectID: "learner-1",
			Layer:     LayerEphemeral,
			Key:       "prefers-hints",
			Content:   map[string]any{"observation": "asked for a hint twice"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*WriteRequest)
		wantErr error
	}{
		{name: "valid", mutate: func(r *WriteRequest) {}},
		{name: "empty subject", mutate: func(r *WriteRequest) { r.SubjectID = "" }, wantErr: ErrEmptySubjectID},
		{name: "empty key", mutate: func(r *WriteRequest) { r.Key = "" }, wantErr: ErrEmptyKey},
		{name: "empty content", mutate: func(r *WriteRequest) { r.Content = nil }, wantErr: ErrEmptyContent},
		{name: "bad layer", mutate: func(r *WriteRequest) { r.Layer = "permanent" }, wantErr: ErrInvalidLayer},
		{name: "bad confidence", mutate: func(r *WriteRequest) { r.Confidence = "certain" }, wantErr: ErrInvalidConfidence},
		{name: "negative ttl", mutate: func(r *WriteRequest) { r.TTLDays = -1 }, wantErr: ErrInvalidTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := req.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWriteRequest_Validate_DefaultsConfidence(t *testing.T) {
	req := &WriteRequest{
		SubjectID: "learner-1",
		Layer:     LayerEphemeral,
		Key:       "prefers-hints",
		Content:   map[string]any{"observation": "x"},
	}

	require.NoError(t, req.Validate())
	assert.Equal(t, ConfidenceLow, req.Confidence)
}

func TestQuery_Validate_DefaultsToActive(t *testing.T) {
	q := &Query{SubjectID: "learner-1"}

	require.NoError(t, q.Validate())
	assert.Equal(t, []Status{StatusActive}, q.Statuses)
}

func TestQuery_Validate_Errors(t *testing.T) {
	err := (&Query{}).Validate()
	assert.ErrorIs(t, err, ErrEmptySubjectID)

	err = (&Query{SubjectID: "learner-1", Layer: "permanent"}).Validate()
	assert.ErrorIs(t, err, ErrInvalidLayer)

	err = (&Query{SubjectID: "learner-1", Statuses: []Status{"archived"}}).Validate()
	assert.ErrorIs(t, err, ErrInvalidStatus)

	err = (&Query{SubjectID: "learner-1", MinConfidence: "certain"}).Validate()
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestRecord_Clone_Independent(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour)
	confirmed := DayOf(time.Now())
	rec := &Record{
		ID:            "rec-1",
		SubjectID:     "learner-1",
		Layer:         LayerEphemeral,
		Key:           "prefers-hints",
		Content:       map[string]any{"observation": "x"},
		Status:        StatusActive,
		Confidence:    ConfidenceLow,
		EvidenceCount: 1,
		LastConfirmed: &confirmed,
		ExpiresAt:     &exp,
	}

	clone := rec.Clone()
	clone.Content["observation"] = "y"
	*clone.ExpiresAt = clone.ExpiresAt.Add(time.Hour)
	*clone.LastConfirmed = clone.LastConfirmed.AddDate(0, 0, 1)

	assert.Equal(t, "x", rec.Content["observation"])
	assert.True(t, rec.ExpiresAt.Equal(exp))
	assert.True(t, rec.LastConfirmed.Equal(confirmed))
}

func TestErrValidation_WrapsSentinels(t *testing.T) {
	for _, err := range []error{
		ErrEmptySubjectID,
		ErrEmptyKey,
		ErrEmptyContent,
		ErrInvalidLayer,
		ErrInvalidStatus,
		ErrInvalidConfidence,
		ErrInvalidOutcome,
		ErrInvalidTTL,
	} {
		assert.True(t, errors.Is(err, ErrValidation), "%v should wrap ErrValidation", err)
	}
}

func TestDayOf(t *testing.T) {
	in := time.Date(2025, 6, 15, 23, 45, 12, 999, time.FixedZone("CEST", 2*3600))
	got := DayOf(in)

	// 23:45 CEST is already the 15th in UTC (21:45).
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}
