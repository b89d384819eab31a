// Package http provides the HTTP API for memoryd.
package http

import "github.com/fyrsmithlabs/memoryd/internal/memory"

// ObserveRequest is the request body for
// POST /api/v1/subjects/:subject_id/observations.
type ObserveRequest struct {
	Layer      string         `json:"layer"`
	Key        string         `json:"key"`
	Content    map[string]any `json:"content"`
	Confidence string         `json:"confidence,omitempty"`
	TTLDays    int            `json:"ttl_days,omitempty"`
}

// RecordsResponse is the response body for
// GET /api/v1/subjects/:subject_id/records.
type RecordsResponse struct {
	Records []*memory.Record `json:"records"`
	Count   int              `json:"count"`
}

// ValidateRequest is the request body for
// POST /api/v1/records/:id/validate.
type ValidateRequest struct {
	Outcome string `json:"outcome"`
}

// DecaySweepRequest is the request body for POST /api/v1/sweeps/decay.
type DecaySweepRequest struct {
	SubjectID string `json:"subject_id"`
}

// SweepResponse is the response body for the sweep endpoints.
type SweepResponse struct {
	Sweep   string `json:"sweep"`
	Changed int64  `json:"changed"`
}
