package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_observe",
		Description: "Record a behavioral observation about a learner. Repeat observations of the same inference merge into one record and accumulate evidence.",
	}, s.handleObserve)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_recall",
		Description: "Recall a learner's memory records, newest first. Filters by layer, status, key substring, and minimum confidence; only active records are returned unless other statuses are requested.",
	}, s.handleRecall)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_summary",
		Description: "Summarize what is known about a learner: stable patterns, open hypotheses, recent observations, and live record counts per layer.",
	}, s.handleSummary)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_validate",
		Description: "Report the outcome of checking a hypothesis against the learner. Validated hypotheses become stable patterns; rejected ones are retired in place.",
	}, s.handleValidate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_promote",
		Description: "Promote a record one tier up the memory ladder: ephemeral observations become hypotheses, suspected hypotheses become stable patterns.",
	}, s.handlePromote)
}

// recordMap flattens a record for tool output.
func recordMap(rec *memory.Record) map[string]any {
	m := map[string]any{
		"id":             rec.ID,
		"subject_id":     rec.SubjectID,
		"layer":          string(rec.Layer),
		"key":            rec.Key,
		"content":        rec.Content,
		"status":         string(rec.Status),
		"confidence":     string(rec.Confidence),
		"evidence_count": rec.EvidenceCount,
		"first_observed": rec.FirstObserved.Format(time.RFC3339),
		"last_updated":   rec.LastUpdated.Format(time.RFC3339),
	}
	if rec.LastConfirmed != nil {
		m["last_confirmed"] = rec.LastConfirmed.Format(time.RFC3339)
	}
	if rec.ExpiresAt != nil {
		m["expires_at"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	return m
}

func recordMaps(recs []*memory.Record) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordMap(rec))
	}
	return out
}

// ===== OBSERVE =====

type observeInput struct {
	SubjectID  string         `json:"subject_id" jsonschema:"required,Learner identifier"`
	Layer      string         `json:"layer" jsonschema:"required,Memory layer (ephemeral hypothesis or stable)"`
	Key        string         `json:"key" jsonschema:"required,Semantic inference key such as style.visual"`
	Content    map[string]any `json:"content" jsonschema:"required,Inference payload"`
	Confidence string         `json:"confidence,omitempty" jsonschema:"Confidence grade (low medium or high default low)"`
	TTLDays    int            `json:"ttl_days,omitempty" jsonschema:"Retention window in days for ephemeral writes (default 10)"`
}

type observeOutput struct {
	ID            string `json:"id" jsonschema:"Record ID"`
	Layer         string `json:"layer" jsonschema:"Memory layer"`
	Key           string `json:"key" jsonschema:"Inference key"`
	Status        string `json:"status" jsonschema:"Record status"`
	Confidence    string `json:"confidence" jsonschema:"Record confidence"`
	EvidenceCount int    `json:"evidence_count" jsonschema:"Observations merged into this record"`
	Created       bool   `json:"created" jsonschema:"True when the observation created a new record rather than merging"`
}

func (s *Server) handleObserve(ctx context.Context, req *mcp.CallToolRequest, args observeInput) (*mcp.CallToolResult, observeOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "memory_observe")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "memory_observe")
		s.metrics.RecordInvocation(ctx, "memory_observe", time.Since(start), toolErr)
	}()

	writeReq := &memory.WriteRequest{
		SubjectID:  args.SubjectID,
		Layer:      memory.Layer(args.Layer),
		Key:        args.Key,
		Content:    args.Content,
		Confidence: memory.Confidence(args.Confidence),
		TTLDays:    args.TTLDays,
	}

	rec, err := s.service.Write(ctx, writeReq)
	if err != nil {
		toolErr = fmt.Errorf("memory observe failed: %w", err)
		return nil, observeOutput{}, toolErr
	}

	output := observeOutput{
		ID:            rec.ID,
		Layer:         string(rec.Layer),
		Key:           rec.Key,
		Status:        string(rec.Status),
		Confidence:    string(rec.Confidence),
		EvidenceCount: rec.EvidenceCount,
		Created:       rec.EvidenceCount == 1,
	}

	verb := "merged"
	if output.Created {
		verb = "created"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Memory %s: %s/%s (evidence: %d)", verb, output.Layer, output.Key, output.EvidenceCount)},
		},
	}, output, nil
}

// ===== RECALL =====

type recallInput struct {
	SubjectID     string   `json:"subject_id" jsonschema:"required,Learner identifier"`
	Layer         string   `json:"layer,omitempty" jsonschema:"Restrict results to one memory layer"`
	Statuses      []string `json:"statuses,omitempty" jsonschema:"Restrict results to these statuses (default active only)"`
	Key           string   `json:"key,omitempty" jsonschema:"Case-sensitive key substring filter"`
	MinConfidence string   `json:"min_confidence,omitempty" jsonschema:"Minimum confidence grade (low medium or high)"`
}

type recallOutput struct {
	Records []map[string]any `json:"records" jsonschema:"Matching records newest first"`
	Count   int              `json:"count" jsonschema:"Number of records returned"`
}

func (s *Server) handleRecall(ctx context.Context, req *mcp.CallToolRequest, args recallInput) (*mcp.CallToolResult, recallOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "memory_recall")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "memory_recall")
		s.metrics.RecordInvocation(ctx, "memory_recall", time.Since(start), toolErr)
	}()

	query := &memory.Query{
		SubjectID:     args.SubjectID,
		Layer:         memory.Layer(args.Layer),
		KeyPattern:    args.Key,
		MinConfidence: memory.Confidence(args.MinConfidence),
	}
	for _, status := range args.Statuses {
		query.Statuses = append(query.Statuses, memory.Status(status))
	}

	records, err := s.service.Read(ctx, query)
	if err != nil {
		toolErr = fmt.Errorf("memory recall failed: %w", err)
		return nil, recallOutput{}, toolErr
	}

	output := recallOutput{
		Records: recordMaps(records),
		Count:   len(records),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Found %d memory records", output.Count)},
		},
	}, output, nil
}

// ===== SUMMARY =====

type summaryInput struct {
	SubjectID string `json:"subject_id" jsonschema:"required,Learner identifier"`
}

type summaryOutput struct {
	SubjectID          string           `json:"subject_id" jsonschema:"Learner identifier"`
	StablePatterns     []map[string]any `json:"stable_patterns" jsonschema:"Validated stable-layer traits"`
	ActiveHypotheses   []map[string]any `json:"active_hypotheses" jsonschema:"Hypotheses still awaiting validation"`
	RecentObservations []map[string]any `json:"recent_observations" jsonschema:"Most recently updated live ephemeral records"`
	Stats              map[string]int   `json:"stats" jsonschema:"Live record counts per layer"`
}

func (s *Server) handleSummary(ctx context.Context, req *mcp.CallToolRequest, args summaryInput) (*mcp.CallToolResult, summaryOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "memory_summary")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "memory_summary")
		s.metrics.RecordInvocation(ctx, "memory_summary", time.Since(start), toolErr)
	}()

	summary, err := s.service.Summarize(ctx, args.SubjectID)
	if err != nil {
		toolErr = fmt.Errorf("memory summary failed: %w", err)
		return nil, summaryOutput{}, toolErr
	}

	output := summaryOutput{
		SubjectID:          summary.SubjectID,
		StablePatterns:     recordMaps(summary.StablePatterns),
		ActiveHypotheses:   recordMaps(summary.ActiveHypotheses),
		RecentObservations: recordMaps(summary.RecentObservations),
		Stats: map[string]int{
			"total":      summary.Stats.Total,
			"ephemeral":  summary.Stats.Ephemeral,
			"hypothesis": summary.Stats.Hypothesis,
			"stable":     summary.Stats.Stable,
		},
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Subject %s: %d stable patterns, %d open hypotheses, %d live records",
				output.SubjectID, len(output.StablePatterns), len(output.ActiveHypotheses), summary.Stats.Total)},
		},
	}, output, nil
}

// ===== VALIDATE =====

type validateInput struct {
	RecordID string `json:"record_id" jsonschema:"required,Hypothesis record ID"`
	Outcome  string `json:"outcome" jsonschema:"required,Validation outcome (validated or rejected)"`
}

type validateOutput struct {
	ID         string `json:"id" jsonschema:"Record ID"`
	Layer      string `json:"layer" jsonschema:"Memory layer after validation"`
	Status     string `json:"status" jsonschema:"Record status after validation"`
	Confidence string `json:"confidence" jsonschema:"Record confidence"`
}

func (s *Server) handleValidate(ctx context.Context, req *mcp.CallToolRequest, args validateInput) (*mcp.CallToolResult, validateOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "memory_validate")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "memory_validate")
		s.metrics.RecordInvocation(ctx, "memory_validate", time.Since(start), toolErr)
	}()

	outcome, err := memory.ParseOutcome(args.Outcome)
	if err != nil {
		toolErr = err
		return nil, validateOutput{}, toolErr
	}

	rec, err := s.service.ValidateHypothesis(ctx, args.RecordID, outcome)
	if err != nil {
		toolErr = fmt.Errorf("memory validate failed: %w", err)
		return nil, validateOutput{}, toolErr
	}

	output := validateOutput{
		ID:         rec.ID,
		Layer:      string(rec.Layer),
		Status:     string(rec.Status),
		Confidence: string(rec.Confidence),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Hypothesis %s: now %s/%s", outcome, output.Layer, output.Status)},
		},
	}, output, nil
}

// ===== PROMOTE =====

type promoteInput struct {
	RecordID string `json:"record_id" jsonschema:"required,Record ID to promote"`
}

type promoteOutput struct {
	ID         string `json:"id" jsonschema:"Record ID"`
	Layer      string `json:"layer" jsonschema:"Memory layer after promotion"`
	Status     string `json:"status" jsonschema:"Record status after promotion"`
	Confidence string `json:"confidence" jsonschema:"Record confidence"`
}

func (s *Server) handlePromote(ctx context.Context, req *mcp.CallToolRequest, args promoteInput) (*mcp.CallToolResult, promoteOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "memory_promote")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "memory_promote")
		s.metrics.RecordInvocation(ctx, "memory_promote", time.Since(start), toolErr)
	}()

	rec, err := s.service.Promote(ctx, args.RecordID)
	if err != nil {
		toolErr = fmt.Errorf("memory promote failed: %w", err)
		return nil, promoteOutput{}, toolErr
	}

	output := promoteOutput{
		ID:         rec.ID,
		Layer:      string(rec.Layer),
		Status:     string(rec.Status),
		Confidence: string(rec.Confidence),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Promoted %s: now %s/%s", output.ID, output.Layer, output.Status)},
		},
	}, output, nil
}
