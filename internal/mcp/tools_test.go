package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

type toolClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *toolClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *toolClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newToolServer(t *testing.T) (*Server, *toolClock) {
	t.Helper()

	clock := &toolClock{now: time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)}
	svc, err := memory.NewService(memory.DefaultServiceConfig(), memory.NewInMemoryStore(), zap.NewNop(),
		memory.WithClock(clock.Now))
	require.NoError(t, err)

	server, err := NewServer(nil, svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	return server, clock
}

// resultText extracts the human-readable line from a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestHandleObserve(t *testing.T) {
	t.Run("creates a record", func(t *testing.T) {
		server, _ := newToolServer(t)

		result, out, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "ephemeral",
			Key:       "session.pace",
			Content:   map[string]any{"pace": "fast"},
		})
		require.NoError(t, err)
		assert.True(t, out.Created)
		assert.Equal(t, 1, out.EvidenceCount)
		assert.Equal(t, "active", out.Status)
		assert.Equal(t, "low", out.Confidence)
		assert.Contains(t, resultText(t, result), "created")
	})

	t.Run("merges repeat observations", func(t *testing.T) {
		server, _ := newToolServer(t)

		input := observeInput{
			SubjectID: "learner-1",
			Layer:     "ephemeral",
			Key:       "session.pace",
			Content:   map[string]any{"pace": "fast"},
		}
		_, first, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, input)
		require.NoError(t, err)

		result, second, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, input)
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.EvidenceCount)
		assert.Contains(t, resultText(t, result), "merged")
	})

	t.Run("hypothesis writes start suspected", func(t *testing.T) {
		server, _ := newToolServer(t)

		_, out, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, observeInput{
			SubjectID:  "learner-1",
			Layer:      "hypothesis",
			Key:        "style.visual",
			Content:    map[string]any{"pattern": "prefers diagrams"},
			Confidence: "medium",
		})
		require.NoError(t, err)
		assert.Equal(t, "suspected", out.Status)
		assert.Equal(t, "medium", out.Confidence)
	})

	t.Run("rejects unknown layer", func(t *testing.T) {
		server, _ := newToolServer(t)

		_, _, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "permanent",
			Key:       "session.pace",
			Content:   map[string]any{"pace": "fast"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrValidation)
	})
}

func TestHandleRecall(t *testing.T) {
	seed := func(t *testing.T) (*Server, *toolClock) {
		server, clock := newToolServer(t)
		ctx := context.Background()

		_, _, err := server.handleObserve(ctx, &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "ephemeral",
			Key:       "session.pace",
			Content:   map[string]any{"pace": "fast"},
		})
		require.NoError(t, err)
		clock.Advance(time.Minute)

		_, _, err = server.handleObserve(ctx, &mcp.CallToolRequest{}, observeInput{
			SubjectID:  "learner-1",
			Layer:      "ephemeral",
			Key:        "quiz.recall",
			Content:    map[string]any{"recall": "strong"},
			Confidence: "high",
		})
		require.NoError(t, err)
		clock.Advance(time.Minute)

		_, _, err = server.handleObserve(ctx, &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "hypothesis",
			Key:       "style.visual",
			Content:   map[string]any{"pattern": "prefers diagrams"},
		})
		require.NoError(t, err)
		return server, clock
	}

	t.Run("defaults to active records newest first", func(t *testing.T) {
		server, _ := seed(t)

		_, out, err := server.handleRecall(context.Background(), &mcp.CallToolRequest{}, recallInput{
			SubjectID: "learner-1",
		})
		require.NoError(t, err)
		require.Equal(t, 2, out.Count)
		assert.Equal(t, "quiz.recall", out.Records[0]["key"])
		assert.Equal(t, "session.pace", out.Records[1]["key"])
	})

	t.Run("filters by layer and status", func(t *testing.T) {
		server, _ := seed(t)

		_, out, err := server.handleRecall(context.Background(), &mcp.CallToolRequest{}, recallInput{
			SubjectID: "learner-1",
			Layer:     "hypothesis",
			Statuses:  []string{"suspected"},
		})
		require.NoError(t, err)
		require.Equal(t, 1, out.Count)
		assert.Equal(t, "style.visual", out.Records[0]["key"])
	})

	t.Run("filters by minimum confidence", func(t *testing.T) {
		server, _ := seed(t)

		_, out, err := server.handleRecall(context.Background(), &mcp.CallToolRequest{}, recallInput{
			SubjectID:     "learner-1",
			MinConfidence: "medium",
		})
		require.NoError(t, err)
		require.Equal(t, 1, out.Count)
		assert.Equal(t, "quiz.recall", out.Records[0]["key"])
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		server, _ := seed(t)

		_, _, err := server.handleRecall(context.Background(), &mcp.CallToolRequest{}, recallInput{
			SubjectID: "learner-1",
			Statuses:  []string{"pending"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrValidation)
	})
}

func TestHandleSummary(t *testing.T) {
	server, clock := newToolServer(t)
	ctx := context.Background()

	_, _, err := server.handleObserve(ctx, &mcp.CallToolRequest{}, observeInput{
		SubjectID: "learner-1",
		Layer:     "ephemeral",
		Key:       "session.pace",
		Content:   map[string]any{"pace": "fast"},
	})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, hyp, err := server.handleObserve(ctx, &mcp.CallToolRequest{}, observeInput{
		SubjectID: "learner-1",
		Layer:     "hypothesis",
		Key:       "style.visual",
		Content:   map[string]any{"pattern": "prefers diagrams"},
	})
	require.NoError(t, err)

	_, _, err = server.handleValidate(ctx, &mcp.CallToolRequest{}, validateInput{
		RecordID: hyp.ID,
		Outcome:  "validated",
	})
	require.NoError(t, err)

	result, out, err := server.handleSummary(ctx, &mcp.CallToolRequest{}, summaryInput{SubjectID: "learner-1"})
	require.NoError(t, err)
	assert.Equal(t, "learner-1", out.SubjectID)
	assert.Len(t, out.StablePatterns, 1)
	assert.Len(t, out.ActiveHypotheses, 0)
	assert.Len(t, out.RecentObservations, 1)
	assert.Equal(t, 2, out.Stats["total"])
	assert.Equal(t, 1, out.Stats["ephemeral"])
	assert.Equal(t, 0, out.Stats["hypothesis"])
	assert.Equal(t, 1, out.Stats["stable"])
	assert.Contains(t, resultText(t, result), "1 stable patterns")
}

func TestHandleValidate(t *testing.T) {
	seedHypothesis := func(t *testing.T, server *Server) string {
		_, out, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "hypothesis",
			Key:       "style.visual",
			Content:   map[string]any{"pattern": "prefers diagrams"},
		})
		require.NoError(t, err)
		return out.ID
	}

	t.Run("validated hypothesis becomes stable", func(t *testing.T) {
		server, _ := newToolServer(t)
		id := seedHypothesis(t, server)

		result, out, err := server.handleValidate(context.Background(), &mcp.CallToolRequest{}, validateInput{
			RecordID: id,
			Outcome:  "validated",
		})
		require.NoError(t, err)
		assert.Equal(t, "stable", out.Layer)
		assert.Equal(t, "active", out.Status)
		assert.Contains(t, resultText(t, result), "stable")
	})

	t.Run("rejected hypothesis resolves in place", func(t *testing.T) {
		server, _ := newToolServer(t)
		id := seedHypothesis(t, server)

		_, out, err := server.handleValidate(context.Background(), &mcp.CallToolRequest{}, validateInput{
			RecordID: id,
			Outcome:  "rejected",
		})
		require.NoError(t, err)
		assert.Equal(t, "hypothesis", out.Layer)
		assert.Equal(t, "resolved", out.Status)
	})

	t.Run("rejects unknown outcome", func(t *testing.T) {
		server, _ := newToolServer(t)
		id := seedHypothesis(t, server)

		_, _, err := server.handleValidate(context.Background(), &mcp.CallToolRequest{}, validateInput{
			RecordID: id,
			Outcome:  "maybe",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrValidation)
	})

	t.Run("unknown record", func(t *testing.T) {
		server, _ := newToolServer(t)

		_, _, err := server.handleValidate(context.Background(), &mcp.CallToolRequest{}, validateInput{
			RecordID: "nope",
			Outcome:  "rejected",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrRecordNotFound)
	})
}

func TestHandlePromote(t *testing.T) {
	t.Run("walks the promotion ladder", func(t *testing.T) {
		server, _ := newToolServer(t)

		_, seeded, err := server.handleObserve(context.Background(), &mcp.CallToolRequest{}, observeInput{
			SubjectID: "learner-1",
			Layer:     "ephemeral",
			Key:       "style.visual",
			Content:   map[string]any{"pattern": "prefers diagrams"},
		})
		require.NoError(t, err)

		_, hyp, err := server.handlePromote(context.Background(), &mcp.CallToolRequest{}, promoteInput{RecordID: seeded.ID})
		require.NoError(t, err)
		assert.Equal(t, "hypothesis", hyp.Layer)
		assert.Equal(t, "suspected", hyp.Status)

		result, stable, err := server.handlePromote(context.Background(), &mcp.CallToolRequest{}, promoteInput{RecordID: seeded.ID})
		require.NoError(t, err)
		assert.Equal(t, "stable", stable.Layer)
		assert.Equal(t, "active", stable.Status)
		assert.Contains(t, resultText(t, result), "stable")
	})

	t.Run("unknown record", func(t *testing.T) {
		server, _ := newToolServer(t)

		_, _, err := server.handlePromote(context.Background(), &mcp.CallToolRequest{}, promoteInput{RecordID: "nope"})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrRecordNotFound)
	})
}
