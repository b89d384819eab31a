package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T, authToken string) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:          "127.0.0.1",
		Port:          -1, // Random port
		NoLog:         true,
		NoSigs:        true,
		Authorization: authToken,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connectTest(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func testRecord() *memory.Record {
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return &memory.Record{
		ID:            "rec-1",
		SubjectID:     "learner-1",
		Layer:         memory.LayerEphemeral,
		Key:           "session.pace",
		Content:       map[string]any{"pace": "steady"},
		Status:        memory.StatusActive,
		Confidence:    memory.ConfidenceLow,
		EvidenceCount: 1,
		FirstObserved: now.Truncate(24 * time.Hour),
		LastUpdated:   now,
	}
}

func TestNewPublisher(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	p, err := NewPublisher(nc, "", zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, DefaultSubjectPrefix, p.prefix)
}

func TestNewPublisher_NilConn(t *testing.T) {
	p, err := NewPublisher(nil, "memoryd", zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "nats connection cannot be nil")
}

func TestNewPublisher_NilLogger(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	p, err := NewPublisher(nc, "memoryd", nil)
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "logger cannot be nil")
}

func TestPublisher_RecordChanged(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	sub, err := nc.SubscribeSync("memoryd.record.created")
	require.NoError(t, err)

	p, err := NewPublisher(nc, "", zap.NewNop())
	require.NoError(t, err)

	p.RecordChanged(context.Background(), memory.EventCreated, testRecord())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event RecordEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, memory.EventCreated, event.Event)
	require.NotNil(t, event.Record)
	assert.Equal(t, "rec-1", event.Record.ID)
	assert.Equal(t, "learner-1", event.Record.SubjectID)
	assert.Equal(t, memory.StatusActive, event.Record.Status)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_RecordChanged_CustomPrefix(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	sub, err := nc.SubscribeSync("edu.record.merged")
	require.NoError(t, err)

	p, err := NewPublisher(nc, "edu", zap.NewNop())
	require.NoError(t, err)

	p.RecordChanged(context.Background(), memory.EventMerged, testRecord())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event RecordEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, memory.EventMerged, event.Event)
}

func TestPublisher_RecordChanged_NilRecord(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	sub, err := nc.SubscribeSync("memoryd.record.>")
	require.NoError(t, err)

	p, err := NewPublisher(nc, "", zap.NewNop())
	require.NoError(t, err)

	p.RecordChanged(context.Background(), memory.EventCreated, nil)

	_, err = sub.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "nil record should publish nothing")
}

func TestPublisher_SweepCompleted(t *testing.T) {
	server := startTestNATSServer(t, "")
	nc := connectTest(t, server)

	sub, err := nc.SubscribeSync("memoryd.sweep.decay")
	require.NoError(t, err)

	p, err := NewPublisher(nc, "", zap.NewNop())
	require.NoError(t, err)

	p.SweepCompleted(context.Background(), memory.SweepDecay, 3)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event SweepEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, memory.SweepDecay, event.Sweep)
	assert.Equal(t, int64(3), event.Changed)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_ClosedConnectionDoesNotPanic(t *testing.T) {
	server := startTestNATSServer(t, "")

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	p, err := NewPublisher(nc, "", zap.NewNop())
	require.NoError(t, err)

	nc.Close()

	// Publishes on a closed connection are dropped, never surfaced.
	p.RecordChanged(context.Background(), memory.EventCreated, testRecord())
	p.SweepCompleted(context.Background(), memory.SweepExpired, 0)
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t, "")

	cfg := &config.EventsConfig{URL: server.ClientURL()}
	nc, err := Connect(cfg, zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	assert.True(t, nc.IsConnected())
}

func TestConnect_TokenAuth(t *testing.T) {
	server := startTestNATSServer(t, "s3cret")

	cfg := &config.EventsConfig{URL: server.ClientURL()}
	require.NoError(t, cfg.Token.UnmarshalText([]byte("s3cret")))

	nc, err := Connect(cfg, zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	assert.True(t, nc.IsConnected())
}

func TestConnect_NilConfig(t *testing.T) {
	nc, err := Connect(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, nc)
}
