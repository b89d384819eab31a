// Package events publishes memoryd change notifications over NATS.
//
// Record mutations go to subjects:
//
//	{prefix}.record.created
//	{prefix}.record.merged
//	{prefix}.record.promoted
//	{prefix}.record.validated
//	{prefix}.record.resolved
//
// Finished sweeps go to:
//
//	{prefix}.sweep.decay
//	{prefix}.sweep.expired
//
// Delivery is best-effort. The engine must never stall on the bus, so a
// failed publish is logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// DefaultSubjectPrefix is used when the configuration leaves the prefix
// empty.
const DefaultSubjectPrefix = "memoryd"

// RecordEvent is the payload published for a record mutation.
type RecordEvent struct {
	Event     string         `json:"event"`
	Record    *memory.Record `json:"record"`
	Timestamp time.Time      `json:"timestamp"`
}

// SweepEvent is the payload published for a finished sweep cycle.
type SweepEvent struct {
	Sweep     string    `json:"sweep"`
	Changed   int64     `json:"changed"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends engine events to NATS. It implements memory.EventSink.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

var _ memory.EventSink = (*Publisher)(nil)

// NewPublisher creates a publisher over an established connection. The
// connection stays owned by the caller.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &Publisher{
		nc:     nc,
		prefix: prefix,
		logger: logger,
	}, nil
}

// RecordChanged publishes a record mutation. Failures are logged and
// dropped; the write path never waits on the bus.
func (p *Publisher) RecordChanged(ctx context.Context, event string, rec *memory.Record) {
	if rec == nil {
		return
	}

	subject := fmt.Sprintf("%s.record.%s", p.prefix, event)
	data, err := json.Marshal(RecordEvent{
		Event:     event,
		Record:    rec,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("marshaling record event failed",
			zap.String("subject", subject),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publishing record event failed",
			zap.String("subject", subject),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}

// SweepCompleted publishes a finished sweep cycle. Failures are logged
// and dropped.
func (p *Publisher) SweepCompleted(ctx context.Context, sweep string, changed int64) {
	subject := fmt.Sprintf("%s.sweep.%s", p.prefix, sweep)
	data, err := json.Marshal(SweepEvent{
		Sweep:     sweep,
		Changed:   changed,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("marshaling sweep event failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publishing sweep event failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Connect dials the configured NATS server. The connection retries in the
// background after the initial dial, so a bus outage degrades delivery
// instead of taking the daemon down.
func Connect(cfg *config.EventsConfig, logger *zap.Logger) (*nats.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("events config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}
