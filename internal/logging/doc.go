// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, subject, request)
//   - Defense-in-depth redaction of credentials and record content
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithSubjectID(ctx, "learner-17")
//	ctx = logging.WithRequestID(ctx, reqID)
//	logger.Info(ctx, "recorded observation", zap.String("layer", "ephemeral"))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-24T10:15:30Z",
//	  "level": "info",
//	  "msg": "recorded observation",
//	  "trace_id": "abc123",
//	  "subject.id": "learner-17",
//	  "request.id": "req_456",
//	  "layer": "ephemeral"
//	}
//
// # Configuration Precedence
//
// Configuration follows standard memoryd precedence:
//  1. Defaults (NewDefaultConfig)
//  2. File (config.yaml)
//  3. Environment variables (MEMORYD_LOGGING__*)
//
// # Redaction
//
// Sensitive data is redacted at multiple layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering
//  3. Encoder-level pattern matching
//
// The default field list covers credentials and "content": record content
// holds behavioral inferences about learners and never belongs in logs.
// Use helpers for manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Sampling
//
// Level-aware sampling prevents log floods:
//   - Trace: first 1 per second, drop rest
//   - Debug: first 10 per second, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoSecrets(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
