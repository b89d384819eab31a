package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText(-5s) error = nil, want negative rejected")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) error = nil, want parse error")
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration(5 * time.Minute))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(b) != `"5m0s"` {
		t.Errorf("Marshal = %s, want \"5m0s\"", b)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("nats-token-123")

	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", s.String())
	}
	if got := fmt.Sprintf("%v", s); got != "[REDACTED]" {
		t.Errorf("Sprintf(%%v) = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%#v", s); got != "Secret([REDACTED])" {
		t.Errorf("Sprintf(%%#v) = %q, want Secret([REDACTED])", got)
	}
	if s.Value() != "nats-token-123" {
		t.Errorf("Value() = %q, want raw token", s.Value())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false, want true")
	}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(b) != `"[REDACTED]"` {
		t.Errorf("Marshal = %s, want redacted", b)
	}
}

func TestSecret_Empty(t *testing.T) {
	var s Secret

	if s.String() != "" {
		t.Errorf("String() = %q, want empty", s.String())
	}
	if s.IsSet() {
		t.Error("IsSet() = true, want false")
	}
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"raw-value"`), &s); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if s.Value() != "raw-value" {
		t.Errorf("Value() = %q, want raw-value", s.Value())
	}
}
