package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		service string
		level   string
		format  string
	}{
		{"json logger", "cpplane", "info", "json"},
		{"text logger", "cpplane", "debug", "text"},
		{"invalid level", "cpplane", "invalid", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.service, tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.service != tt.service {
				t.Errorf("service = %v, want %v", logger.service, tt.service)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger := New("cpplane", "info", "json")
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTier(ctx, "HO2")
	ctx = WithPlaneRoot(ctx, "/t/ho2")

	entry := logger.WithContext(ctx)
	if entry == nil {
		t.Fatal("WithContext() returned nil")
	}
	if entry.Data["service"] != "cpplane" {
		t.Errorf("service field = %v, want cpplane", entry.Data["service"])
	}
	if entry.Data["trace_id"] != "trace-123" {
		t.Errorf("trace_id field = %v, want trace-123", entry.Data["trace_id"])
	}
	if entry.Data["tier"] != "HO2" {
		t.Errorf("tier field = %v, want HO2", entry.Data["tier"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	logger := New("cpplane", "info", "json")
	entry := logger.WithFields(map[string]interface{}{"package_id": "PKG-A"})
	if entry.Data["package_id"] != "PKG-A" {
		t.Errorf("package_id field = %v, want PKG-A", entry.Data["package_id"])
	}
	if entry.Data["service"] != "cpplane" {
		t.Errorf("service field = %v, want cpplane", entry.Data["service"])
	}
}

func TestWithFieldsNil(t *testing.T) {
	logger := New("cpplane", "info", "json")
	entry := logger.WithFields(nil)
	if entry.Data["service"] != "cpplane" {
		t.Errorf("service field = %v, want cpplane", entry.Data["service"])
	}
}

func TestLogGateResult(t *testing.T) {
	var buf bytes.Buffer
	logger := New("cpplane", "info", "json")
	logger.SetOutput(&buf)

	logger.LogGateResult(context.Background(), "G1", false, "PKG-A", 2)

	output := buf.String()
	if !strings.Contains(output, "G1") || !strings.Contains(output, "PKG-A") {
		t.Errorf("output missing gate/package fields: %s", output)
	}
	if !strings.Contains(output, "gate failed") {
		t.Errorf("expected failing gate to log a warning message: %s", output)
	}
}

func TestLogLedgerWrite(t *testing.T) {
	var buf bytes.Buffer
	logger := New("cpplane", "info", "json")
	logger.SetOutput(&buf)

	logger.LogLedgerWrite(context.Background(), "ledger/governance.jsonl", "GENESIS", "LED-abc123")

	output := buf.String()
	if !strings.Contains(output, "GENESIS") || !strings.Contains(output, "LED-abc123") {
		t.Errorf("output missing ledger fields: %s", output)
	}
}

func TestNewTraceID(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || b == "" || a == b {
		t.Errorf("NewTraceID() should produce distinct non-empty IDs, got %q and %q", a, b)
	}
}
