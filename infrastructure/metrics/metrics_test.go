package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.GatesEvaluatedTotal == nil {
		t.Error("GatesEvaluatedTotal should not be nil")
	}
	if m.LedgerEntriesTotal == nil {
		t.Error("LedgerEntriesTotal should not be nil")
	}
	if m.ChainVerifyDuration == nil {
		t.Error("ChainVerifyDuration should not be nil")
	}
}

func TestRecordGate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordGate("test-service", "G1", true)
	m.RecordGate("test-service", "G1", false)
	m.RecordGate("test-service", "SCHEMA", false)
}

func TestRecordLedgerEntry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordLedgerEntry("test-service", "GENESIS", 5*time.Millisecond)
	m.RecordLedgerEntry("test-service", "INSTALL", 10*time.Millisecond)
}

func TestRecordSegmentRotation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordSegmentRotation("test-service", "bytes")
	m.RecordSegmentRotation("test-service", "day_boundary")
}

func TestSetActiveSegmentBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetActiveSegmentBytes(4096)
	m.SetActiveSegmentBytes(0)
}

func TestRecordChainVerify(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordChainVerify("test-service", 250*time.Millisecond, map[string]int{
		"chain_break":        1,
		"segment_link_break": 0,
	})
}

func TestRecordChainOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordChainOp("test-service", "summarize-up", true)
	m.RecordChainOp("test-service", "push-policy", false)
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
