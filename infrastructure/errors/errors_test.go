package errors

import (
	"errors"
	"testing"
)

func TestCoreError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CoreError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(KindGate, ErrCodeGateFailed, "test message"),
			want: "[GATE_5001] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(KindTransient, ErrCodeNotFound, "test message", errors.New("underlying")),
			want: "[TRANSIENT_6001] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoreError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(KindTransient, ErrCodeNotFound, "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestCoreError_WithDetail(t *testing.T) {
	err := New(KindStructural, ErrCodeSchemaViolation, "test")
	err.WithDetail("field", "username").WithDetail("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
}

func TestOwnershipConflict(t *testing.T) {
	err := OwnershipConflict("lib/x.py", "PKG-A", "PKG-B")

	if err.Code != ErrCodeOwnershipConflict {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeOwnershipConflict)
	}
	if err.Kind != KindOwnership {
		t.Errorf("Kind = %v, want %v", err.Kind, KindOwnership)
	}
	if err.Details["current_owner"] != "PKG-A" {
		t.Errorf("Details[current_owner] = %v, want PKG-A", err.Details["current_owner"])
	}
}

func TestWriteViolation(t *testing.T) {
	err := WriteViolation("ledger/governance.jsonl", "attempted non-append write")

	if err.Code != ErrCodeWriteViolation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeWriteViolation)
	}
	if err.Kind != KindWrite {
		t.Errorf("Kind = %v, want %v", err.Kind, KindWrite)
	}
}

func TestHashMismatch(t *testing.T) {
	err := HashMismatch("cfg/x.txt", "sha256:aaaa", "sha256:bbbb")

	if err.Kind != KindIntegrity {
		t.Errorf("Kind = %v, want %v", err.Kind, KindIntegrity)
	}
	if err.Details["expected"] != "sha256:aaaa" {
		t.Errorf("Details[expected] = %v, want sha256:aaaa", err.Details["expected"])
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"matching kind", OwnershipConflict("p", "A", "B"), KindOwnership, true},
		{"mismatched kind", OwnershipConflict("p", "A", "B"), KindIntegrity, false},
		{"standard error", errors.New("plain"), KindOwnership, false},
		{"nil error", nil, KindOwnership, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	ce := GateFailed("G1", "chain gate failed")
	if got := As(ce); got != ce {
		t.Errorf("As() = %v, want %v", got, ce)
	}
	if got := As(errors.New("plain")); got != nil {
		t.Errorf("As() = %v, want nil", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"ownership conflict", OwnershipConflict("p", "A", "B"), 2},
		{"gate failure", GateFailed("G1", "x"), 1},
		{"unrecognized error", errors.New("boom"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %v, want %v", got, tt.want)
			}
		})
	}
}
