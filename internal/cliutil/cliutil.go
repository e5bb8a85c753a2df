// Package cliutil holds the small pieces shared by every cmd/ binary:
// JSON/human dual-mode output and ledger client setup, so each CLI's
// main.go stays a thin flag dispatcher.
package cliutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/control-plane/governor/infrastructure/logging"
	"github.com/control-plane/governor/infrastructure/redaction"
	"github.com/control-plane/governor/internal/ledger"
)

// PrintResult renders v as indented JSON when asJSON is set, otherwise
// delegates to human, which prints whatever plain-text form fits the
// command.
func PrintResult(v interface{}, asJSON bool, human func()) error {
	if asJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	human()
	return nil
}

// OpenLedger opens the ledger at ledgerPath (creating its directory and an
// empty file if absent) for reads
// and dedupe-guarded writes, with indexing enabled for lookups.
func OpenLedger(planeRoot, ledgerPath string) (*ledger.Client, error) {
	return ledger.New(planeRoot, ledgerPath, ledger.Options{EnableIndex: true, BatchSize: 1})
}

// Fatalf prints a formatted error to stderr and exits 1, matching every
// cmd/ binary's top-level error handling. The message is redacted first:
// an underlying error occasionally wraps a config value (signing key,
// token) verbatim, and stderr output is the one place that isn't already
// behind --json's structured, caller-controlled shape.
func Fatalf(format string, args ...interface{}) {
	msg := redaction.RedactAll(fmt.Sprintf(format, args...))
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

// NewLogger builds a structured logger for one CLI invocation, reading
// LOG_LEVEL/LOG_FORMAT from the environment like every other entry point.
func NewLogger(service string) *logging.Logger {
	return logging.NewFromEnv(service)
}

// InvocationContext stamps a fresh trace ID and the invocation's plane
// root/tier onto a background context, for the logger's WithContext fields.
func InvocationContext(planeRoot, tier string) context.Context {
	ctx := logging.WithTraceID(context.Background(), logging.NewTraceID())
	ctx = logging.WithPlaneRoot(ctx, planeRoot)
	if tier != "" {
		ctx = logging.WithTier(ctx, tier)
	}
	return ctx
}
