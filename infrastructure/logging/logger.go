// Package logging provides structured logging with trace ID and
// tier/plane-scoped fields, used by the CLI entry points through
// internal/cliutil.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through a single CLI
// invocation.
type ContextKey string

const (
	// TraceIDKey is the context key for a per-invocation trace ID.
	TraceIDKey ContextKey = "trace_id"
	// TierKey is the context key for the active tier (HO3/HO2/HO1).
	TierKey ContextKey = "tier"
	// PlaneRootKey is the context key for the resolved plane root.
	PlaneRootKey ContextKey = "plane_root"
)

// Logger wraps logrus.Logger with service-scoped structured fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance for the given service/level/format.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.ToLower(format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables. Defaults to "info" and "text" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "text"
	}
	return New(service, level, format)
}

// WithContext creates a log entry carrying service + trace/tier/plane_root
// fields present in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if tier := ctx.Value(TierKey); tier != nil {
		entry = entry.WithField("tier", tier)
	}
	if root := ctx.Value(PlaneRootKey); root != nil {
		entry = entry.WithField("plane_root", root)
	}

	return entry
}

// WithFields creates a log entry with custom fields plus the service name.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a log entry with an error field plus the service name.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// NewTraceID generates a new trace ID for a CLI invocation.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTier adds the active tier to the context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, TierKey, tier)
}

// WithPlaneRoot adds the resolved plane root to the context.
func WithPlaneRoot(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, PlaneRootKey, root)
}

// Domain-scoped structured helpers, mirrored after the teacher's
// LogRequest/LogDatabaseQuery family but scoped to gate, ledger, and chain
// operation outcomes instead of HTTP/DB calls.

// LogGateResult logs the outcome of one preflight/factory gate.
func (l *Logger) LogGateResult(ctx context.Context, gate string, passed bool, packageID string, issues int) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"gate":       gate,
		"package_id": packageID,
		"passed":     passed,
		"issues":     issues,
	})
	if passed {
		entry.Info("gate evaluated")
	} else {
		entry.Warn("gate failed")
	}
}

// LogLedgerWrite logs a single ledger append.
func (l *Logger) LogLedgerWrite(ctx context.Context, ledgerPath, eventType, entryID string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"ledger":     ledgerPath,
		"event_type": eventType,
		"entry_id":   entryID,
	}).Info("ledger entry written")
}

// LogChainVerify logs the outcome of a chain verification pass.
func (l *Logger) LogChainVerify(ctx context.Context, ledgerPath string, valid bool, issueCount int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"ledger":      ledgerPath,
		"valid":       valid,
		"issues":      issueCount,
		"duration_ms": duration.Milliseconds(),
	})
	if valid {
		entry.Info("chain verified")
	} else {
		entry.Error("chain verification failed")
	}
}

// LogChainOp logs a chain operation (summarize-up, push-policy, apply-policy)
// result including whether it was a no-op due to an existing dedupe key.
func (l *Logger) LogChainOp(ctx context.Context, op, instanceID string, wrote bool) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"op":          op,
		"instance_id": instanceID,
		"wrote":       wrote,
	}).Info("chain operation evaluated")
}
