package alert

import (
	"context"
	"errors"
	"log/slog"

	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
)

var tracer = telemetry.Tracer("services/alert")

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Sink surfaces operational alerts: periodic warnings while the
// scanner is degraded, and a single critical alert when recovery is
// exhausted.
type Sink interface {
	Raise(ctx context.Context, severity Severity, message string) error
}

// Slog logs alerts through the default logger. Always wired so an
// escalation is visible even with no email sink configured.
type Slog struct{}

var _ Sink = Slog{}

func (Slog) Raise(ctx context.Context, severity Severity, message string) error {
	switch severity {
	case SeverityCritical:
		slog.ErrorContext(ctx, "alert", "severity", severity, "message", message)
	case SeverityWarning:
		slog.WarnContext(ctx, "alert", "severity", severity, "message", message)
	default:
		slog.InfoContext(ctx, "alert", "severity", severity, "message", message)
	}
	return nil
}

// Multi fans one alert out to every sink, joining any errors.
type Multi []Sink

var _ Sink = Multi{}

func (m Multi) Raise(ctx context.Context, severity Severity, message string) error {
	var errlist []error
	for _, sink := range m {
		err := sink.Raise(ctx, severity, message)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}
