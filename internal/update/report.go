package update

import (
	"errors"
	"log/slog"

	"quoteupdater/internal/telemetry"
)

// Sink receives fetch failures. Tasks never return errors to the scheduler;
// everything they want to say goes here.
type Sink interface {
	// ReportErrors logs one aggregated report for a task.
	ReportErrors(label string, causes []error)
	// ReportError logs a single failure outside of a task report.
	ReportError(err error)
}

// LogSink writes reports to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSink) ReportErrors(label string, causes []error) {
	if len(causes) == 0 {
		return
	}
	telemetry.TaskErrors(len(causes))
	msgs := make([]string, 0, len(causes))
	for _, c := range causes {
		msgs = append(msgs, c.Error())
	}
	s.logger().Error("quote update failed",
		"label", label,
		"causes", msgs,
		"error", errors.Join(causes...),
	)
}

func (s LogSink) ReportError(err error) {
	if err == nil {
		return
	}
	s.logger().Error("quote update error", "error", err)
}
