package clients

import (
	"context"
	"errors"
	"fmt"

	"connmonitor/core/log"
	"connmonitor/models"
)

// LogSink writes alerts to the process log. It is used when no chat sink is
// configured and as the last member of every MultiSink.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	switch severity {
	case models.AlertSeverityError:
		log.Error("🚨 %s", message)
	case models.AlertSeverityWarning:
		log.Warn("⚠️ %s", message)
	default:
		log.Info("ℹ️ %s", message)
	}
	return nil
}

// MultiSink forwards each alert to every member. All members are attempted;
// their errors are joined.
type MultiSink struct {
	sinks []NotificationSink
}

func NewMultiSink(sinks ...NotificationSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.SendAlert(ctx, message, severity); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Len() int {
	return len(s.sinks)
}
