package events

import (
	"context"

	"github.com/shardorch/shardorch/internal/logging"
)

// LogSink writes events to a logger.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink logging through logger, or the global logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogSink{logger: logger.With(map[string]any{"component": "events"})}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	fields := map[string]any{
		"type":    string(e.Type),
		"version": e.Version,
	}
	if e.InstanceID != "" {
		fields["instance"] = e.InstanceID
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	for k, v := range e.Attributes {
		fields[k] = v
	}

	l := s.logger.WithConfigName(e.ConfigName)
	switch {
	case e.Error != "":
		fields["error"] = e.Error
		l.Warnf("orchestration event", fields)
	default:
		l.Infof("orchestration event", fields)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
