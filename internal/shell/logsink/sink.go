// Package logsink delivers build log events from the orchestrator to the
// surrounding system. Sinks must not block the caller for long: build output
// is forwarded line by line from the build loop.
package logsink

import (
	"log/slog"

	"github.com/artpar/launchpad/internal/core/domain"
)

// Sink receives build log events.
type Sink interface {
	EmitLog(deploymentID string, level domain.LogLevel, message string)
}

// EventSink is implemented by sinks that accept an already stamped event.
// Buffering stages forward through it so events keep their emission time.
type EventSink interface {
	EmitEvent(ev domain.BuildLogEvent)
}

// Forward hands ev to s, keeping its timestamp when s is an EventSink.
func Forward(s Sink, ev domain.BuildLogEvent) {
	if es, ok := s.(EventSink); ok {
		es.EmitEvent(ev)
		return
	}
	s.EmitLog(ev.DeploymentID, ev.Level, ev.Message)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(deploymentID string, level domain.LogLevel, message string)

// EmitLog calls f.
func (f SinkFunc) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	f(deploymentID, level, message)
}

// Nop discards every event.
var Nop Sink = SinkFunc(func(string, domain.LogLevel, string) {})

// Multi fans each event out to all sinks in order.
type Multi []Sink

// EmitLog forwards to every sink.
func (m Multi) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	m.EmitEvent(domain.NewBuildLogEvent(deploymentID, level, message))
}

// EmitEvent forwards ev to every sink.
func (m Multi) EmitEvent(ev domain.BuildLogEvent) {
	for _, s := range m {
		if s != nil {
			Forward(s, ev)
		}
	}
}

// SlogSink writes events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "buildlog")}
}

// EmitLog logs the event at the matching level.
func (s *SlogSink) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	if level == domain.LogLevelError {
		s.logger.Error(message, "deployment_id", deploymentID)
		return
	}
	s.logger.Info(message, "deployment_id", deploymentID)
}
