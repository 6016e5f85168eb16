package domain

import "time"

// LogLevel is the severity of a build log event.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// BuildLogEvent is one line of deploy output forwarded to the log sink.
// Events are ephemeral; the orchestrator never stores them.
type BuildLogEvent struct {
	DeploymentID string    `json:"deployment_id"`
	Level        LogLevel  `json:"level"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewBuildLogEvent stamps a log line with the current time.
func NewBuildLogEvent(deploymentID string, level LogLevel, message string) BuildLogEvent {
	return BuildLogEvent{
		DeploymentID: deploymentID,
		Level:        level,
		Message:      message,
		Timestamp:    time.Now().UTC(),
	}
}
