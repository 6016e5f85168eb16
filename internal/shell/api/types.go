package api

import (
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateDeploymentRequest is the request body for starting a deploy.
type CreateDeploymentRequest struct {
	DeploymentID string            `json:"deployment_id"`
	SourceDir    string            `json:"source_dir"`
	Env          map[string]string `json:"env,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// AcceptedResponse is returned when a deploy has been admitted.
type AcceptedResponse struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	ImageTag     string `json:"image_tag"`
	EventsURL    string `json:"events_url"`
}

// DeploymentResponse is the response for deployment queries.
type DeploymentResponse struct {
	ID           string                   `json:"id"`
	AttemptID    string                   `json:"attempt_id,omitempty"`
	Status       string                   `json:"status"`
	InProgress   bool                     `json:"in_progress"`
	ImageTag     string                   `json:"image_tag,omitempty"`
	ContainerID  string                   `json:"container_id,omitempty"`
	Port         int                      `json:"port,omitempty"`
	URL          string                   `json:"url,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	Container    *ContainerStatusResponse `json:"container,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	StoppedAt    *time.Time               `json:"stopped_at,omitempty"`
}

// ContainerStatusResponse is the runtime's view of a deployment's container.
type ContainerStatusResponse struct {
	Running   bool       `json:"running"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ListDeploymentsResponse is the response for listing deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
}

// LogsResponse carries recent container output.
type LogsResponse struct {
	DeploymentID string `json:"deployment_id"`
	ContainerID  string `json:"container_id"`
	Tail         int    `json:"tail"`
	Logs         string `json:"logs"`
}

// StopResponse reports what a stop request achieved.
type StopResponse struct {
	DeploymentID string `json:"deployment_id"`
	ContainerID  string `json:"container_id"`
	Stopped      bool   `json:"stopped"`
	Removed      bool   `json:"removed"`
	Error        string `json:"error,omitempty"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func containerStatusResponse(s domain.ContainerStatus) *ContainerStatusResponse {
	return &ContainerStatusResponse{
		Running:   s.Running,
		Status:    s.Status,
		StartedAt: s.StartedAt,
	}
}
