package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrEmptyDeploymentID = errors.New("deployment id is required")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending  DeploymentStatus = "pending"
	StatusBuilding DeploymentStatus = "building"
	StatusStarting DeploymentStatus = "starting"
	StatusRunning  DeploymentStatus = "running"
	StatusFailed   DeploymentStatus = "failed"
	StatusStopped  DeploymentStatus = "stopped"
)

// IsTerminal reports whether no further progress is expected without a new deploy.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusStopped
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment is one build-and-run cycle for a project.
//
// The orchestrator never persists this value. The surrounding system may keep
// it in memory to report progress; after a restart it is rebuilt from the
// labels on live containers.
type Deployment struct {
	ID           string            `json:"id"`
	AttemptID    string            `json:"attempt_id"`
	SourceDir    string            `json:"source_dir,omitempty"`
	ImageTag     string            `json:"image_tag"`
	Env          map[string]string `json:"env,omitempty"`
	Status       DeploymentStatus  `json:"status"`
	ContainerID  string            `json:"container_id,omitempty"`
	Port         int               `json:"port,omitempty"`
	URL          string            `json:"url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	StoppedAt    *time.Time        `json:"stopped_at,omitempty"`
}

// NewDeployment creates a pending deployment for one deploy attempt.
func NewDeployment(id, sourceDir, imageTag string, env map[string]string) (*Deployment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyDeploymentID
	}

	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}

	now := time.Now().UTC()
	return &Deployment{
		ID:        id,
		AttemptID: uuid.New().String(),
		SourceDir: sourceDir,
		ImageTag:  imageTag,
		Env:       copied,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition attempts to transition the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	d.UpdatedAt = time.Now().UTC()

	// Clear error on retry
	if to == StatusBuilding {
		d.ErrorMessage = ""
	}

	if to == StatusRunning {
		now := time.Now().UTC()
		d.StartedAt = &now
		d.StoppedAt = nil
	}
	if to == StatusStopped {
		now := time.Now().UTC()
		d.StoppedAt = &now
	}

	return nil
}

// TransitionToFailed transitions to failed status with an error message.
func (d *Deployment) TransitionToFailed(errorMessage string) error {
	if err := ValidateTransition(d.Status, StatusFailed); err != nil {
		return err
	}
	d.Status = StatusFailed
	d.ErrorMessage = errorMessage
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:  {StatusBuilding, StatusFailed},
	StatusBuilding: {StatusStarting, StatusFailed},
	StatusStarting: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopped, StatusFailed},
	StatusStopped:  {StatusBuilding},
	StatusFailed:   {StatusBuilding, StatusStopped},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Results
// =============================================================================

// DeploymentResult is what a successful build-and-deploy hands back.
type DeploymentResult struct {
	ContainerID string `json:"container_id"`
	Port        int    `json:"port"`
	URL         string `json:"url"`
}

// ContainerStatus is the runtime's view of a deployed container.
type ContainerStatus struct {
	Running   bool       `json:"running"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// UnknownContainerStatus is reported when the runtime cannot be queried.
func UnknownContainerStatus() ContainerStatus {
	return ContainerStatus{Running: false, Status: "unknown"}
}

// DeploymentSummary is the label-derived view of a managed container.
type DeploymentSummary struct {
	DeploymentID string    `json:"deployment_id"`
	ContainerID  string    `json:"container_id"`
	Image        string    `json:"image"`
	Port         int       `json:"port"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}
