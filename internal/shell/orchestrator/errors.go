package orchestrator

import (
	"errors"
	"fmt"
)

// ErrDeploymentInProgress is returned when a deploy for the same id is already running.
var ErrDeploymentInProgress = errors.New("deployment already in progress")

// Stage names a step of the build-and-deploy pipeline.
type Stage string

const (
	StageAdmit      Stage = "admit"
	StageDescriptor Stage = "descriptor"
	StageBuild      Stage = "build"
	StageReplace    Stage = "replace"
	StageAllocate   Stage = "allocate"
	StageLaunch     Stage = "launch"
)

// DeploymentError is the single error a failed build-and-deploy returns.
type DeploymentError struct {
	Stage        Stage
	DeploymentID string
	Err          error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.DeploymentID, e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// ConfigError reports a problem preparing the build context.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ImageBuildError reports a failed image build. Output holds everything the
// build printed before it failed.
type ImageBuildError struct {
	ImageTag string
	Message  string
	Output   string
	Err      error
}

func (e *ImageBuildError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("build %s: %s", e.ImageTag, e.Message)
	}
	return fmt.Sprintf("build %s: %v", e.ImageTag, e.Err)
}

func (e *ImageBuildError) Unwrap() error {
	return e.Err
}

// ContainerStartError reports a container that was created but is not
// running after the readiness wait, or that could not be created or started.
type ContainerStartError struct {
	ContainerID string
	State       string
	Err         error
}

func (e *ContainerStartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %s failed to start: %v", e.ContainerID, e.Err)
	}
	return fmt.Sprintf("container %s failed to start (state: %s)", e.ContainerID, e.State)
}

func (e *ContainerStartError) Unwrap() error {
	return e.Err
}

// PortAllocationWarning records that a port was issued without consulting
// the runtime. It is logged, never returned.
type PortAllocationWarning struct {
	Port int
	Err  error
}

func (e *PortAllocationWarning) Error() string {
	return fmt.Sprintf("port %d issued without reconciliation: %v", e.Port, e.Err)
}

func (e *PortAllocationWarning) Unwrap() error {
	return e.Err
}

// RuntimeQueryError records a failed lifecycle query. Lifecycle operations
// log it and return a degraded value instead.
type RuntimeQueryError struct {
	Op          string
	ContainerID string
	Err         error
}

func (e *RuntimeQueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ContainerID, e.Err)
}

func (e *RuntimeQueryError) Unwrap() error {
	return e.Err
}
