// Package docker provides a Docker client for image builds and container lifecycle management.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	RestartPolicy RestartPolicy
	Resources     ResourceLimits
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	MemoryLimit int64 // Bytes
	CPUShares   int64 // Relative weight
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	State      string // "running", "exited", "created", etc.
	Running    bool
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	Env        []string
	ExitCode   int
}

// =============================================================================
// Options
// =============================================================================

// BuildOptions defines options for building an image.
type BuildOptions struct {
	Tag        string
	Dockerfile string            // Relative to the context root; "" for Dockerfile
	BuildArgs  map[string]*string
	NoCache    bool
}

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "orchestrator.deployment.id=xyz"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container runtime surface the orchestrator consumes.
type Client interface {
	// Image operations

	// BuildImage starts a build of contextDir and returns the raw progress
	// stream: newline-delimited JSON records. The caller must close it.
	BuildImage(ctx context.Context, contextDir string, opts BuildOptions) (io.ReadCloser, error)

	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	// ContainerLogs returns demultiplexed stdout/stderr text.
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}
