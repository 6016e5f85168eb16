package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/docker"
)

const (
	// DefaultStopTimeout is the graceful stop window before the runtime kills.
	DefaultStopTimeout = 10 * time.Second

	// DefaultLogTail is the number of log lines RecentLogs returns by default.
	DefaultLogTail = 100
)

// StopReport describes how far a teardown got.
type StopReport struct {
	ContainerID string `json:"container_id"`
	Stopped     bool   `json:"stopped"`
	Removed     bool   `json:"removed"`
	Err         error  `json:"-"`
}

// OK reports whether the container is gone.
func (r StopReport) OK() bool {
	return r.Removed
}

// Lifecycle queries and tears down deployment containers.
//
// Every operation is best effort: runtime failures are logged and turned into
// a degraded value (a StopReport with Err set, an "unknown" status, empty
// logs) rather than returned.
type Lifecycle struct {
	docker      docker.Client
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(cli docker.Client, stopTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		docker:      cli,
		stopTimeout: stopTimeout,
		logger:      logger.With("component", "lifecycle"),
	}
}

// Stop stops the container gracefully, then removes it. A container that is
// already stopped or already gone counts as success.
func (l *Lifecycle) Stop(ctx context.Context, containerID string) StopReport {
	report := StopReport{ContainerID: containerID}
	timeout := l.stopTimeout

	err := l.docker.StopContainer(ctx, containerID, &timeout)
	switch {
	case err == nil, errors.Is(err, docker.ErrContainerNotRunning):
		report.Stopped = true
	case docker.IsNotFound(err):
		report.Stopped = true
		report.Removed = true
		return report
	default:
		report.Err = &RuntimeQueryError{Op: "stop", ContainerID: containerID, Err: err}
		l.logger.Warn("failed to stop container", "container_id", containerID, "error", err)
	}

	err = l.docker.RemoveContainer(ctx, containerID, docker.RemoveOptions{Force: true})
	switch {
	case err == nil, docker.IsNotFound(err):
		report.Removed = true
	default:
		if report.Err == nil {
			report.Err = &RuntimeQueryError{Op: "remove", ContainerID: containerID, Err: err}
		}
		l.logger.Warn("failed to remove container", "container_id", containerID, "error", err)
	}

	if report.Removed {
		l.logger.Info("container stopped and removed", "container_id", containerID)
	}
	return report
}

// Status returns the runtime view of the container, or an unknown status if
// the runtime cannot be queried.
func (l *Lifecycle) Status(ctx context.Context, containerID string) domain.ContainerStatus {
	info, err := l.docker.InspectContainer(ctx, containerID)
	if err != nil {
		l.logger.Debug("status lookup failed", "error", &RuntimeQueryError{Op: "inspect", ContainerID: containerID, Err: err})
		return domain.UnknownContainerStatus()
	}
	return domain.ContainerStatus{
		Running:   info.Running,
		Status:    info.State,
		StartedAt: info.StartedAt,
	}
}

// RecentLogs returns the last tail lines of the container's output with
// timestamps, or "" if the logs cannot be read.
func (l *Lifecycle) RecentLogs(ctx context.Context, containerID string, tail int) string {
	if tail <= 0 {
		tail = DefaultLogTail
	}

	reader, err := l.docker.ContainerLogs(ctx, containerID, docker.LogOptions{
		Tail:       strconv.Itoa(tail),
		Timestamps: true,
	})
	if err != nil {
		l.logger.Debug("log lookup failed", "error", &RuntimeQueryError{Op: "logs", ContainerID: containerID, Err: err})
		return ""
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		l.logger.Debug("log read failed", "error", &RuntimeQueryError{Op: "logs", ContainerID: containerID, Err: err})
		return ""
	}
	return string(data)
}

// List returns every managed container as a deployment summary, newest first.
// A runtime failure yields an empty list.
func (l *Lifecycle) List(ctx context.Context) []domain.DeploymentSummary {
	summaries, err := l.Summaries(ctx)
	if err != nil {
		l.logger.Warn("failed to list managed containers", "error", err)
		return []domain.DeploymentSummary{}
	}
	return summaries
}

// Summaries is List with the runtime error surfaced.
func (l *Lifecycle) Summaries(ctx context.Context) ([]domain.DeploymentSummary, error) {
	containers, err := l.docker.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": coredeployment.LabelFilter(coredeployment.LabelManaged, "true"),
		},
	})
	if err != nil {
		return nil, &RuntimeQueryError{Op: "list", Err: err}
	}

	summaries := make([]domain.DeploymentSummary, 0, len(containers))
	for _, c := range containers {
		id, ok := coredeployment.DeploymentIDFromLabels(c.Labels)
		if !ok {
			continue
		}
		port, _ := coredeployment.PortFromLabels(c.Labels)
		summaries = append(summaries, domain.DeploymentSummary{
			DeploymentID: id,
			ContainerID:  c.ID,
			Image:        c.Image,
			Port:         port,
			State:        c.State,
			CreatedAt:    c.CreatedAt,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// FindByDeployment returns the container labeled with deploymentID, preferring
// a running one.
func (l *Lifecycle) FindByDeployment(ctx context.Context, deploymentID string) (string, bool) {
	containers, err := l.ContainersFor(ctx, deploymentID)
	if err != nil {
		l.logger.Warn("failed to look up deployment container", "deployment_id", deploymentID, "error", err)
		return "", false
	}
	if len(containers) == 0 {
		return "", false
	}

	for _, c := range containers {
		if c.Running {
			return c.ID, true
		}
	}
	return containers[0].ID, true
}

// ContainersFor lists every container, running or not, labeled with deploymentID.
func (l *Lifecycle) ContainersFor(ctx context.Context, deploymentID string) ([]docker.ContainerInfo, error) {
	containers, err := l.docker.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": coredeployment.LabelFilter(coredeployment.LabelDeployment, deploymentID),
		},
	})
	if err != nil {
		return nil, &RuntimeQueryError{Op: "list", ContainerID: deploymentID, Err: err}
	}
	return containers, nil
}
