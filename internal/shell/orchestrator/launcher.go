package orchestrator

import (
	"context"
	"log/slog"
	"time"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/shell/docker"
)

const (
	// DefaultReadinessGrace is how long the launcher waits after start before
	// checking the container is still running.
	DefaultReadinessGrace = 2 * time.Second

	// DefaultReadinessAttempts is the number of running checks made.
	DefaultReadinessAttempts = 1
)

// LaunchConfig holds the launch constraints applied to every container.
type LaunchConfig struct {
	ContainerPort     int
	PublicHost        string
	Resources         coredeployment.ResourcePlan
	RestartPolicy     string
	ReadinessGrace    time.Duration
	ReadinessAttempts int
}

func (c LaunchConfig) withDefaults() LaunchConfig {
	if c.ContainerPort <= 0 {
		c.ContainerPort = coredeployment.DefaultContainerPort
	}
	if c.PublicHost == "" {
		c.PublicHost = "localhost"
	}
	if c.ReadinessGrace <= 0 {
		c.ReadinessGrace = DefaultReadinessGrace
	}
	if c.ReadinessAttempts <= 0 {
		c.ReadinessAttempts = DefaultReadinessAttempts
	}
	return c
}

// LaunchResult describes a launched container. ContainerID is set whenever a
// container was created, including on failure, so the caller can remove it.
type LaunchResult struct {
	ContainerID string
	Port        int
	URL         string
}

// Launcher creates and starts deployment containers.
type Launcher struct {
	docker docker.Client
	cfg    LaunchConfig
	logger *slog.Logger
}

// NewLauncher creates a launcher.
func NewLauncher(cli docker.Client, cfg LaunchConfig, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		docker: cli,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "launcher"),
	}
}

// Launch runs imageTag as the container for deploymentID bound to hostPort,
// then waits for the readiness grace period and confirms it is running.
func (l *Launcher) Launch(ctx context.Context, imageTag, deploymentID string, env map[string]string, hostPort int) (LaunchResult, error) {
	plan := coredeployment.BuildContainerPlan(coredeployment.BuildContainerPlanParams{
		DeploymentID:  deploymentID,
		ImageTag:      imageTag,
		Env:           env,
		HostPort:      hostPort,
		ContainerPort: l.cfg.ContainerPort,
		Resources:     l.cfg.Resources,
		RestartPolicy: l.cfg.RestartPolicy,
	})

	result := LaunchResult{Port: hostPort}

	containerID, err := l.docker.CreateContainer(ctx, planToSpec(plan))
	if err != nil {
		return result, &ContainerStartError{Err: err}
	}
	result.ContainerID = containerID

	l.logger.Debug("created container",
		"deployment_id", deploymentID,
		"container_id", containerID,
		"host_port", hostPort,
	)

	if err := l.docker.StartContainer(ctx, containerID); err != nil {
		return result, &ContainerStartError{ContainerID: containerID, Err: err}
	}

	state := ""
	for attempt := 1; attempt <= l.cfg.ReadinessAttempts; attempt++ {
		if err := sleepContext(ctx, l.cfg.ReadinessGrace); err != nil {
			return result, &ContainerStartError{ContainerID: containerID, Err: err}
		}

		info, err := l.docker.InspectContainer(ctx, containerID)
		if err != nil {
			return result, &ContainerStartError{ContainerID: containerID, Err: err}
		}
		if info.Running {
			result.URL = coredeployment.ServiceURL(l.cfg.PublicHost, hostPort)
			l.logger.Info("container running",
				"deployment_id", deploymentID,
				"container_id", containerID,
				"url", result.URL,
			)
			return result, nil
		}
		state = info.State
		l.logger.Debug("container not running yet",
			"container_id", containerID,
			"state", state,
			"attempt", attempt,
		)
	}

	return result, &ContainerStartError{ContainerID: containerID, State: state}
}

// planToSpec converts a pure container plan into a runtime spec.
func planToSpec(plan coredeployment.ContainerPlan) docker.ContainerSpec {
	spec := docker.ContainerSpec{
		Name:   plan.Name,
		Image:  plan.Image,
		Env:    plan.Env,
		Labels: plan.Labels,
		RestartPolicy: docker.RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		Resources: docker.ResourceLimits{
			MemoryLimit: plan.Resources.MemoryLimit,
			CPUShares:   plan.Resources.CPUShares,
		},
	}

	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	return spec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
