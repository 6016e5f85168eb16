// Package orchestrator turns a project source tree into a running container:
// it synthesizes a build descriptor, builds an image, allocates a host port,
// launches the container and manages its lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/docker"
	"github.com/artpar/launchpad/internal/shell/logsink"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

// Config holds the orchestrator's tunables. Zero values fall back to defaults.
type Config struct {
	PublicHost        string
	BasePort          int
	Descriptor        coredeployment.DescriptorParams
	Resources         coredeployment.ResourcePlan
	RestartPolicy     string
	ReadinessGrace    time.Duration
	ReadinessAttempts int
	StopTimeout       time.Duration
	NoCache           bool
	BuildArgs         map[string]string
}

// StatusUpdate reports a deploy's progress to the surrounding system.
type StatusUpdate struct {
	DeploymentID string
	SourceDir    string
	Status       domain.DeploymentStatus
	Result       *domain.DeploymentResult
	Err          error
}

// StatusFunc receives progress updates. It is called synchronously from the
// deploy goroutine and must not block.
type StatusFunc func(StatusUpdate)

// DeployRequest is the input of an asynchronous deploy.
type DeployRequest struct {
	DeploymentID string
	SourceDir    string
	Env          map[string]string
}

// Outcome is the result of an asynchronous deploy. Exactly one of Result and
// Err is meaningful.
type Outcome struct {
	Result domain.DeploymentResult
	Err    error
}

// =============================================================================
// Orchestrator - Build and Deploy Pipeline
// =============================================================================

// Orchestrator composes the synthesizer, builder, port allocator, launcher and
// lifecycle manager into the build-and-deploy pipeline.
type Orchestrator struct {
	sink    logsink.Sink
	metrics *metrics.Recorder
	logger  *slog.Logger

	synth     *Synthesizer
	builder   *ImageBuilder
	ports     *PortAllocator
	launcher  *Launcher
	lifecycle *Lifecycle

	mu       sync.Mutex
	inFlight map[string]struct{}
	onStatus StatusFunc

	wg sync.WaitGroup
}

// New creates an orchestrator driving the runtime through cli and forwarding
// build output to sink.
func New(cli docker.Client, sink logsink.Sink, cfg Config, rec *metrics.Recorder, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = logsink.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}

	descriptor := cfg.Descriptor
	launchCfg := LaunchConfig{
		ContainerPort:     descriptor.ContainerPort,
		PublicHost:        cfg.PublicHost,
		Resources:         cfg.Resources,
		RestartPolicy:     cfg.RestartPolicy,
		ReadinessGrace:    cfg.ReadinessGrace,
		ReadinessAttempts: cfg.ReadinessAttempts,
	}

	return &Orchestrator{
		sink:      sink,
		metrics:   rec,
		logger:    logger.With("component", "orchestrator"),
		synth:     NewSynthesizer(descriptor, logger),
		builder:   NewImageBuilder(cli, sink, rec, logger, BuildSettings{NoCache: cfg.NoCache, Args: cfg.BuildArgs}),
		ports:     NewPortAllocator(cli, cfg.BasePort, rec, logger),
		launcher:  NewLauncher(cli, launchCfg, logger),
		lifecycle: NewLifecycle(cli, cfg.StopTimeout, logger),
		inFlight:  make(map[string]struct{}),
	}
}

// OnStatus registers the progress hook. Pass nil to remove it.
func (o *Orchestrator) OnStatus(fn StatusFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStatus = fn
}

// Lifecycle returns the lifecycle manager.
func (o *Orchestrator) Lifecycle() *Lifecycle {
	return o.lifecycle
}

// Ports returns the port allocator.
func (o *Orchestrator) Ports() *PortAllocator {
	return o.ports
}

// BuildAndDeploy builds sourceDir into an image and runs it as the container
// for deploymentID. Any previous container of the same deployment is torn
// down once the new image is built. On failure it returns a *DeploymentError
// naming the failed stage, and no container created by this call is left
// behind.
func (o *Orchestrator) BuildAndDeploy(ctx context.Context, sourceDir, deploymentID string, env map[string]string) (domain.DeploymentResult, error) {
	if err := o.admit(deploymentID); err != nil {
		return domain.DeploymentResult{}, err
	}
	defer o.release(deploymentID)

	return o.run(ctx, DeployRequest{DeploymentID: deploymentID, SourceDir: sourceDir, Env: env})
}

// DeployAsync admits the request and runs it on its own goroutine. The deploy
// is detached from ctx's cancellation; its values are kept. Admission errors
// are returned immediately.
func (o *Orchestrator) DeployAsync(ctx context.Context, req DeployRequest) (<-chan Outcome, error) {
	if err := o.admit(req.DeploymentID); err != nil {
		return nil, err
	}

	out := make(chan Outcome, 1)
	detached := context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(req.DeploymentID)

		result, err := o.run(detached, req)
		out <- Outcome{Result: result, Err: err}
		close(out)
	}()

	return out, nil
}

// Wait blocks until every asynchronous deploy has finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InProgress reports whether a deploy for deploymentID is running.
func (o *Orchestrator) InProgress(deploymentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[deploymentID]
	return ok
}

func (o *Orchestrator) admit(deploymentID string) error {
	if deploymentID == "" {
		return &DeploymentError{Stage: StageAdmit, DeploymentID: deploymentID, Err: domain.ErrEmptyDeploymentID}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inFlight[deploymentID]; busy {
		return &DeploymentError{Stage: StageAdmit, DeploymentID: deploymentID, Err: ErrDeploymentInProgress}
	}
	o.inFlight[deploymentID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(deploymentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, deploymentID)
}

// run executes the pipeline for an admitted request.
func (o *Orchestrator) run(ctx context.Context, req DeployRequest) (domain.DeploymentResult, error) {
	id := req.DeploymentID
	imageTag := coredeployment.ImageTag(id)
	started := time.Now()
	finish := o.metrics.DeployStarted()
	defer finish()

	logger := o.logger.With("deployment_id", id)
	logger.Info("deploy started", "source", req.SourceDir, "image", imageTag)
	o.report(StatusUpdate{DeploymentID: id, SourceDir: req.SourceDir, Status: domain.StatusPending})

	fail := func(stage Stage, err error) (domain.DeploymentResult, error) {
		derr := &DeploymentError{Stage: stage, DeploymentID: id, Err: err}
		logger.Error("deploy failed", "stage", stage, "error", err)
		o.sink.EmitLog(id, domain.LogLevelError, fmt.Sprintf("Deployment failed: %v", err))
		o.metrics.DeployFinished(string(stage), derr, time.Since(started))
		o.report(StatusUpdate{DeploymentID: id, SourceDir: req.SourceDir, Status: domain.StatusFailed, Err: derr})
		return domain.DeploymentResult{}, derr
	}

	// descriptor
	o.sink.EmitLog(id, domain.LogLevelInfo, "Preparing build context")
	if err := o.synth.EnsureBuildDescriptor(req.SourceDir); err != nil {
		return fail(StageDescriptor, err)
	}

	// build
	o.report(StatusUpdate{DeploymentID: id, SourceDir: req.SourceDir, Status: domain.StatusBuilding})
	o.sink.EmitLog(id, domain.LogLevelInfo, fmt.Sprintf("Building image %s", imageTag))
	if _, err := o.builder.Build(ctx, req.SourceDir, imageTag, id); err != nil {
		return fail(StageBuild, err)
	}

	// replace
	if err := o.replace(ctx, id); err != nil {
		return fail(StageReplace, err)
	}

	// allocate
	port := o.ports.Next(ctx)

	// launch
	o.report(StatusUpdate{DeploymentID: id, SourceDir: req.SourceDir, Status: domain.StatusStarting})
	o.sink.EmitLog(id, domain.LogLevelInfo, fmt.Sprintf("Starting container on port %d", port))
	launched, err := o.launcher.Launch(ctx, imageTag, id, req.Env, port)
	if err != nil {
		if launched.ContainerID != "" {
			report := o.lifecycle.Stop(context.WithoutCancel(ctx), launched.ContainerID)
			if !report.OK() {
				logger.Warn("failed to clean up container", "container_id", launched.ContainerID, "error", report.Err)
			}
		}
		return fail(StageLaunch, err)
	}

	result := domain.DeploymentResult{
		ContainerID: launched.ContainerID,
		Port:        launched.Port,
		URL:         launched.URL,
	}

	o.sink.EmitLog(id, domain.LogLevelInfo, fmt.Sprintf("Deployment running at %s", result.URL))
	o.metrics.DeployFinished("", nil, time.Since(started))
	o.report(StatusUpdate{DeploymentID: id, SourceDir: req.SourceDir, Status: domain.StatusRunning, Result: &result})
	logger.Info("deploy finished", "container_id", result.ContainerID, "url", result.URL, "took", time.Since(started))

	return result, nil
}

// replace tears down every existing container of the deployment.
func (o *Orchestrator) replace(ctx context.Context, deploymentID string) error {
	existing, err := o.lifecycle.ContainersFor(ctx, deploymentID)
	if err != nil {
		return err
	}

	for _, c := range existing {
		o.sink.EmitLog(deploymentID, domain.LogLevelInfo, fmt.Sprintf("Replacing previous container %s", shortID(c.ID)))
		report := o.lifecycle.Stop(ctx, c.ID)
		if !report.OK() {
			return fmt.Errorf("remove previous container %s: %w", shortID(c.ID), report.Err)
		}
	}
	return nil
}

func (o *Orchestrator) report(update StatusUpdate) {
	o.mu.Lock()
	fn := o.onStatus
	o.mu.Unlock()
	if fn != nil {
		fn(update)
	}
}

// =============================================================================
// Lifecycle Delegation
// =============================================================================

// Stop tears down a container. See Lifecycle.Stop.
func (o *Orchestrator) Stop(ctx context.Context, containerID string) StopReport {
	return o.lifecycle.Stop(ctx, containerID)
}

// Status returns a container's runtime status. See Lifecycle.Status.
func (o *Orchestrator) Status(ctx context.Context, containerID string) domain.ContainerStatus {
	return o.lifecycle.Status(ctx, containerID)
}

// RecentLogs returns a container's recent output. See Lifecycle.RecentLogs.
func (o *Orchestrator) RecentLogs(ctx context.Context, containerID string, tail int) string {
	return o.lifecycle.RecentLogs(ctx, containerID, tail)
}

// List returns all managed containers. See Lifecycle.List.
func (o *Orchestrator) List(ctx context.Context) []domain.DeploymentSummary {
	return o.lifecycle.List(ctx)
}

// FindByDeployment returns the container of deploymentID. See Lifecycle.FindByDeployment.
func (o *Orchestrator) FindByDeployment(ctx context.Context, deploymentID string) (string, bool) {
	return o.lifecycle.FindByDeployment(ctx, deploymentID)
}

// Recover rebuilds allocator state from the labels of managed containers and
// returns what it found. Called at startup and by the reconciler.
func (o *Orchestrator) Recover(ctx context.Context) ([]domain.DeploymentSummary, error) {
	summaries, err := o.lifecycle.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if s.Port > 0 {
			o.ports.Seed(s.Port)
		}
	}
	o.logger.Debug("recovered managed containers", "count", len(summaries), "next_port", o.ports.Peek())
	return summaries, nil
}

// IsStage reports whether err is a DeploymentError raised at stage.
func IsStage(err error, stage Stage) bool {
	var derr *DeploymentError
	return errors.As(err, &derr) && derr.Stage == stage
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
