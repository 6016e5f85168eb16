package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/docker"
)

// fakeClient is an in-memory docker.Client.
type fakeClient struct {
	mu sync.Mutex

	// Build behavior
	buildOutput  string
	buildErr     error
	buildReadErr error
	buildHook    func()
	builds       []docker.BuildOptions

	// Container behavior
	containers   map[string]*docker.ContainerInfo
	order        []string
	nextID       int
	created      []docker.ContainerSpec
	createErr    error
	startErr     error
	exitOnStart  bool
	listErr      error
	stopErr      error
	removeErr    error
	inspectErr   error
	logs         string
	logsErr      error
	lastLogsOpts docker.LogOptions
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: make(map[string]*docker.ContainerInfo),
		buildOutput: strings.Join([]string{
			`{"stream":"Step 1/2 : FROM node:18-alpine\n"}`,
			`{"stream":"\n"}`,
			`{"stream":"Successfully built abc123\n"}`,
		}, "\n") + "\n",
	}
}

// addContainer seeds a container as if an earlier process had created it.
func (f *fakeClient) addContainer(id string, labels map[string]string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "exited"
	if running {
		state = "running"
	}
	f.containers[id] = &docker.ContainerInfo{
		ID:        id,
		Name:      "seed-" + id,
		Image:     "seed:latest",
		State:     state,
		Status:    docker.ContainerStatus(state),
		Running:   running,
		Labels:    labels,
		CreatedAt: time.Now(),
	}
	f.order = append(f.order, id)
}

func (f *fakeClient) containerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeClient) BuildImage(ctx context.Context, contextDir string, opts docker.BuildOptions) (io.ReadCloser, error) {
	if f.buildHook != nil {
		f.buildHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	var r io.Reader = strings.NewReader(f.buildOutput)
	if f.buildReadErr != nil {
		r = io.MultiReader(r, &failingReader{err: f.buildReadErr})
	}
	return io.NopCloser(r), nil
}

func (f *fakeClient) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	for _, c := range f.containers {
		if c.Name == spec.Name {
			return "", docker.NewDockerError("CreateContainer", "container", spec.Name, "container already exists", docker.ErrContainerAlreadyExists)
		}
	}

	f.nextID++
	id := fmt.Sprintf("container-%04d-0123456789", f.nextID)
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	f.containers[id] = &docker.ContainerInfo{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		State:     "created",
		Status:    docker.ContainerStatusCreated,
		Labels:    spec.Labels,
		Env:       env,
		CreatedAt: time.Now(),
	}
	f.order = append(f.order, id)
	f.created = append(f.created, spec)
	return id, nil
}

func (f *fakeClient) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return docker.NewDockerError("StartContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	if f.startErr != nil {
		return f.startErr
	}
	if f.exitOnStart {
		c.State = "exited"
		c.Running = false
		c.ExitCode = 1
		return nil
	}
	now := time.Now()
	c.State = "running"
	c.Running = true
	c.StartedAt = &now
	return nil
}

func (f *fakeClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	c, ok := f.containers[containerID]
	if !ok {
		return docker.NewDockerError("StopContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	if !c.Running {
		return docker.NewDockerError("StopContainer", "container", containerID, "container is not running", docker.ErrContainerNotRunning)
	}
	c.Running = false
	c.State = "exited"
	return nil
}

func (f *fakeClient) RemoveContainer(ctx context.Context, containerID string, opts docker.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.containers[containerID]; !ok {
		return docker.NewDockerError("RemoveContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	delete(f.containers, containerID)
	return nil
}

func (f *fakeClient) InspectContainer(ctx context.Context, containerID string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, docker.NewDockerError("InspectContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeClient) ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []docker.ContainerInfo
	for _, id := range f.order {
		c, ok := f.containers[id]
		if !ok {
			continue
		}
		if !opts.All && !c.Running {
			continue
		}
		if filter, ok := opts.Filters["label"]; ok && !matchesLabel(c.Labels, filter) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func matchesLabel(labels map[string]string, filter string) bool {
	key, value, hasValue := strings.Cut(filter, "=")
	got, ok := labels[key]
	if !ok {
		return false
	}
	return !hasValue || got == value
}

func (f *fakeClient) ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogsOpts = opts
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	if _, ok := f.containers[containerID]; !ok {
		return nil, docker.NewDockerError("ContainerLogs", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) Close() error { return nil }

type failingReader struct {
	err error
}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, r.err
}

var errRuntimeDown = errors.New("runtime unavailable")

// recordingSink collects build log events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.BuildLogEvent
}

func (r *recordingSink) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.NewBuildLogEvent(deploymentID, level, message))
}

func (r *recordingSink) messages(level domain.LogLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Level == level {
			out = append(out, ev.Message)
		}
	}
	return out
}
