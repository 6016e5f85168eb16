package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(f *fakeClient, sink *recordingSink) *Orchestrator {
	return New(f, sink, Config{ReadinessGrace: time.Millisecond}, nil, testLogger())
}

func newProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"p1"}`), 0o644))
	return dir
}

const buildFailureOutput = `{"stream":"Step 1/3 : FROM node:18-alpine\n"}
{"errorDetail":{"message":"npm ERR! missing script: start"},"error":"npm ERR! missing script: start"}
`

// =============================================================================
// End-to-End Tests
// =============================================================================

func TestBuildAndDeploy_EndToEnd(t *testing.T) {
	f := newFakeClient()
	sink := &recordingSink{}
	o := newTestOrchestrator(f, sink)
	dir := newProjectDir(t)

	result, err := o.BuildAndDeploy(context.Background(), dir, "P1", map[string]string{"FOO": "bar"})
	require.NoError(t, err)

	// Descriptor created
	_, statErr := os.Stat(filepath.Join(dir, "Dockerfile"))
	assert.NoError(t, statErr)

	// Image built with the deterministic tag
	require.Len(t, f.builds, 1)
	assert.Equal(t, "project-P1:latest", f.builds[0].Tag)
	assert.Contains(t, sink.messages(domain.LogLevelInfo), "Step 1/2 : FROM node:18-alpine")

	// Container started on a port >= 3001
	assert.GreaterOrEqual(t, result.Port, 3001)
	assert.NotEmpty(t, result.ContainerID)
	assert.Equal(t, "http://localhost:"+strconv.Itoa(result.Port), result.URL)

	status := o.Status(context.Background(), result.ContainerID)
	assert.True(t, status.Running)
	assert.Equal(t, "running", status.Status)
	assert.NotNil(t, status.StartedAt)

	assert.Empty(t, sink.messages(domain.LogLevelError))
}

func TestBuildAndDeploy_ContainerSpec(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})

	result, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", map[string]string{"A": "1", "PORT": "9999"})
	require.NoError(t, err)

	require.Len(t, f.created, 1)
	spec := f.created[0]
	assert.Equal(t, "project-P1", spec.Name)
	assert.Equal(t, "project-P1:latest", spec.Image)
	assert.Equal(t, "1", spec.Env["A"])
	assert.Equal(t, "3000", spec.Env["PORT"])
	assert.Equal(t, int64(512*1024*1024), spec.Resources.MemoryLimit)
	assert.Equal(t, int64(512), spec.Resources.CPUShares)
	assert.Equal(t, "unless-stopped", spec.RestartPolicy.Name)
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 3000, spec.Ports[0].ContainerPort)
	assert.Equal(t, result.Port, spec.Ports[0].HostPort)
	assert.Equal(t, "tcp", spec.Ports[0].Protocol)

	assert.Equal(t, "true", spec.Labels[coredeployment.LabelManaged])
	assert.Equal(t, "P1", spec.Labels[coredeployment.LabelDeployment])
	assert.Equal(t, strconv.Itoa(result.Port), spec.Labels[coredeployment.LabelPort])

	info, err := f.InspectContainer(context.Background(), result.ContainerID)
	require.NoError(t, err)
	assert.Contains(t, info.Env, "A=1")
	assert.Contains(t, info.Env, "PORT=3000")
}

func TestBuildAndDeploy_KeepsExistingDescriptor(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})
	dir := newProjectDir(t)
	custom := "FROM busybox\nCMD [\"true\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(custom), 0o644))

	_, err := o.BuildAndDeploy(context.Background(), dir, "P1", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(data))
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestBuildAndDeploy_BuildErrorMarker(t *testing.T) {
	f := newFakeClient()
	f.buildOutput = buildFailureOutput
	sink := &recordingSink{}
	o := newTestOrchestrator(f, sink)

	_, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)
	require.Error(t, err)

	var derr *DeploymentError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StageBuild, derr.Stage)
	assert.Equal(t, "P1", derr.DeploymentID)

	var berr *ImageBuildError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "npm ERR! missing script: start", berr.Message)
	assert.Contains(t, berr.Output, "Step 1/3 : FROM node:18-alpine")

	assert.Contains(t, sink.messages(domain.LogLevelError), "npm ERR! missing script: start")
	assert.Empty(t, f.created)
}

func TestBuildAndDeploy_BuildRequestFails(t *testing.T) {
	f := newFakeClient()
	f.buildErr = errRuntimeDown
	o := newTestOrchestrator(f, &recordingSink{})

	_, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)

	assert.True(t, IsStage(err, StageBuild))
	assert.ErrorIs(t, err, errRuntimeDown)
}

func TestBuildAndDeploy_MissingSourceDir(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})

	_, err := o.BuildAndDeploy(context.Background(), filepath.Join(t.TempDir(), "missing"), "P1", nil)

	assert.True(t, IsStage(err, StageDescriptor))
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
	assert.Empty(t, f.builds)
}

func TestBuildAndDeploy_ContainerExitsTornDown(t *testing.T) {
	f := newFakeClient()
	f.exitOnStart = true
	sink := &recordingSink{}
	o := newTestOrchestrator(f, sink)

	result, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)
	require.Error(t, err)
	assert.Equal(t, domain.DeploymentResult{}, result)

	assert.True(t, IsStage(err, StageLaunch))
	var serr *ContainerStartError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "exited", serr.State)
	assert.NotEmpty(t, serr.ContainerID)

	assert.Zero(t, f.containerCount())
	assert.NotEmpty(t, sink.messages(domain.LogLevelError))
}

func TestBuildAndDeploy_StartFailureTornDown(t *testing.T) {
	f := newFakeClient()
	f.startErr = errors.New("port is already allocated")
	o := newTestOrchestrator(f, &recordingSink{})

	_, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)

	assert.True(t, IsStage(err, StageLaunch))
	assert.Zero(t, f.containerCount())
}

func TestBuildAndDeploy_EmptyID(t *testing.T) {
	o := newTestOrchestrator(newFakeClient(), &recordingSink{})

	_, err := o.BuildAndDeploy(context.Background(), t.TempDir(), "", nil)

	assert.True(t, IsStage(err, StageAdmit))
	assert.ErrorIs(t, err, domain.ErrEmptyDeploymentID)
}

// =============================================================================
// Redeploy & Concurrency Tests
// =============================================================================

func TestBuildAndDeploy_RedeployReplacesContainer(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})
	dir := newProjectDir(t)

	first, err := o.BuildAndDeploy(context.Background(), dir, "P1", nil)
	require.NoError(t, err)
	second, err := o.BuildAndDeploy(context.Background(), dir, "P1", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ContainerID, second.ContainerID)
	assert.Equal(t, 1, f.containerCount())

	_, err = f.InspectContainer(context.Background(), first.ContainerID)
	assert.Error(t, err)
}

func TestBuildAndDeploy_RejectsConcurrentSameID(t *testing.T) {
	f := newFakeClient()
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.buildHook = func() {
		once.Do(func() {
			close(started)
			<-gate
		})
	}
	o := newTestOrchestrator(f, &recordingSink{})
	dir := newProjectDir(t)

	outcome, err := o.DeployAsync(context.Background(), DeployRequest{DeploymentID: "P1", SourceDir: dir})
	require.NoError(t, err)
	<-started

	assert.True(t, o.InProgress("P1"))
	_, err = o.BuildAndDeploy(context.Background(), dir, "P1", nil)
	assert.ErrorIs(t, err, ErrDeploymentInProgress)
	_, err = o.DeployAsync(context.Background(), DeployRequest{DeploymentID: "P1", SourceDir: dir})
	assert.ErrorIs(t, err, ErrDeploymentInProgress)

	close(gate)
	res := <-outcome
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.Result.ContainerID)

	require.NoError(t, o.Wait(context.Background()))
	assert.False(t, o.InProgress("P1"))
}

func TestDeployAsync_DetachedFromCallerCancel(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	outcome, err := o.DeployAsync(ctx, DeployRequest{DeploymentID: "P1", SourceDir: newProjectDir(t)})
	require.NoError(t, err)
	cancel()

	res := <-outcome
	assert.NoError(t, res.Err)
}

func TestWait_HonorsContext(t *testing.T) {
	f := newFakeClient()
	gate := make(chan struct{})
	defer close(gate)
	f.buildHook = func() { <-gate }
	o := newTestOrchestrator(f, &recordingSink{})

	_, err := o.DeployAsync(context.Background(), DeployRequest{DeploymentID: "P1", SourceDir: newProjectDir(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)
}

func TestBuildAndDeploy_DistinctPortsAcrossDeployments(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})

	const n = 8
	ports := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P"+strconv.Itoa(i), nil)
			if assert.NoError(t, err) {
				ports <- res.Port
			}
		}(i)
	}
	wg.Wait()
	close(ports)

	seen := map[int]bool{}
	for p := range ports {
		assert.False(t, seen[p], "port %d issued twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

// =============================================================================
// Status Hook Tests
// =============================================================================

func TestOnStatus_ReportsProgress(t *testing.T) {
	f := newFakeClient()
	o := newTestOrchestrator(f, &recordingSink{})

	var mu sync.Mutex
	var seen []domain.DeploymentStatus
	var final StatusUpdate
	o.OnStatus(func(u StatusUpdate) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Status)
		final = u
	})

	_, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.DeploymentStatus{
		domain.StatusPending,
		domain.StatusBuilding,
		domain.StatusStarting,
		domain.StatusRunning,
	}, seen)
	require.NotNil(t, final.Result)
	assert.NotEmpty(t, final.Result.URL)
}

func TestOnStatus_ReportsFailure(t *testing.T) {
	f := newFakeClient()
	f.buildOutput = buildFailureOutput
	o := newTestOrchestrator(f, &recordingSink{})

	var last StatusUpdate
	o.OnStatus(func(u StatusUpdate) { last = u })

	_, err := o.BuildAndDeploy(context.Background(), newProjectDir(t), "P1", nil)
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, last.Status)
	assert.True(t, IsStage(last.Err, StageBuild))
}

// =============================================================================
// Recovery Tests
// =============================================================================

func TestRecover_SeedsPortAllocator(t *testing.T) {
	f := newFakeClient()
	f.addContainer("old-1", coredeployment.BuildLabels("A", 3005), true)
	f.addContainer("old-2", coredeployment.BuildLabels("B", 3002), false)
	o := newTestOrchestrator(f, &recordingSink{})

	found, err := o.Recover(context.Background())
	require.NoError(t, err)

	assert.Len(t, found, 2)
	assert.Equal(t, 3006, o.Ports().Peek())
}

func TestRecover_ListFailure(t *testing.T) {
	f := newFakeClient()
	f.listErr = errRuntimeDown
	o := newTestOrchestrator(f, &recordingSink{})

	_, err := o.Recover(context.Background())

	assert.ErrorIs(t, err, errRuntimeDown)
	assert.Equal(t, DefaultBasePort, o.Ports().Peek())
}
