package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/shell/docker"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

// DefaultBasePort is the first host port the allocator hands out.
const DefaultBasePort = 3001

// PortAllocator issues host ports for new containers.
//
// Every decision is serialized: the allocator lists live containers carrying
// the port label, skips any port they hold, then issues and advances its
// counter. Two concurrent callers therefore never receive the same port. If
// the runtime cannot be listed the raw counter is issued and a warning is
// logged; allocation never fails.
type PortAllocator struct {
	docker  docker.Client
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu   sync.Mutex
	next int
}

// NewPortAllocator creates an allocator whose counter starts at basePort.
func NewPortAllocator(cli docker.Client, basePort int, rec *metrics.Recorder, logger *slog.Logger) *PortAllocator {
	if basePort <= 0 {
		basePort = DefaultBasePort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAllocator{
		docker:  cli,
		metrics: rec,
		logger:  logger.With("component", "ports"),
		next:    basePort,
	}
}

// Next issues a host port.
func (a *PortAllocator) Next(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	containers, err := a.docker.ListContainers(ctx, docker.ListOptions{
		Filters: map[string]string{
			"label": coredeployment.LabelFilter(coredeployment.LabelPort, ""),
		},
	})
	if err != nil {
		port := a.next
		a.next++
		warning := &PortAllocationWarning{Port: port, Err: err}
		a.logger.Warn("issuing port without reconciliation", "port", port, "error", warning)
		a.metrics.PortIssued(false)
		return port
	}

	labelSets := make([]map[string]string, 0, len(containers))
	for _, c := range containers {
		labelSets = append(labelSets, c.Labels)
	}

	port := coredeployment.NextFreePort(a.next, coredeployment.UsedPorts(labelSets))
	a.next = port + 1
	a.metrics.PortIssued(true)
	a.logger.Debug("issued port", "port", port)
	return port
}

// Seed marks port as taken so the counter moves past it. The counter never
// moves backward.
func (a *PortAllocator) Seed(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port >= a.next {
		a.next = port + 1
	}
}

// Peek returns the port the counter will try next.
func (a *PortAllocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
