// Package workers contains background workers for Launchpad.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

// Recoverer lists the managed containers on the runtime and re-seeds the port
// allocator from their labels. *orchestrator.Orchestrator implements it.
type Recoverer interface {
	Recover(ctx context.Context) ([]domain.DeploymentSummary, error)
}

// Syncer applies the runtime view to the deployment records.
// *tracker.Tracker implements it.
type Syncer interface {
	Sync(summaries []domain.DeploymentSummary, listedAt time.Time, urlFor func(port int) string) int
}

// ReconcilerConfig configures the reconciler worker.
type ReconcilerConfig struct {
	// Interval is the time between reconcile cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// Timeout bounds a single cycle.
	// Default: 10 seconds.
	Timeout time.Duration
}

// DefaultReconcilerConfig returns the default configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Reconciler periodically compares the deployment records with the managed
// containers on the runtime, so containers that exited or were removed
// outside Launchpad show up as stopped.
type Reconciler struct {
	source  Recoverer
	records Syncer
	urlFor  func(port int) string
	metrics *metrics.Recorder
	config  ReconcilerConfig
	logger  *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a new reconciler worker.
func NewReconciler(
	source Recoverer,
	records Syncer,
	urlFor func(port int) string,
	rec *metrics.Recorder,
	config ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	defaults := DefaultReconcilerConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		source:  source,
		records: records,
		urlFor:  urlFor,
		metrics: rec,
		config:  config,
		logger:  logger.With("component", "reconciler"),
	}
}

// Start begins the reconciler background goroutine.
func (r *Reconciler) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reconciler started", "interval", r.config.Interval)
}

// Stop stops the reconciler and waits for an in-progress cycle to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	// Run immediately on start
	r.RunOnce(r.ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(r.ctx)
		}
	}
}

// RunOnce executes a single reconcile cycle. A failed runtime query leaves the
// records untouched.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	listedAt := time.Now()
	summaries, err := r.source.Recover(ctx)
	r.metrics.Reconciled(err)
	if err != nil {
		r.logger.Warn("reconcile skipped", "error", err)
		return err
	}

	changed := r.records.Sync(summaries, listedAt, r.urlFor)
	if changed > 0 {
		r.logger.Info("reconciled deployments", "containers", len(summaries), "changed", changed)
	} else {
		r.logger.Debug("reconcile cycle complete", "containers", len(summaries))
	}
	return nil
}
