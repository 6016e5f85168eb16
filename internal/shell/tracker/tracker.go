// Package tracker keeps the in-memory record of deployments and their progress.
//
// Nothing here is persisted. After a restart the records are rebuilt from the
// labels on managed containers via Sync.
package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
)

// Tracker maps deployment ids to the latest attempt of each deployment.
type Tracker struct {
	mu          sync.RWMutex
	deployments map[string]*domain.Deployment
	logger      *slog.Logger
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		deployments: make(map[string]*domain.Deployment),
		logger:      logger.With("component", "tracker"),
	}
}

// Observe applies a progress update. Its signature matches
// orchestrator.StatusFunc so it can be registered with OnStatus directly.
//
// A pending update starts a new attempt and replaces whatever was recorded
// for the deployment before.
func (t *Tracker) Observe(u orchestrator.StatusUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.Status == domain.StatusPending {
		d, err := domain.NewDeployment(u.DeploymentID, u.SourceDir, coredeployment.ImageTag(u.DeploymentID), nil)
		if err != nil {
			t.logger.Warn("ignoring update without deployment id", "status", u.Status)
			return
		}
		t.deployments[d.ID] = d
		return
	}

	d, ok := t.deployments[u.DeploymentID]
	if !ok {
		t.logger.Warn("update for untracked deployment", "deployment_id", u.DeploymentID, "status", u.Status)
		return
	}

	var err error
	switch u.Status {
	case domain.StatusFailed:
		msg := "deployment failed"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		err = d.TransitionToFailed(msg)
	case domain.StatusRunning:
		if err = d.Transition(domain.StatusRunning); err == nil && u.Result != nil {
			d.ContainerID = u.Result.ContainerID
			d.Port = u.Result.Port
			d.URL = u.Result.URL
		}
	default:
		err = d.Transition(u.Status)
	}
	if err != nil {
		t.logger.Warn("dropped status update",
			"deployment_id", u.DeploymentID,
			"from", d.Status,
			"to", u.Status,
			"error", err,
		)
	}
}

// Get returns a copy of the record for id.
func (t *Tracker) Get(id string) (domain.Deployment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.deployments[id]
	if !ok {
		return domain.Deployment{}, false
	}
	return *d, true
}

// List returns copies of every record, newest first.
func (t *Tracker) List() []domain.Deployment {
	t.mu.RLock()
	out := make([]domain.Deployment, 0, len(t.deployments))
	for _, d := range t.deployments {
		out = append(out, *d)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MarkStopped records that the deployment's container was stopped and
// removed. Unknown ids are ignored.
func (t *Tracker) MarkStopped(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deployments[id]
	if !ok || d.Status == domain.StatusStopped {
		return nil
	}
	return d.Transition(domain.StatusStopped)
}

// Sync reconciles the records with the managed containers found on the
// runtime at listedAt. urlFor renders the public URL of a host port.
//
// Deployments with an attempt in flight are left alone, as are records
// updated after listedAt, which the listing cannot describe. Records whose
// container is gone or no longer running become stopped. Containers with no
// record are adopted, and stopped records whose container is running again
// are restored. It returns the number of records changed.
func (t *Tracker) Sync(summaries []domain.DeploymentSummary, listedAt time.Time, urlFor func(port int) string) int {
	live := make(map[string]domain.DeploymentSummary, len(summaries))
	for _, s := range summaries {
		prev, seen := live[s.DeploymentID]
		if !seen || (!isRunning(prev) && isRunning(s)) {
			live[s.DeploymentID] = s
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for id, d := range t.deployments {
		if d.UpdatedAt.After(listedAt) {
			continue
		}
		s, ok := live[id]
		if d.Status == domain.StatusStopped && ok && isRunning(s) {
			restore(d, s, urlFor)
			changed++
			continue
		}
		if d.Status != domain.StatusRunning {
			continue
		}
		if ok && isRunning(s) && s.ContainerID == d.ContainerID {
			continue
		}
		if ok && isRunning(s) {
			restore(d, s, urlFor)
			changed++
			continue
		}
		if err := d.Transition(domain.StatusStopped); err == nil {
			t.logger.Info("deployment no longer running", "deployment_id", id)
			changed++
		}
	}

	for id, s := range live {
		if _, ok := t.deployments[id]; ok {
			continue
		}
		t.deployments[id] = adopt(s, urlFor)
		changed++
	}

	return changed
}

func adopt(s domain.DeploymentSummary, urlFor func(port int) string) *domain.Deployment {
	created := s.CreatedAt.UTC()
	d := &domain.Deployment{
		ID:          s.DeploymentID,
		ImageTag:    s.Image,
		ContainerID: s.ContainerID,
		Port:        s.Port,
		Status:      domain.StatusStopped,
		CreatedAt:   created,
		UpdatedAt:   time.Now().UTC(),
	}
	if isRunning(s) {
		d.Status = domain.StatusRunning
		d.URL = urlFor(s.Port)
		d.StartedAt = &created
	}
	return d
}

func restore(d *domain.Deployment, s domain.DeploymentSummary, urlFor func(port int) string) {
	d.Status = domain.StatusRunning
	d.ContainerID = s.ContainerID
	d.Port = s.Port
	d.URL = urlFor(s.Port)
	d.StoppedAt = nil
	d.UpdatedAt = time.Now().UTC()
}

func isRunning(s domain.DeploymentSummary) bool {
	return s.State == "running"
}
