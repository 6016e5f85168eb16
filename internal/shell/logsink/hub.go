package logsink

import (
	"sync"

	"github.com/google/uuid"

	"github.com/artpar/launchpad/internal/core/domain"
)

const (
	// DefaultHistorySize is the number of recent events kept per deployment.
	DefaultHistorySize = 200

	// DefaultMaxDeployments is the number of deployments whose history is
	// kept at once.
	DefaultMaxDeployments = 256

	subscriberBuffer = 64
)

// Subscription is a live feed of one deployment's build log events.
type Subscription struct {
	ID           string
	DeploymentID string
	Events       <-chan domain.BuildLogEvent

	ch  chan domain.BuildLogEvent
	hub *Hub
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans build log events out to live subscribers and keeps a short
// per-deployment history so late subscribers can catch up.
// Slow subscribers lose events rather than stall the emitter.
//
// History is kept for at most maxDeployments deployments. Past that, the
// history of the deployment that started logging earliest and has no
// subscribers is evicted.
type Hub struct {
	historySize    int
	maxDeployments int

	mu      sync.Mutex
	subs    map[string]map[string]*Subscription
	history map[string][]domain.BuildLogEvent
	order   []string // deployment ids with history, oldest first
}

// NewHub creates a hub retaining historySize events for each of up to
// maxDeployments deployments. Zero selects the defaults.
func NewHub(historySize, maxDeployments int) *Hub {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if maxDeployments <= 0 {
		maxDeployments = DefaultMaxDeployments
	}
	return &Hub{
		historySize:    historySize,
		maxDeployments: maxDeployments,
		subs:           make(map[string]map[string]*Subscription),
		history:        make(map[string][]domain.BuildLogEvent),
	}
}

// EmitLog stamps the event, records it and delivers it to the deployment's
// subscribers.
func (h *Hub) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	h.EmitEvent(domain.NewBuildLogEvent(deploymentID, level, message))
}

// EmitEvent records ev as is and delivers it to the deployment's subscribers.
func (h *Hub) EmitEvent(ev domain.BuildLogEvent) {
	deploymentID := ev.DeploymentID

	h.mu.Lock()
	defer h.mu.Unlock()

	hist, known := h.history[deploymentID]
	hist = append(hist, ev)
	if len(hist) > h.historySize {
		hist = hist[len(hist)-h.historySize:]
	}
	h.history[deploymentID] = hist
	if !known {
		h.order = append(h.order, deploymentID)
		h.evict()
	}

	for _, sub := range h.subs[deploymentID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe opens a feed for deploymentID. The returned backlog holds the
// events emitted before the subscription started.
func (h *Hub) Subscribe(deploymentID string) (*Subscription, []domain.BuildLogEvent) {
	ch := make(chan domain.BuildLogEvent, subscriberBuffer)
	sub := &Subscription{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Events:       ch,
		ch:           ch,
		hub:          h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[deploymentID] == nil {
		h.subs[deploymentID] = make(map[string]*Subscription)
	}
	h.subs[deploymentID][sub.ID] = sub

	backlog := make([]domain.BuildLogEvent, len(h.history[deploymentID]))
	copy(backlog, h.history[deploymentID])
	return sub, backlog
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.DeploymentID]
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.subs, sub.DeploymentID)
	}
	close(sub.ch)
}

// History returns a copy of the retained events for deploymentID.
func (h *Hub) History(deploymentID string) []domain.BuildLogEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.BuildLogEvent, len(h.history[deploymentID]))
	copy(out, h.history[deploymentID])
	return out
}

// Reset drops the retained history for deploymentID. Called when a new
// deploy attempt starts.
func (h *Hub) Reset(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forget(deploymentID)
}

// Retained returns the number of deployments with retained history.
func (h *Hub) Retained() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

// evict drops the oldest unobserved histories until the cap holds. Must be
// called with h.mu held.
func (h *Hub) evict() {
	for i := 0; len(h.history) > h.maxDeployments && i < len(h.order); {
		id := h.order[i]
		if len(h.subs[id]) > 0 {
			i++
			continue
		}
		delete(h.history, id)
		h.order = append(h.order[:i], h.order[i+1:]...)
	}
}

// forget drops deploymentID's history. Must be called with h.mu held.
func (h *Hub) forget(deploymentID string) {
	if _, ok := h.history[deploymentID]; !ok {
		return
	}
	delete(h.history, deploymentID)
	for i, id := range h.order {
		if id == deploymentID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of live subscribers for deploymentID.
func (h *Hub) Subscribers(deploymentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[deploymentID])
}
