package logsink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/artpar/launchpad/internal/core/domain"
)

// DefaultBufferSize is the event buffer used when none is configured.
const DefaultBufferSize = 1024

// Async decouples emitters from a slow downstream sink. Events go into a
// bounded buffer drained by one goroutine; when the buffer is full the event
// is dropped and counted instead of blocking the emitter.
type Async struct {
	next   Sink
	events chan domain.BuildLogEvent
	done   chan struct{}
	onDrop func()

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsync starts an Async sink in front of next. onDrop, if set, is called
// for every dropped event.
func NewAsync(next Sink, bufferSize int, onDrop func()) *Async {
	if next == nil {
		next = Nop
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	a := &Async{
		next:   next,
		events: make(chan domain.BuildLogEvent, bufferSize),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	go a.run()
	return a
}

// EmitLog stamps and enqueues the event, or drops it if the buffer is full.
func (a *Async) EmitLog(deploymentID string, level domain.LogLevel, message string) {
	a.EmitEvent(domain.NewBuildLogEvent(deploymentID, level, message))
}

// EmitEvent enqueues ev or drops it if the buffer is full.
func (a *Async) EmitEvent(ev domain.BuildLogEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop()
		return
	}

	select {
	case a.events <- ev:
	default:
		a.drop()
	}
}

func (a *Async) drop() {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		Forward(a.next, ev)
	}
}

// Dropped returns the number of events dropped so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
