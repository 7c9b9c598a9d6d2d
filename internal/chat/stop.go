package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"juris/internal/types"
)

// StopRegistry tracks the active answer stream of each conversation so a
// separate request can stop it. At most one stream per conversation.
type StopRegistry struct {
	mu     sync.Mutex
	active map[string]*activeStream
}

type activeStream struct {
	owner   string
	cancel  context.CancelFunc
	started time.Time
	stopped bool
}

// NewStopRegistry returns an empty registry.
func NewStopRegistry() *StopRegistry {
	return &StopRegistry{active: make(map[string]*activeStream)}
}

// Register records cancel as the stop signal for conversationID. It fails
// with ErrConflict while another stream for the conversation is active.
func (r *StopRegistry) Register(conversationID, owner string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[conversationID]; busy {
		return fmt.Errorf("conversation %s already has an active answer: %w", conversationID, types.ErrConflict)
	}
	r.active[conversationID] = &activeStream{owner: owner, cancel: cancel, started: time.Now()}
	return nil
}

// Stop cancels the active stream of conversationID if owner started it.
// Streams of other users are reported as not found.
func (r *StopRegistry) Stop(conversationID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[conversationID]
	if !ok || a.owner != owner {
		return fmt.Errorf("no active answer for conversation %s: %w", conversationID, types.ErrNotFound)
	}
	a.stopped = true
	a.cancel()
	return nil
}

// Stopped reports whether Stop was called for the active stream.
func (r *StopRegistry) Stopped(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[conversationID]
	return ok && a.stopped
}

// Release removes the entry for conversationID.
func (r *StopRegistry) Release(conversationID string) {
	r.mu.Lock()
	delete(r.active, conversationID)
	r.mu.Unlock()
}

// Active reports whether conversationID has a running stream.
func (r *StopRegistry) Active(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[conversationID]
	return ok
}

// Count returns the number of running streams.
func (r *StopRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// StopAll cancels every stream. Used on shutdown.
func (r *StopRegistry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.active {
		a.stopped = true
		a.cancel()
	}
	return len(r.active)
}
