package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a paused session may sit idle before
// the registry tears its sandbox down.
const DefaultIdleTimeout = 10 * time.Minute

type registryEntry struct {
	session      *Session
	lastActivity time.Time
	busy         bool // an in-flight resume owns the session
	torndown     bool
}

// Registry is the process-wide store of paused sessions. It serializes
// inserts, acquisitions, and evictions behind a single mutex so a resume
// can never race an eviction tick onto a half-torn-down sandbox.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]*registryEntry
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewRegistry creates a Registry. A non-positive idleTimeout uses
// DefaultIdleTimeout.
func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		entries:     make(map[string]*registryEntry),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
}

// Put registers a paused session. Re-registration overwrites the entry;
// the previous entry for the same id is assumed to share the sandbox.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &registryEntry{session: s, lastActivity: time.Now()}
}

// Get returns the session for id without claiming ownership. Used for
// read-only inspection (diff and terminal boundaries).
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastActivity = time.Now()
	return e.session, true
}

// Touch refreshes a session's idle clock.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.lastActivity = time.Now()
	}
}

// Acquire claims exclusive ownership of a paused session for resumption.
// A busy session cannot be acquired again, and an acquired session is
// skipped by the eviction sweep until released or removed.
func (r *Registry) Acquire(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found (completed, never paused, or evicted)", id)
	}
	if e.busy {
		return nil, fmt.Errorf("session %s is already being resumed", id)
	}
	e.busy = true
	e.lastActivity = time.Now()
	return e.session, nil
}

// Remove evicts a session and tears its sandbox down. Teardown runs at
// most once per entry no matter how Remove and the sweeper interleave.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	doTeardown := !e.torndown
	e.torndown = true
	r.mu.Unlock()

	if doTeardown && e.session.Sandbox != nil {
		_ = e.session.Sandbox.Cleanup(ctx)
	}
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartSweeper launches the background eviction loop. Call Stop to end
// it.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(context.Background())
			case <-r.stop:
				return
			}
		}
	}()
}

// Sweep evicts every idle, non-busy session past the timeout. Exposed
// for tests and manual ticks.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	cutoff := time.Now().Add(-r.idleTimeout)
	var expired []*registryEntry
	for id, e := range r.entries {
		if e.busy || e.lastActivity.After(cutoff) {
			continue
		}
		delete(r.entries, id)
		if !e.torndown {
			e.torndown = true
			expired = append(expired, e)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		if e.session.Sandbox != nil {
			_ = e.session.Sandbox.Cleanup(ctx)
		}
	}
	return len(expired)
}

// Stop halts the sweeper goroutine. Registered sessions are left alone.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
