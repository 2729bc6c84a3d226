package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pausedSession(id string) (*Session, *fakeSandbox) {
	sb := newFakeSandbox(nil)
	return &Session{ID: id, Sandbox: sb, Branch: "autopr/test", CreatedAt: time.Now()}, sb
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, sb := pausedSession("sess_1")
	r.Put(s)

	got, ok := r.Get("sess_1")
	require.True(t, ok)
	assert.Equal(t, s, got)

	r.Remove(context.Background(), "sess_1")
	_, ok = r.Get("sess_1")
	assert.False(t, ok)
	assert.Equal(t, 1, sb.cleanupCalls)
}

func TestRegistryIdleEvictionExactlyOnce(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	s, sb := pausedSession("sess_idle")
	r.Put(s)

	time.Sleep(30 * time.Millisecond)
	evicted := r.Sweep(context.Background())
	assert.Equal(t, 1, evicted)

	_, ok := r.Get("sess_idle")
	assert.False(t, ok, "idle session must be absent after the sweep")
	assert.Equal(t, 1, sb.cleanupCalls, "teardown runs exactly once")

	// Further sweeps and removes must not tear down again.
	r.Sweep(context.Background())
	r.Remove(context.Background(), "sess_idle")
	assert.Equal(t, 1, sb.cleanupCalls)
}

func TestRegistryTouchDefersEviction(t *testing.T) {
	r := NewRegistry(40 * time.Millisecond)
	s, _ := pausedSession("sess_active")
	r.Put(s)

	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		r.Touch("sess_active")
	}
	evicted := r.Sweep(context.Background())
	assert.Equal(t, 0, evicted, "touched sessions stay registered")
	_, ok := r.Get("sess_active")
	assert.True(t, ok)
}

func TestRegistryAcquireIsExclusive(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _ := pausedSession("sess_x")
	r.Put(s)

	got, err := r.Acquire("sess_x")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = r.Acquire("sess_x")
	assert.Error(t, err, "a busy session cannot be acquired twice")
}

func TestRegistryAcquiredSessionSurvivesSweep(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	s, sb := pausedSession("sess_busy")
	r.Put(s)

	_, err := r.Acquire("sess_busy")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	evicted := r.Sweep(context.Background())
	assert.Equal(t, 0, evicted, "in-flight resumes must not race eviction")
	assert.Equal(t, 0, sb.cleanupCalls)

	// The resume path removes the entry when it finishes.
	r.Remove(context.Background(), "sess_busy")
	assert.Equal(t, 1, sb.cleanupCalls)
}

func TestRegistryAcquireMissingSession(t *testing.T) {
	r := NewRegistry(time.Minute)
	_, err := r.Acquire("sess_gone")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
