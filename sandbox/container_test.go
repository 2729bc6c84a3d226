package sandbox

import (
	"context"
	"testing"
)

func TestContainerCloseWithoutInit(t *testing.T) {
	// Cleanup runs unconditionally in the orchestrator, including when
	// Init never ran; it must be a no-op, not a panic.
	w := NewContainerWorkspace("test-session", "")
	if err := w.Close(context.Background()); err != nil {
		t.Errorf("close without init should be a no-op, got %v", err)
	}
}

func TestContainerSurfaceCleanupWithoutInit(t *testing.T) {
	s := New(NewContainerWorkspace("test-session", ""), Options{})
	if err := s.Cleanup(context.Background()); err != nil {
		t.Errorf("cleanup without initialize should succeed, got %v", err)
	}
	// And again, for idempotence.
	if err := s.Cleanup(context.Background()); err != nil {
		t.Errorf("repeated cleanup should succeed, got %v", err)
	}
}

func TestContainerWorkspaceDefaults(t *testing.T) {
	w := NewContainerWorkspace("sess_1", "")
	if w.image != DefaultImage {
		t.Errorf("expected default image, got %q", w.image)
	}
	if w.name != "autopr-sess_1" {
		t.Errorf("unexpected container name %q", w.name)
	}
	if w.Root() != containerRoot {
		t.Errorf("unexpected root %q", w.Root())
	}
}
