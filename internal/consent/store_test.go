package consent

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "consent.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "/ws", "beta", "user"); err != nil || ok {
		t.Fatalf("Get(empty) = (%v, %v), want not found", ok, err)
	}

	if err := s.Put(ctx, "/ws", "beta", "user", DecisionGranted); err != nil {
		t.Fatalf("Put: %v", err)
	}
	d, ok, err := s.Get(ctx, "/ws", "beta", "user")
	if err != nil || !ok || d != DecisionGranted {
		t.Fatalf("Get = (%v, %v, %v), want granted", d, ok, err)
	}

	// Keys are fully scoped: other workspaces and scopes stay Unknown.
	if _, ok, _ := s.Get(ctx, "/other", "beta", "user"); ok {
		t.Fatalf("decision leaked across workspaces")
	}
	if _, ok, _ := s.Get(ctx, "/ws", "beta", "workspace"); ok {
		t.Fatalf("decision leaked across scopes")
	}

	// Replace.
	if err := s.Put(ctx, "/ws", "beta", "user", DecisionDenied); err != nil {
		t.Fatalf("Put(replace): %v", err)
	}
	d, _, _ = s.Get(ctx, "/ws", "beta", "user")
	if d != DecisionDenied {
		t.Fatalf("Get after replace = %v, want denied", d)
	}

	// Revoke returns the key to Unknown.
	if err := s.Revoke(ctx, "/ws", "beta", "user"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "/ws", "beta", "user"); ok {
		t.Fatalf("decision survived revoke")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consent.db")
	ctx := context.Background()

	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := s.Put(ctx, "/ws", "beta", "user", DecisionGranted); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	d, ok, err := s.Get(ctx, "/ws", "beta", "user")
	if err != nil || !ok || d != DecisionGranted {
		t.Fatalf("Get after reopen = (%v, %v, %v), want granted", d, ok, err)
	}
}

func TestStoreValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "/ws", "", "user", DecisionGranted); err == nil {
		t.Fatalf("Put with empty extension succeeded")
	}
	if err := s.Put(ctx, "/ws", "beta", "user", Decision("maybe")); err == nil {
		t.Fatalf("Put with invalid decision succeeded")
	}
}
