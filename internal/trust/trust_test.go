package trust

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/floegence/redeven-extensions/internal/lockfile"
)

func TestFileProviderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted_workspaces.json")
	p := NewFileProvider(path)

	trusted, err := p.IsWorkspaceTrusted("/ws")
	if err != nil {
		t.Fatalf("IsWorkspaceTrusted(fresh): %v", err)
	}
	if trusted {
		t.Fatalf("fresh provider trusts /ws")
	}

	if err := p.SetTrusted("/ws", true); err != nil {
		t.Fatalf("SetTrusted: %v", err)
	}
	trusted, err = p.IsWorkspaceTrusted("/ws")
	if err != nil || !trusted {
		t.Fatalf("IsWorkspaceTrusted = (%v, %v), want trusted", trusted, err)
	}
	if trusted, _ := p.IsWorkspaceTrusted("/other"); trusted {
		t.Fatalf("trust leaked to /other")
	}

	// A change is observable by a new provider over the same file.
	if trusted, _ := NewFileProvider(path).IsWorkspaceTrusted("/ws"); !trusted {
		t.Fatalf("trust not persisted")
	}

	if err := p.SetTrusted("/ws", false); err != nil {
		t.Fatalf("SetTrusted(revoke): %v", err)
	}
	if trusted, _ := p.IsWorkspaceTrusted("/ws"); trusted {
		t.Fatalf("trust survived revoke")
	}
}

func TestFileProviderFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted_workspaces.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewFileProvider(path)
	trusted, err := p.IsWorkspaceTrusted("/ws")
	if err == nil {
		t.Fatalf("corrupt trust file produced no error")
	}
	if trusted {
		t.Fatalf("corrupt trust file granted trust")
	}
}

func TestSetTrustedHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted_workspaces.json")
	p := NewFileProvider(path)

	lk, err := lockfile.Acquire(path + ".lock")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.SetTrusted("/ws", true); !errors.Is(err, lockfile.ErrAlreadyLocked) {
		t.Fatalf("SetTrusted under held lock error = %v, want ErrAlreadyLocked", err)
	}
	// The edit was refused outright, not applied over the holder's.
	if trusted, _ := p.IsWorkspaceTrusted("/ws"); trusted {
		t.Fatalf("refused edit still granted trust")
	}

	if err := lk.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.SetTrusted("/ws", true); err != nil {
		t.Fatalf("SetTrusted after release: %v", err)
	}
	if trusted, _ := p.IsWorkspaceTrusted("/ws"); !trusted {
		t.Fatalf("workspace not trusted after release")
	}
}

func TestStaticProvider(t *testing.T) {
	if trusted, err := Static(true).IsWorkspaceTrusted("/anything"); err != nil || !trusted {
		t.Fatalf("Static(true) = (%v, %v)", trusted, err)
	}
	if trusted, _ := Static(false).IsWorkspaceTrusted("/anything"); trusted {
		t.Fatalf("Static(false) trusted")
	}
}
