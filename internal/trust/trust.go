// Package trust decides whether a workspace root may contribute
// workspace-scope configuration. A failure to determine trust always
// defaults to "untrusted".
package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/floegence/redeven-extensions/internal/lockfile"
)

// Provider answers workspace trust queries. Implementations must fail
// closed: on any internal error the workspace is untrusted.
type Provider interface {
	IsWorkspaceTrusted(path string) (bool, error)
}

// Static is a fixed-answer provider, mostly for tests and for callers
// that resolve trust elsewhere.
type Static bool

func (s Static) IsWorkspaceTrusted(string) (bool, error) {
	return bool(s), nil
}

type trustFile struct {
	SchemaVersion int      `json:"schema_version"`
	TrustedRoots  []string `json:"trusted_roots,omitempty"`
}

// FileProvider persists trusted workspace roots in a user-level JSON
// file. Trust is re-read on every query so a change is observable on
// the next resolution pass.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: filepath.Clean(strings.TrimSpace(path))}
}

func (p *FileProvider) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

func (p *FileProvider) IsWorkspaceTrusted(path string) (bool, error) {
	if p == nil {
		return false, errors.New("nil trust provider")
	}
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	tf, err := p.loadLocked()
	if err != nil {
		// Fail closed: an unreadable trust file never grants trust.
		return false, err
	}
	for _, root := range tf.TrustedRoots {
		if filepath.Clean(root) == path {
			return true, nil
		}
	}
	return false, nil
}

// SetTrusted records or revokes trust for a workspace root.
func (p *FileProvider) SetTrusted(path string, trusted bool) error {
	if p == nil {
		return errors.New("nil trust provider")
	}
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return errors.New("missing workspace path")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Cross-process lock: two CLI invocations must not interleave
	// trust-file read-modify-write cycles.
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	lk, err := lockfile.Acquire(p.path + ".lock")
	if err != nil {
		return fmt.Errorf("acquire trust lock: %w", err)
	}
	defer func() { _ = lk.Release() }()

	tf, err := p.loadLocked()
	if err != nil {
		return err
	}

	roots := make([]string, 0, len(tf.TrustedRoots)+1)
	for _, root := range tf.TrustedRoots {
		if filepath.Clean(root) == path {
			continue
		}
		roots = append(roots, filepath.Clean(root))
	}
	if trusted {
		roots = append(roots, path)
	}
	sort.Strings(roots)
	tf.TrustedRoots = roots
	return p.saveLocked(tf)
}

func (p *FileProvider) loadLocked() (*trustFile, error) {
	if strings.TrimSpace(p.path) == "" {
		return nil, errors.New("missing trust file path")
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &trustFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var tf trustFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, err
	}
	if tf.SchemaVersion == 0 {
		tf.SchemaVersion = 1
	}
	return &tf, nil
}

func (p *FileProvider) saveLocked(tf *trustFile) error {
	if tf == nil {
		return errors.New("nil trust record")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
