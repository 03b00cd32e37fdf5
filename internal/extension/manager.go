package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/floegence/redeven-extensions/internal/auditlog"
	"github.com/floegence/redeven-extensions/internal/consent"
	"github.com/floegence/redeven-extensions/internal/lockfile"
	"github.com/floegence/redeven-extensions/internal/trust"
)

// State is the resolved activation state of an extension under the
// current scope overlay and consent records.
type State string

const (
	StateEnabled         State = "enabled"
	StateDisabled        State = "disabled"
	StateConsentRequired State = "consent required"
)

// Extension is a loaded, resolved unit of configuration. Instances are
// immutable once published in a snapshot; a refresh rebuilds them
// wholesale.
type Extension struct {
	Descriptor

	// Path is the extension's install directory.
	Path string
	// Scope is the layer the extension was discovered in.
	Scope Scope
	// State is derived at resolution time, never stored on disk.
	State State
	// Env holds the extension-local environment overrides.
	Env map[string]string
}

// Notice is a non-fatal problem accumulated during refresh. A single
// malformed descriptor never aborts the whole refresh; it lands here.
type Notice struct {
	Name    string `json:"name,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// snapshot is the fully resolved view. It is built aside during
// refresh and published with a single pointer swap, so callers never
// observe a partially populated cache.
type snapshot struct {
	version    int64
	extensions []Extension
	byName     map[string]int
	notices    []Notice
	trusted    bool
}

type ManagerOptions struct {
	// Workspace is the workspace root; empty means no workspace scope.
	Workspace string
	Storage   *Storage
	Trust     trust.Provider
	Consent   *consent.Gate
	Logger    *slog.Logger
	Audit     *auditlog.Store
}

// Manager owns the resolved in-memory extension set. Refresh calls are
// serialized; queries read the last published snapshot without
// blocking; mutations write through to the overlay files and leave the
// snapshot intentionally stale until the next Refresh.
type Manager struct {
	workspace string
	storage   *Storage
	trust     trust.Provider
	consent   *consent.Gate
	log       *slog.Logger
	audit     *auditlog.Store

	// refreshMu serializes Refresh; a refresh in progress completes
	// before another starts.
	refreshMu sync.Mutex

	snapMu  sync.RWMutex
	snap    *snapshot
	version int64
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("missing storage")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workspace: strings.TrimSpace(opts.Workspace),
		storage:   opts.Storage,
		trust:     opts.Trust,
		consent:   opts.Consent,
		log:       logger,
		audit:     opts.Audit,
	}, nil
}

// Refresh rescans the extension roots, converts every discovered
// descriptor, resolves the scope overlay, applies the consent gate,
// and atomically replaces the in-memory cache. Per-extension errors
// are accumulated in the returned notices, never fatal to the refresh.
func (m *Manager) Refresh(ctx context.Context) ([]Notice, error) {
	if m == nil {
		return nil, fmt.Errorf("nil extension manager")
	}
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	notices := make([]Notice, 0, 4)

	trusted := false
	if m.trust != nil && m.workspace != "" {
		t, err := m.trust.IsWorkspaceTrusted(m.workspace)
		if err != nil {
			// Fail closed: an undetermined trust state is untrusted.
			notices = append(notices, Notice{Path: m.workspace, Message: fmt.Sprintf("trust check failed, treating workspace as untrusted: %v", err)})
		} else {
			trusted = t
		}
	}

	m.consent.Reset()

	// Overlay and root read failures abort the refresh: the cache only
	// swaps on full success, so the previous snapshot stays intact.
	userOverlay, err := LoadOverlay(m.storage.OverlayPath(ScopeUser, ""))
	if err != nil {
		return notices, fmt.Errorf("load user overlay: %w", err)
	}
	var wsOverlay *Overlay
	if trusted && m.workspace != "" {
		// An untrusted workspace's overlay is ignored entirely, not
		// merely deprioritized.
		wsOverlay, err = LoadOverlay(m.storage.OverlayPath(ScopeWorkspace, m.workspace))
		if err != nil {
			return notices, fmt.Errorf("load workspace overlay: %w", err)
		}
	}

	discovered, err := m.scanRoot(m.storage.UserExtensionsRoot(), ScopeUser, &notices)
	if err != nil {
		return notices, err
	}
	if trusted && m.workspace != "" {
		fromWS, err := m.scanRoot(m.storage.WorkspaceExtensionsRoot(m.workspace), ScopeWorkspace, &notices)
		if err != nil {
			return notices, err
		}
		discovered = append(discovered, fromWS...)
	}

	extensions := make([]Extension, 0, len(discovered))
	byName := make(map[string]int, len(discovered))
	for _, ext := range discovered {
		if prior, ok := byName[ext.Name]; ok {
			// Workspace scope is more specific and shadows the
			// user-level install of the same name.
			notices = append(notices, Notice{
				Name:    ext.Name,
				Path:    extensions[prior].Path,
				Message: fmt.Sprintf("shadowed by %s-scope extension at %s", ext.Scope, ext.Path),
			})
			extensions[prior] = ext
			continue
		}
		byName[ext.Name] = len(extensions)
		extensions = append(extensions, ext)
	}

	for i := range extensions {
		ext := &extensions[i]

		enabled := true
		if wsOverlay != nil {
			if v, ok := wsOverlay.Lookup(ext.Name); ok {
				enabled = v
			} else if v, ok := userOverlay.Lookup(ext.Name); ok {
				enabled = v
			}
		} else if v, ok := userOverlay.Lookup(ext.Name); ok {
			enabled = v
		}

		if ext.RequiresConsent() {
			outcome, err := m.consent.Check(ctx, consent.Request{
				Workspace: m.workspace,
				Extension: ext.Name,
				Scope:     ext.Scope.String(),
				Settings:  settingSummaries(ext.SettingsDescriptors),
			}, trusted)
			if err != nil {
				notices = append(notices, Notice{Name: ext.Name, Path: ext.Path, Message: fmt.Sprintf("consent: %v", err)})
			}
			if !outcome.Granted() {
				if outcome.TrustDenied {
					terr := &TrustDeniedError{Workspace: m.workspace, Extension: ext.Name}
					notices = append(notices, Notice{Name: ext.Name, Path: ext.Path, Message: terr.Error()})
				}
				ext.State = StateConsentRequired
				continue
			}
		}

		if enabled {
			ext.State = StateEnabled
		} else {
			ext.State = StateDisabled
		}
	}

	m.snapMu.Lock()
	m.version++
	next := &snapshot{
		version:    m.version,
		extensions: extensions,
		byName:     byName,
		notices:    notices,
		trusted:    trusted,
	}
	m.snap = next
	m.snapMu.Unlock()

	m.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionRefresh,
		Workspace: m.workspace,
		Detail: map[string]any{
			"extensions": len(extensions),
			"notices":    len(notices),
			"trusted":    trusted,
		},
	})
	m.log.Debug("extension cache refreshed",
		"extensions", len(extensions), "notices", len(notices), "trusted", trusted)

	return append([]Notice(nil), notices...), nil
}

// scanRoot reads one extensions root. A missing root is fine;
// directories without a descriptor file are ignored; malformed
// descriptors are skipped with a notice. An unreadable root is a
// StorageError, fatal to this refresh.
func (m *Manager) scanRoot(root string, scope Scope, notices *[]Notice) ([]Extension, error) {
	root = filepath.Clean(strings.TrimSpace(root))
	if root == "" || root == "." {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "readdir", Path: root, Err: err}
	}

	out := make([]Extension, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || !entry.IsDir() {
			continue
		}
		// Dot-directories cover staging dirs mid-install.
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		descPath := ""
		for _, name := range []string{ConfigFileName, ConfigFileNameYAML} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				descPath = candidate
				break
			}
		}
		if descPath == "" {
			continue
		}

		desc, err := ParseDescriptorFile(descPath)
		if err != nil {
			*notices = append(*notices, Notice{Name: entry.Name(), Path: descPath, Message: err.Error()})
			continue
		}

		env, err := ParseEnvFile(filepath.Join(dir, EnvFileName))
		if err != nil {
			*notices = append(*notices, Notice{Name: desc.Name, Path: dir, Message: err.Error()})
			env = map[string]string{}
		}

		out = append(out, Extension{
			Descriptor: *desc,
			Path:       dir,
			Scope:      scope,
			Env:        env,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Manager) current() *snapshot {
	if m == nil {
		return nil
	}
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// LoadedExtensions returns the enabled extensions in discovery order
// (user scope then workspace scope). It fails with ErrNotInitialized
// before the first successful Refresh so callers can tell "no
// extensions" from "not yet loaded".
func (m *Manager) LoadedExtensions() ([]Extension, error) {
	snap := m.current()
	if snap == nil {
		return nil, ErrNotInitialized
	}
	out := make([]Extension, 0, len(snap.extensions))
	for _, ext := range snap.extensions {
		if ext.State != StateEnabled {
			continue
		}
		out = append(out, cloneExtension(ext))
	}
	return out, nil
}

// All returns every known extension, including disabled and
// consent-blocked ones, for status and listing commands.
func (m *Manager) All() ([]Extension, error) {
	snap := m.current()
	if snap == nil {
		return nil, ErrNotInitialized
	}
	out := make([]Extension, 0, len(snap.extensions))
	for _, ext := range snap.extensions {
		out = append(out, cloneExtension(ext))
	}
	return out, nil
}

// Notices returns the problems accumulated by the last Refresh.
func (m *Manager) Notices() ([]Notice, error) {
	snap := m.current()
	if snap == nil {
		return nil, ErrNotInitialized
	}
	return append([]Notice(nil), snap.notices...), nil
}

// WorkspaceTrusted reports the trust state observed by the last
// Refresh.
func (m *Manager) WorkspaceTrusted() (bool, error) {
	snap := m.current()
	if snap == nil {
		return false, ErrNotInitialized
	}
	return snap.trusted, nil
}

// Enable marks the extension enabled in the given scope's overlay.
// The overlay write is durable immediately; the resolved view stays as
// of the last Refresh.
func (m *Manager) Enable(name string, scope Scope) error {
	return m.setEnabled(name, scope, true)
}

// Disable marks the extension disabled in the given scope's overlay.
// It never deletes the extension's on-disk descriptor.
func (m *Manager) Disable(name string, scope Scope) error {
	return m.setEnabled(name, scope, false)
}

func (m *Manager) setEnabled(name string, scope Scope, enabled bool) error {
	if m == nil {
		return fmt.Errorf("nil extension manager")
	}
	name = strings.TrimSpace(name)
	snap := m.current()
	if snap == nil {
		return ErrNotInitialized
	}
	if _, ok := snap.byName[name]; !ok {
		return &NotFoundError{Name: name}
	}
	if scope == ScopeWorkspace && m.workspace == "" {
		return fmt.Errorf("workspace scope unavailable")
	}

	// Cross-process lock: two CLI invocations must not interleave
	// overlay writes.
	if err := os.MkdirAll(m.storage.StateDir(), 0o700); err != nil {
		return &StorageError{Op: "mkdir", Path: m.storage.StateDir(), Err: err}
	}
	lk, err := lockfile.Acquire(m.storage.LockPath())
	if err != nil {
		return fmt.Errorf("acquire extensions lock: %w", err)
	}
	defer func() { _ = lk.Release() }()

	path := m.storage.OverlayPath(scope, m.workspace)
	o, err := LoadOverlay(path)
	if err != nil {
		return fmt.Errorf("load %s overlay: %w", scope, err)
	}
	o.Set(name, enabled)
	if err := o.Save(); err != nil {
		return fmt.Errorf("save %s overlay: %w", scope, err)
	}
	return nil
}

// OutputString is a pure formatting helper producing a human-readable
// multi-line summary of one resolved extension. Paths under the user
// home or the workspace root are abbreviated.
func OutputString(ext Extension, workspaceRoot string) string {
	var b strings.Builder
	version := strings.TrimSpace(ext.Version)
	if version == "" {
		version = "unversioned"
	}
	fmt.Fprintf(&b, "%s (%s)\n", ext.Name, version)
	fmt.Fprintf(&b, "  Path: %s\n", abbreviatePath(ext.Path, workspaceRoot))
	fmt.Fprintf(&b, "  Scope: %s\n", ext.Scope)
	fmt.Fprintf(&b, "  State: %s\n", ext.State)
	if ext.CommandsPath != "" {
		fmt.Fprintf(&b, "  Commands: %s\n", ext.CommandsPath)
	}
	for _, s := range settingSummaries(ext.SettingsDescriptors) {
		fmt.Fprintf(&b, "  Setting: %s\n", s)
	}
	return b.String()
}

func abbreviatePath(path string, workspaceRoot string) string {
	path = filepath.Clean(strings.TrimSpace(path))
	if ws := filepath.Clean(strings.TrimSpace(workspaceRoot)); ws != "" && ws != "." {
		if rel, err := filepath.Rel(ws, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join("~", rel)
		}
	}
	return path
}

func settingSummaries(settings []SettingDescriptor) []string {
	out := make([]string, 0, len(settings))
	for _, s := range settings {
		line := fmt.Sprintf("%s ($%s)", s.Name, s.EnvVar)
		if s.Description != "" {
			line += ": " + s.Description
		}
		out = append(out, line)
	}
	return out
}

func cloneExtension(ext Extension) Extension {
	cloned := ext
	cloned.SettingsDescriptors = append([]SettingDescriptor(nil), ext.SettingsDescriptors...)
	if len(ext.Env) > 0 {
		env := make(map[string]string, len(ext.Env))
		for k, v := range ext.Env {
			env[k] = v
		}
		cloned.Env = env
	}
	if len(ext.Extra) > 0 {
		extra := make(map[string]any, len(ext.Extra))
		for k, v := range ext.Extra {
			extra[k] = v
		}
		cloned.Extra = extra
	}
	return cloned
}
