package extension

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// ConfigFileName is the native descriptor file inside an extension dir.
	ConfigFileName = "redeven-extension.json"
	// ConfigFileNameYAML is the YAML descriptor variant.
	ConfigFileNameYAML = "redeven-extension.yaml"
	// EnvFileName is the extension-local environment override file.
	EnvFileName = ".env.yaml"

	overlayFileName = "extensions_overlay.json"
	workspaceSubdir = ".redeven"
)

var extensionNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ValidName reports whether name is safe to use as an extension
// directory name.
func ValidName(name string) bool {
	return extensionNameRE.MatchString(strings.TrimSpace(name))
}

// Storage resolves on-disk locations for the extensions subsystem.
//
// Every path method is a pure function of its inputs; only
// CreateTempDir touches the filesystem.
type Storage struct {
	stateDir string
}

// DefaultStateDir returns the user-level state directory:
//
//	~/.redeven
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".redeven"
	}
	return filepath.Join(home, workspaceSubdir)
}

// NewStorage returns a Storage rooted at stateDir. An empty stateDir
// selects DefaultStateDir().
func NewStorage(stateDir string) *Storage {
	stateDir = strings.TrimSpace(stateDir)
	if stateDir == "" {
		stateDir = DefaultStateDir()
	}
	return &Storage{stateDir: filepath.Clean(stateDir)}
}

func (s *Storage) StateDir() string {
	if s == nil {
		return ""
	}
	return s.stateDir
}

// UserExtensionsRoot is the shared user-level extensions root, stable
// for the process lifetime.
func (s *Storage) UserExtensionsRoot() string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.stateDir, "extensions")
}

// WorkspaceExtensionsRoot is the workspace-level extensions root.
func (s *Storage) WorkspaceExtensionsRoot(workspace string) string {
	workspace = strings.TrimSpace(workspace)
	if workspace == "" {
		return ""
	}
	return filepath.Join(workspace, workspaceSubdir, "extensions")
}

// ExtensionDir is the install directory of a named user-level extension.
func (s *Storage) ExtensionDir(name string) string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.UserExtensionsRoot(), strings.TrimSpace(name))
}

// ConfigPath is the native descriptor path for a user-level extension.
func (s *Storage) ConfigPath(name string) string {
	return filepath.Join(s.ExtensionDir(name), ConfigFileName)
}

// EnvFilePath is the local environment-override file for an extension.
func (s *Storage) EnvFilePath(name string) string {
	return filepath.Join(s.ExtensionDir(name), EnvFileName)
}

// OverlayPath is the enabled/disabled overlay file for a scope.
// Workspace scope requires a non-empty workspace root.
func (s *Storage) OverlayPath(scope Scope, workspace string) string {
	if s == nil {
		return ""
	}
	if scope == ScopeWorkspace {
		workspace = strings.TrimSpace(workspace)
		if workspace == "" {
			return ""
		}
		return filepath.Join(workspace, workspaceSubdir, overlayFileName)
	}
	return filepath.Join(s.stateDir, overlayFileName)
}

// ConsentDBPath is the consent record database location.
func (s *Storage) ConsentDBPath() string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.stateDir, "consent.db")
}

// TrustFilePath is the trusted-workspaces record location.
func (s *Storage) TrustFilePath() string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.stateDir, "trusted_workspaces.json")
}

// LockPath is the cross-process mutation lock location.
func (s *Storage) LockPath() string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.stateDir, "extensions.lock")
}

// CreateTempDir creates and returns a freshly created, uniquely named
// staging directory under the system temp root. Repeated calls always
// yield a new directory.
func (s *Storage) CreateTempDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "redeven-ext-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}
