package extension

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// overlayFile is the on-disk shape of one scope's overlay: a mapping
// of extension name to explicit enabled/disabled.
type overlayFile struct {
	SchemaVersion int             `json:"schema_version"`
	Extensions    map[string]bool `json:"extensions,omitempty"`
}

// Overlay is one scope's enable/disable record. A name absent from the
// overlay means "enabled by default".
type Overlay struct {
	path    string
	entries map[string]bool
}

// LoadOverlay reads the overlay file at path. A missing file yields an
// empty overlay, not an error.
func LoadOverlay(path string) (*Overlay, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, errors.New("missing overlay path")
	}
	o := &Overlay{path: path, entries: map[string]bool{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return nil, err
	}
	var payload overlayFile
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	for name, enabled := range payload.Extensions {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		o.entries[name] = enabled
	}
	return o, nil
}

func (o *Overlay) Path() string {
	if o == nil {
		return ""
	}
	return o.path
}

// Lookup returns the explicit entry for name, if any.
func (o *Overlay) Lookup(name string) (enabled bool, ok bool) {
	if o == nil {
		return false, false
	}
	enabled, ok = o.entries[strings.TrimSpace(name)]
	return enabled, ok
}

// Set records an explicit enabled/disabled entry for name.
func (o *Overlay) Set(name string, enabled bool) {
	if o == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	o.entries[name] = enabled
}

// Save writes the overlay atomically (write-temp-then-rename).
func (o *Overlay) Save() error {
	if o == nil || strings.TrimSpace(o.path) == "" {
		return errors.New("missing overlay path")
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o700); err != nil {
		return err
	}
	payload := overlayFile{SchemaVersion: 1}
	if len(o.entries) > 0 {
		payload.Extensions = o.entries
	}
	buf, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, o.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
