package extension

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOverlayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions_overlay.json")

	o, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("LoadOverlay(missing) error: %v", err)
	}
	if _, ok := o.Lookup("alpha"); ok {
		t.Fatalf("empty overlay has entry for alpha")
	}

	o.Set("alpha", false)
	o.Set("beta", true)
	if err := o.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("LoadOverlay error: %v", err)
	}
	if enabled, ok := loaded.Lookup("alpha"); !ok || enabled {
		t.Fatalf("alpha = (%v, %v), want explicit disabled", enabled, ok)
	}
	if enabled, ok := loaded.Lookup("beta"); !ok || !enabled {
		t.Fatalf("beta = (%v, %v), want explicit enabled", enabled, ok)
	}
	if _, ok := loaded.Lookup("gamma"); ok {
		t.Fatalf("gamma present, want absent (enabled by default)")
	}

	// No temp leftovers from the atomic write.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestOverlayMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions_overlay.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOverlay(path); err == nil {
		t.Fatalf("LoadOverlay(malformed) succeeded, want error")
	}
}
