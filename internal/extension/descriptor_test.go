package extension

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeDescriptorClassification(t *testing.T) {
	if got := DecodeDescriptor(nil); got.Kind != KindInvalid {
		t.Fatalf("DecodeDescriptor(nil) kind = %v, want invalid", got.Kind)
	}
	if IsLegacyFormat(nil) {
		t.Fatalf("IsLegacyFormat(nil) = true, want false")
	}
	if IsLegacyFormat(map[string]any{}) {
		t.Fatalf("IsLegacyFormat({}) = true, want false")
	}

	native := map[string]any{
		"name":         "alpha",
		"version":      "1.0.0",
		"commandsPath": "commands",
	}
	got := DecodeDescriptor(native)
	if got.Kind != KindNative {
		t.Fatalf("native kind = %v, want native", got.Kind)
	}
	if got.Native.Name != "alpha" || got.Native.Version != "1.0.0" || got.Native.CommandsPath != "commands" {
		t.Fatalf("native decode = %+v", got.Native)
	}

	legacy := map[string]any{
		"name":    "beta",
		"version": "2.0.0",
		"settings": []any{
			map[string]any{"name": "Key", "envVar": "K", "description": "d"},
		},
	}
	got = DecodeDescriptor(legacy)
	if got.Kind != KindLegacy {
		t.Fatalf("legacy kind = %v, want legacy", got.Kind)
	}
	if !IsLegacyFormat(legacy) {
		t.Fatalf("IsLegacyFormat(legacy) = false, want true")
	}
	if len(got.Legacy.Settings) != 1 || got.Legacy.Settings[0].EnvVar != "K" {
		t.Fatalf("legacy settings = %+v", got.Legacy.Settings)
	}

	// A settings array that is not the legacy record shape is not a
	// dispatch signal.
	notLegacy := map[string]any{
		"name":     "gamma",
		"settings": []any{"just", "strings"},
	}
	if IsLegacyFormat(notLegacy) {
		t.Fatalf("IsLegacyFormat(malformed settings) = true, want false")
	}
}

func TestConvertLegacyMissingName(t *testing.T) {
	legacy := &LegacyDescriptor{
		Version:  "3.1.4",
		Commands: "cmds",
		Settings: []SettingDescriptor{{Name: "Key", EnvVar: "K"}},
	}
	_, err := ConvertLegacy(legacy)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ConvertLegacy(no name) error = %v, want ValidationError", err)
	}
	if _, err := ConvertLegacy(nil); err == nil {
		t.Fatalf("ConvertLegacy(nil) succeeded, want error")
	}
}

func TestConvertLegacy(t *testing.T) {
	legacy := &LegacyDescriptor{
		Name:     "beta",
		Version:  "2.0.0",
		Commands: "commands/defs",
		Settings: []SettingDescriptor{{Name: "Key", EnvVar: "K", Description: "d"}},
		Extra:    map[string]any{"homepage": "https://example.invalid"},
	}

	out, err := ConvertLegacy(legacy)
	if err != nil {
		t.Fatalf("ConvertLegacy error: %v", err)
	}
	if out.Name != "beta" || out.Version != "2.0.0" {
		t.Fatalf("converted = %+v", out)
	}
	if out.CommandsPath != "commands/defs" {
		t.Fatalf("CommandsPath = %q, want %q", out.CommandsPath, "commands/defs")
	}
	if len(out.SettingsDescriptors) != 1 || out.SettingsDescriptors[0].EnvVar != "K" {
		t.Fatalf("SettingsDescriptors = %+v", out.SettingsDescriptors)
	}
	if out.Extra["homepage"] != "https://example.invalid" {
		t.Fatalf("Extra = %+v", out.Extra)
	}

	// Deterministic: same input, identical output.
	again, err := ConvertLegacy(legacy)
	if err != nil {
		t.Fatalf("second ConvertLegacy error: %v", err)
	}
	a, _ := json.Marshal(out)
	b, _ := json.Marshal(again)
	if string(a) != string(b) {
		t.Fatalf("conversion not deterministic: %s vs %s", a, b)
	}

	// Input never mutated.
	if legacy.Name != "beta" || len(legacy.Settings) != 1 || legacy.Commands != "commands/defs" {
		t.Fatalf("input mutated: %+v", legacy)
	}

	// Idempotent through re-serialization: the native output decodes
	// as native with the same name/version.
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal native: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal native: %v", err)
	}
	decoded := DecodeDescriptor(obj)
	if decoded.Kind != KindNative {
		t.Fatalf("re-decoded kind = %v, want native", decoded.Kind)
	}
	if decoded.Native.Name != out.Name || decoded.Native.Version != out.Version {
		t.Fatalf("re-decoded = %+v, want name/version of %+v", decoded.Native, out)
	}
}

func TestDescriptorMarshalKeepsExtra(t *testing.T) {
	d := &Descriptor{
		Name:    "beta",
		Version: "2.0.0",
		Extra:   map[string]any{"homepage": "https://example.invalid"},
	}

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["homepage"] != "https://example.invalid" {
		t.Fatalf("serialized = %v, want homepage carried through", obj)
	}
	if obj["name"] != "beta" || obj["version"] != "2.0.0" {
		t.Fatalf("serialized = %v, want declared fields intact", obj)
	}

	// Extra never shadows a declared field.
	d.Extra["name"] = "evil"
	raw, err = json.Marshal(d)
	if err != nil {
		t.Fatalf("second marshal: %v", err)
	}
	obj = nil
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("second unmarshal: %v", err)
	}
	if obj["name"] != "beta" {
		t.Fatalf("name = %v, want declared field to win", obj["name"])
	}

	// The written form re-decodes as native with Extra restored.
	decoded := DecodeDescriptor(obj)
	if decoded.Kind != KindNative {
		t.Fatalf("re-decoded kind = %v, want native", decoded.Kind)
	}
	if decoded.Native.Extra["homepage"] != "https://example.invalid" {
		t.Fatalf("re-decoded Extra = %v", decoded.Native.Extra)
	}
}

func TestParseDescriptorFileJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `{
	// human-edited descriptor
	"name": "alpha",
	"version": "1.0.0",
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	desc, err := ParseDescriptorFile(path)
	if err != nil {
		t.Fatalf("ParseDescriptorFile error: %v", err)
	}
	if desc.Name != "alpha" || desc.Version != "1.0.0" {
		t.Fatalf("parsed = %+v", desc)
	}
}

func TestParseDescriptorFileYAMLLegacy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileNameYAML)
	content := `name: beta
version: 2.0.0
settings:
  - name: Key
    envVar: K
    description: d
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	desc, err := ParseDescriptorFile(path)
	if err != nil {
		t.Fatalf("ParseDescriptorFile error: %v", err)
	}
	if desc.Name != "beta" || len(desc.SettingsDescriptors) != 1 {
		t.Fatalf("parsed = %+v", desc)
	}
}

func TestParseDescriptorFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"version": "1.0.0"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := ParseDescriptorFile(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Path != path {
		t.Fatalf("error path = %q, want %q", verr.Path, path)
	}
}
