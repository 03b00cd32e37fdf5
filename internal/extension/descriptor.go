package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// SettingDescriptor declares one configuration knob an extension
// exposes to the user.
type SettingDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	EnvVar      string `json:"envVar" yaml:"envVar"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Descriptor is the native extension descriptor schema.
type Descriptor struct {
	Name                string              `json:"name" yaml:"name"`
	Version             string              `json:"version,omitempty" yaml:"version,omitempty"`
	CommandsPath        string              `json:"commandsPath,omitempty" yaml:"commandsPath,omitempty"`
	SettingsDescriptors []SettingDescriptor `json:"settingsDescriptors,omitempty" yaml:"settingsDescriptors,omitempty"`

	// Extra holds unrecognized fields so they survive a round trip
	// through conversion untouched.
	Extra map[string]any `json:"-" yaml:"-"`
}

// RequiresConsent reports whether the extension declares settings and
// therefore needs user consent before it may load.
func (d *Descriptor) RequiresConsent() bool {
	return d != nil && len(d.SettingsDescriptors) > 0
}

// MarshalJSON folds Extra back into the serialized object, so
// pass-through fields survive a write just as they survive conversion.
// Extra keys never override the declared fields.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type plain Descriptor
	buf, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return buf, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(buf, &obj); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if _, ok := obj[k]; ok {
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

// LegacyDescriptor is the older descriptor schema: a flat `settings`
// array and a `commands` path string.
type LegacyDescriptor struct {
	Name     string
	Version  string
	Commands string
	Settings []SettingDescriptor
	Extra    map[string]any
}

// DescriptorKind tags the outcome of descriptor classification.
type DescriptorKind int

const (
	KindInvalid DescriptorKind = iota
	KindNative
	KindLegacy
)

func (k DescriptorKind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindLegacy:
		return "legacy"
	default:
		return "invalid"
	}
}

// DecodedDescriptor is the total classification result. Exactly one of
// Native/Legacy is set for the matching kind; Reason is set for
// KindInvalid.
type DecodedDescriptor struct {
	Kind   DescriptorKind
	Native *Descriptor
	Legacy *LegacyDescriptor
	Reason string
}

var nativeDescriptorKeys = map[string]struct{}{
	"name":                {},
	"version":             {},
	"commandsPath":        {},
	"settingsDescriptors": {},
}

var legacyDescriptorKeys = map[string]struct{}{
	"name":     {},
	"version":  {},
	"commands": {},
	"settings": {},
}

// DecodeDescriptor classifies a raw descriptor object. It never panics
// and never errors: nil or malformed input yields KindInvalid with a
// reason, so callers can use it as a pure dispatch signal.
func DecodeDescriptor(obj map[string]any) DecodedDescriptor {
	if obj == nil {
		return DecodedDescriptor{Kind: KindInvalid, Reason: "not an object"}
	}

	if settings, ok := legacySettings(obj); ok {
		legacy := &LegacyDescriptor{
			Name:     stringField(obj, "name"),
			Version:  stringField(obj, "version"),
			Commands: stringField(obj, "commands"),
			Settings: settings,
			Extra:    extraFields(obj, legacyDescriptorKeys),
		}
		return DecodedDescriptor{Kind: KindLegacy, Legacy: legacy}
	}

	name := stringField(obj, "name")
	if name == "" {
		return DecodedDescriptor{Kind: KindInvalid, Reason: "missing name"}
	}
	native := &Descriptor{
		Name:         name,
		Version:      stringField(obj, "version"),
		CommandsPath: stringField(obj, "commandsPath"),
		Extra:        extraFields(obj, nativeDescriptorKeys),
	}
	if raw, ok := obj["settingsDescriptors"].([]any); ok {
		native.SettingsDescriptors = decodeSettingList(raw)
	}
	return DecodedDescriptor{Kind: KindNative, Native: native}
}

// IsLegacyFormat reports whether obj is in the legacy descriptor
// format. It returns false, never errors, for nil and non-legacy
// shapes.
func IsLegacyFormat(obj map[string]any) bool {
	return DecodeDescriptor(obj).Kind == KindLegacy
}

// ConvertLegacy converts a legacy descriptor to the native schema.
// The single hard validation rule: name must be non-empty. All other
// fields pass through unchanged. The input is never mutated and two
// calls with the same input produce identical output.
func ConvertLegacy(legacy *LegacyDescriptor) (*Descriptor, error) {
	if legacy == nil {
		return nil, &ValidationError{Reason: "nil descriptor"}
	}
	name := strings.TrimSpace(legacy.Name)
	if name == "" {
		return nil, &ValidationError{Reason: "missing name"}
	}
	out := &Descriptor{
		Name:         name,
		Version:      legacy.Version,
		CommandsPath: legacy.Commands,
	}
	if len(legacy.Settings) > 0 {
		out.SettingsDescriptors = append([]SettingDescriptor(nil), legacy.Settings...)
	}
	if len(legacy.Extra) > 0 {
		extra := make(map[string]any, len(legacy.Extra))
		for k, v := range legacy.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out, nil
}

// ParseDescriptorFile reads and decodes a descriptor file, converting
// legacy input to the native schema. JSON descriptors may carry
// comments (JSONC); `.yaml`/`.yml` files are parsed as YAML.
func ParseDescriptorFile(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &obj); err != nil {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("yaml: %v", err)}
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(raw), &obj); err != nil {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("json: %v", err)}
		}
	}

	decoded := DecodeDescriptor(obj)
	switch decoded.Kind {
	case KindNative:
		return decoded.Native, nil
	case KindLegacy:
		converted, err := ConvertLegacy(decoded.Legacy)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, &ValidationError{Path: path, Reason: verr.Reason}
			}
			return nil, err
		}
		return converted, nil
	default:
		return nil, &ValidationError{Path: path, Reason: decoded.Reason}
	}
}

// legacySettings returns the legacy `settings` list when obj carries
// the hallmark legacy shape: a non-empty array of records with string
// `name` and `envVar` fields.
func legacySettings(obj map[string]any) ([]SettingDescriptor, bool) {
	raw, ok := obj["settings"].([]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	out := make([]SettingDescriptor, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		name := stringField(entry, "name")
		envVar := stringField(entry, "envVar")
		if name == "" || envVar == "" {
			return nil, false
		}
		out = append(out, SettingDescriptor{
			Name:        name,
			EnvVar:      envVar,
			Description: stringField(entry, "description"),
		})
	}
	return out, true
}

func decodeSettingList(raw []any) []SettingDescriptor {
	out := make([]SettingDescriptor, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sd := SettingDescriptor{
			Name:        stringField(entry, "name"),
			EnvVar:      stringField(entry, "envVar"),
			Description: stringField(entry, "description"),
		}
		if sd.Name == "" {
			continue
		}
		out = append(out, sd)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func extraFields(obj map[string]any, known map[string]struct{}) map[string]any {
	var extra map[string]any
	for k, v := range obj {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}
