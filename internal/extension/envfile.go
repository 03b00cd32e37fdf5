package extension

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseEnvFile reads an extension-local environment override file:
// a flat YAML mapping of variable name to value. A missing file yields
// an empty map. Substitution into extension commands happens elsewhere;
// this only loads the declarations.
func ParseEnvFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var payload map[string]string
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}
