package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/rundebug/debug"
)

// optionsJSON marshals the configuration's option bag. Returns nil when
// the bag is empty.
func optionsJSON(cfg debug.LaunchConfiguration) []byte {
	if len(cfg.Options) == 0 {
		return nil
	}
	raw, err := json.Marshal(cfg.Options)
	if err != nil {
		return nil
	}
	return raw
}

// optionString reads a string option, falling back to def.
func optionString(cfg debug.LaunchConfiguration, key, def string) string {
	if v := gjson.GetBytes(optionsJSON(cfg), key); v.Exists() {
		return v.String()
	}
	return def
}

// optionInt reads an integer option, falling back to def.
func optionInt(cfg debug.LaunchConfiguration, key string, def int) int {
	if v := gjson.GetBytes(optionsJSON(cfg), key); v.Exists() {
		return int(v.Int())
	}
	return def
}

// optionBool reads a boolean option, falling back to def.
func optionBool(cfg debug.LaunchConfiguration, key string, def bool) bool {
	if v := gjson.GetBytes(optionsJSON(cfg), key); v.Exists() {
		return v.Bool()
	}
	return def
}

// mergeOptions marshals base and overlays every option-bag entry on top,
// so adapter-specific settings always win over the computed defaults.
func mergeOptions(base map[string]any, cfg debug.LaunchConfiguration) (json.RawMessage, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal launch arguments: %w", err)
	}

	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw, err = sjson.SetBytes(raw, k, cfg.Options[k])
		if err != nil {
			return nil, fmt.Errorf("merge option %q: %w", k, err)
		}
	}
	return raw, nil
}

// buildEnv combines the parent environment with the configuration's
// overrides.
func buildEnv(cfg debug.LaunchConfiguration) []string {
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
