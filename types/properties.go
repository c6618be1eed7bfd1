package types

import (
	"fmt"
	"sort"
	"strings"
)

// MergeProperties merges overrides on top of base. Caller values win
// on key collision. Neither input map is mutated.
func MergeProperties(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// FlattenProperties renders props as a comma-joined "key=value" list,
// sorted by key for stable reporting output.
func FlattenProperties(props map[string]string) string {
	pairs := make([]string, 0, len(props))
	for k, v := range props {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// SortedKeys returns m's keys in sorted order, for deterministic
// command construction and output.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseProperties parses a list of "key=value" strings into a map.
func ParseProperties(pairs []string) (map[string]string, error) {
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid property %q: want key=value", pair)
		}
		props[key] = value
	}
	return props, nil
}
