// Package router implements inter-assistant routing: alias
// normalization, target resolution, conversation participation, and
// forwarding the triggering message over the mesh with an HTTP webhook
// fallback.
package router

import "strings"

// builtinAliases are the fixed alias entries; deploy config may extend
// or override them. Keys are stored lower-cased and looked up after
// lower-casing, so resolution is total.
var builtinAliases = map[string]string{
	"logs":      "log-analyst",
	"log":       "log-analyst",
	"catalog":   "catalog-search",
	"search":    "catalog-search",
	"debug":     "run-debugger",
	"debugger":  "run-debugger",
	"runs":      "run-debugger",
	"help":      "coordinator",
	"assistant": "coordinator",
	"build":     "assistants-assistant",
	"builder":   "assistants-assistant",
	"docs":      "doc-writer",
	"writer":    "doc-writer",
}

// AliasMap resolves user-facing assistant mentions to canonical keys.
type AliasMap struct {
	entries map[string]string
}

// NewAliasMap merges overrides over the builtin entries.
func NewAliasMap(overrides map[string]string) *AliasMap {
	entries := make(map[string]string, len(builtinAliases)+len(overrides))
	for alias, key := range builtinAliases {
		entries[alias] = key
	}
	for alias, key := range overrides {
		entries[strings.ToLower(strings.TrimSpace(alias))] = strings.ToLower(strings.TrimSpace(key))
	}
	return &AliasMap{entries: entries}
}

// Normalize strips a leading @, lower-cases, and applies the alias map.
// Unknown names pass through normalized, so lookup never fails here;
// existence is checked against the registry afterwards.
func (m *AliasMap) Normalize(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimPrefix(key, "@")
	if canonical, ok := m.entries[key]; ok {
		return canonical
	}
	return key
}

// Entries returns a copy of the resolved alias table.
func (m *AliasMap) Entries() map[string]string {
	out := make(map[string]string, len(m.entries))
	for alias, key := range m.entries {
		out[alias] = key
	}
	return out
}
