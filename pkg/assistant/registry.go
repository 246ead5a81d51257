// Package assistant holds the in-process registry of loaded assistants:
// their identity, webhook endpoints, routing descriptions, and profile
// references. The registry is read on every run and replaced wholesale
// on reload, so reads are lock-free copy-on-write snapshots.
package assistant

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/switchboard-io/switchboard/pkg/profile"
)

// Definition is one loaded assistant.
type Definition struct {
	// Key is the short assistant key, e.g. "log-analyst". The full
	// principal id is "assistant:<key>".
	Key         string      `json:"key" yaml:"key"`
	EntityID    string      `json:"entityId,omitempty" yaml:"entity_id,omitempty"`
	DisplayName string      `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	// Description feeds the router's embedding index; routing quality
	// depends on it actually describing what the assistant does.
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	WebhookURL  string      `json:"webhookUrl,omitempty" yaml:"webhook_url,omitempty"`
	Profile     profile.Ref `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// PrincipalID returns the assistant's participant id.
func (d Definition) PrincipalID() string { return "assistant:" + d.Key }

// Registry is the copy-on-write assistant table plus per-org profile
// defaults.
type Registry struct {
	assistants  atomic.Pointer[map[string]Definition]
	orgDefaults atomic.Pointer[map[string]*profile.Overlay]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Definition{}
	r.assistants.Store(&empty)
	emptyDefaults := map[string]*profile.Overlay{}
	r.orgDefaults.Store(&emptyDefaults)
	return r
}

// ReplaceAll swaps the full assistant table. Keys are lower-cased.
func (r *Registry) ReplaceAll(defs []Definition) error {
	table := make(map[string]Definition, len(defs))
	for _, def := range defs {
		key := strings.ToLower(strings.TrimSpace(def.Key))
		if key == "" {
			return fmt.Errorf("assistant with empty key")
		}
		if _, dup := table[key]; dup {
			return fmt.Errorf("duplicate assistant key %q", key)
		}
		def.Key = key
		table[key] = def
	}
	r.assistants.Store(&table)
	return nil
}

// SetOrgDefaults swaps the per-org profile defaults table.
func (r *Registry) SetOrgDefaults(defaults map[string]*profile.Overlay) {
	table := make(map[string]*profile.Overlay, len(defaults))
	for org, overlay := range defaults {
		table[org] = overlay
	}
	r.orgDefaults.Store(&table)
}

// Get looks up an assistant by key.
func (r *Registry) Get(key string) (Definition, bool) {
	def, ok := (*r.assistants.Load())[strings.ToLower(key)]
	return def, ok
}

// Has reports whether an assistant is loaded.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// All returns the loaded assistants sorted by key.
func (r *Registry) All() []Definition {
	table := *r.assistants.Load()
	out := make([]Definition, 0, len(table))
	for _, def := range table {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ResolvedProfile resolves the effective LLM profile for one assistant
// in one org. Unknown assistants resolve against defaults only, so a
// routing decision never fails on configuration.
func (r *Registry) ResolvedProfile(assistantKey, orgID string) profile.Config {
	var ref *profile.Ref
	if def, ok := r.Get(assistantKey); ok {
		ref = &def.Profile
	}
	orgOverlay := (*r.orgDefaults.Load())[orgID]
	return profile.Resolve(ref, orgOverlay)
}
