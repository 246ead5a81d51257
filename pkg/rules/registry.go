package rules

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrRuleSetNotFound indicates no rule set is loaded for the requested
// assistant/org pair, including the default fallback.
var ErrRuleSetNotFound = errors.New("rule set not found")

// Registry holds the loaded rule sets keyed "<assistant-key>:<org-id>".
// Lookups fall back to "<assistant-key>:default". Reads are lock-free;
// updates copy the whole map and swap it atomically so in-flight runs keep
// a consistent snapshot.
type Registry struct {
	sets atomic.Pointer[map[string]*RuleSet]
}

// NewRegistry creates a registry from the initially loaded rule sets.
func NewRegistry(sets map[string]*RuleSet) *Registry {
	r := &Registry{}
	if sets == nil {
		sets = make(map[string]*RuleSet)
	}
	r.sets.Store(&sets)
	return r
}

// Get returns the rule set for the assistant/org pair, falling back to the
// assistant's default set. Inactive sets are treated as absent.
func (r *Registry) Get(assistantKey, orgID string) (*RuleSet, error) {
	sets := *r.sets.Load()
	if orgID != "" {
		if rs, ok := sets[assistantKey+":"+orgID]; ok && rs.Active {
			return rs, nil
		}
	}
	if rs, ok := sets[assistantKey+":default"]; ok && rs.Active {
		return rs, nil
	}
	return nil, fmt.Errorf("%w: %s (org %q)", ErrRuleSetNotFound, assistantKey, orgID)
}

// Has reports whether any active rule set exists for the assistant.
func (r *Registry) Has(assistantKey string) bool {
	sets := *r.sets.Load()
	for key, rs := range sets {
		if rs.Active && rs.AssistantKey == assistantKey && key == rs.Key() {
			return true
		}
	}
	return false
}

// Put validates and installs a rule set, bumping its version past any
// currently installed one. The swap is copy-on-write: readers observe
// either the old or the new map, never a partial update.
func (r *Registry) Put(rs *RuleSet) error {
	if err := ValidateRuleSet(rs); err != nil {
		return err
	}
	for {
		old := r.sets.Load()
		next := make(map[string]*RuleSet, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		install := *rs
		if prev, ok := next[rs.Key()]; ok && prev.Version >= install.Version {
			install.Version = prev.Version + 1
		}
		next[rs.Key()] = &install
		if r.sets.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// ReplaceAll swaps the entire registry contents, used by config reloads.
func (r *Registry) ReplaceAll(sets map[string]*RuleSet) error {
	for _, rs := range sets {
		if err := ValidateRuleSet(rs); err != nil {
			return err
		}
	}
	next := make(map[string]*RuleSet, len(sets))
	for k, v := range sets {
		next[k] = v
	}
	r.sets.Store(&next)
	return nil
}

// Keys returns the keys of all installed rule sets.
func (r *Registry) Keys() []string {
	sets := *r.sets.Load()
	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns the current rule sets. The returned map must not be
// mutated.
func (r *Registry) Snapshot() map[string]*RuleSet {
	return *r.sets.Load()
}

// ValidateRuleSet enforces the structural invariants a rule set must hold
// before it can serve traffic: unique rule ids, known triggers, known
// operators, and non-empty actions on enabled rules.
func ValidateRuleSet(rs *RuleSet) error {
	if rs == nil {
		return errors.New("rule set is nil")
	}
	if rs.AssistantKey == "" {
		return errors.New("rule set missing assistant key")
	}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i, rule := range rs.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %q: duplicate id", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if !rule.Trigger.IsValid() {
			return fmt.Errorf("rule %q: unknown trigger %q", rule.ID, rule.Trigger)
		}
		if err := validateGroup(rule.Conditions); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		if rule.Enabled && len(rule.Actions) == 0 {
			return fmt.Errorf("rule %q: enabled rule has no actions", rule.ID)
		}
		for j, action := range rule.Actions {
			if action.Type == "" {
				return fmt.Errorf("rule %q: action %d missing type", rule.ID, j)
			}
		}
	}
	return nil
}

func validateGroup(group ConditionGroup) error {
	if group.Logic != "" && !group.Logic.IsValid() {
		return fmt.Errorf("unknown logic %q", group.Logic)
	}
	for _, node := range group.Conditions {
		switch {
		case node.Group != nil:
			if err := validateGroup(*node.Group); err != nil {
				return err
			}
		case node.Condition != nil:
			if node.Condition.Field == "" {
				return errors.New("condition missing field")
			}
			if !node.Condition.Operator.IsValid() {
				return fmt.Errorf("unknown operator %q", node.Condition.Operator)
			}
		default:
			return errors.New("empty condition node")
		}
	}
	return nil
}
