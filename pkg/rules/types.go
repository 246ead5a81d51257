// Package rules implements the rule evaluation engine: condition trees,
// trigger filtering, priority-ordered execution, and the per-run result
// aggregation that feeds the conversation run log.
package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/switchboard-io/switchboard/pkg/conversation"
)

// Trigger identifies the event class a rule reacts to.
type Trigger string

const (
	TriggerMessageReceived     Trigger = "message.received"
	TriggerConversationCreated Trigger = "conversation.created"
	TriggerConversationUpdated Trigger = "conversation.updated"
	TriggerHandoffRequested    Trigger = "handoff.requested"
	TriggerHandoffCompleted    Trigger = "handoff.completed"
	TriggerContextUpdated      Trigger = "context.updated"
	TriggerTimerElapsed        Trigger = "timer.elapsed"
	TriggerCustom              Trigger = "custom"
)

// IsValid checks if the trigger is a known trigger type.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerMessageReceived, TriggerConversationCreated, TriggerConversationUpdated,
		TriggerHandoffRequested, TriggerHandoffCompleted, TriggerContextUpdated,
		TriggerTimerElapsed, TriggerCustom:
		return true
	default:
		return false
	}
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpMatches     Operator = "matches"
	OpNotMatches  Operator = "not_matches"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// IsValid checks if the operator is a known operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpMatches, OpNotMatches, OpIn, OpNotIn, OpExists, OpNotExists:
		return true
	default:
		return false
	}
}

// Logic is the combinator of a condition group.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// IsValid checks if the logic value is known.
func (l Logic) IsValid() bool {
	return l == LogicAnd || l == LogicOr
}

// Condition is a single field/operator/value test against the execution
// context. Field is a dotted path (e.g. "message.content").
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionGroup combines conditions and nested groups under and/or logic.
// Groups nest to arbitrary depth.
type ConditionGroup struct {
	Logic      Logic           `json:"logic" yaml:"logic"`
	Conditions []ConditionNode `json:"conditions" yaml:"conditions"`
}

// ConditionNode is either a leaf Condition or a nested ConditionGroup.
// Exactly one of the two fields is set.
type ConditionNode struct {
	Condition *Condition
	Group     *ConditionGroup
}

// UnmarshalJSON decides leaf vs. group by the presence of a "logic" key.
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Logic Logic `json:"logic"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Logic != "" {
		var g ConditionGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	n.Condition = &c
	return nil
}

// MarshalJSON emits whichever side of the node is set.
func (n ConditionNode) MarshalJSON() ([]byte, error) {
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	if n.Condition != nil {
		return json.Marshal(n.Condition)
	}
	return nil, fmt.Errorf("condition node has neither condition nor group")
}

// UnmarshalYAML mirrors UnmarshalJSON for rule set files.
func (n *ConditionNode) UnmarshalYAML(unmarshal func(any) error) error {
	var probe struct {
		Logic Logic `yaml:"logic"`
	}
	if err := unmarshal(&probe); err != nil {
		return err
	}
	if probe.Logic != "" {
		var g ConditionGroup
		if err := unmarshal(&g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}
	var c Condition
	if err := unmarshal(&c); err != nil {
		return err
	}
	n.Condition = &c
	return nil
}

// ActionConfig is one action of a rule: a type tag plus free-form params
// that the matching handler parses into its typed parameter struct.
type ActionConfig struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Rule reacts to one trigger with an ordered list of actions, guarded by a
// condition tree. Higher priority wins; disabled rules are never evaluated.
type Rule struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Priority   int            `json:"priority" yaml:"priority"`
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Trigger    Trigger        `json:"trigger" yaml:"trigger"`
	Conditions ConditionGroup `json:"conditions" yaml:"conditions"`
	Actions    []ActionConfig `json:"actions" yaml:"actions"`
}

// RuleSet is the ordered rule collection owned by one assistant for one
// org. Keys are "<assistant-key>:<org-id>" with "<assistant-key>:default"
// as the fallback.
type RuleSet struct {
	AssistantKey string `json:"assistantKey" yaml:"assistant_key"`
	OrgID        string `json:"orgId" yaml:"org_id"`
	Version      int    `json:"version" yaml:"version"`
	Active       bool   `json:"active" yaml:"active"`
	Rules        []Rule `json:"rules" yaml:"rules"`
}

// Key returns the registry key for this rule set.
func (rs *RuleSet) Key() string {
	org := rs.OrgID
	if org == "" {
		org = "default"
	}
	return rs.AssistantKey + ":" + org
}

// EventInfo describes the event that started a run.
type EventInfo struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// MessageInfo is the message attached to a message-triggered event.
type MessageInfo struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"sender_id"`
	SenderType  string         `json:"sender_type"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// UserInfo identifies the human participant attached to an event, if any.
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// AssistantIdentity is the identity of the assistant executing a run.
type AssistantIdentity struct {
	Key      string `json:"key"`
	EntityID string `json:"entityId,omitempty"`
}

// ExecutionContext is the bag of state one run executes against. The rule
// engine treats it as read-only except for ConversationState, which a
// successful state.transition action advances for the remainder of the
// run. Context mutations are collected in action outputs and merged by the
// coordinator after the run, never applied in place.
type ExecutionContext struct {
	OrgID             string
	ConversationID    string
	ConversationState conversation.State
	Trigger           Trigger
	Event             EventInfo
	Message           *MessageInfo
	User              *UserInfo
	Context           map[string]any
	Metadata          map[string]any
	Assistant         AssistantIdentity

	// RunID, when set by the coordinator, names the run up front so
	// lifecycle events and the result agree even across a token-refresh
	// retry. The executor mints one otherwise.
	RunID string

	// SuppressResponse is set by routing actions so that subsequent
	// message.send actions in the same run become no-ops.
	SuppressResponse bool
}

// Clone returns a shallow copy with its own Context map. Loop iterations
// use this to bind iteration variables without leaking them into the
// conversation context.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	cp := *ec
	cp.Context = make(map[string]any, len(ec.Context)+2)
	for k, v := range ec.Context {
		cp.Context[k] = v
	}
	return &cp
}

// ActionResult is the uniform outcome of one executed action.
type ActionResult struct {
	Success    bool           `json:"success"`
	ActionType string         `json:"actionType"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
}

// RuleExecutionResult aggregates the outcome of evaluating one rule.
type RuleExecutionResult struct {
	RuleID              string         `json:"ruleId"`
	RuleName            string         `json:"ruleName"`
	Matched             bool           `json:"matched"`
	ConditionsEvaluated bool           `json:"conditionsEvaluated"`
	ActionsExecuted     []ActionResult `json:"actionsExecuted,omitempty"`
	Error               string         `json:"error,omitempty"`
	DurationMs          int64          `json:"durationMs"`
}

// RunResult is the persisted record of one engine run for one event.
type RunResult struct {
	RunID          string                `json:"runId"`
	OrgID          string                `json:"orgId"`
	ConversationID string                `json:"conversationId"`
	Trigger        Trigger               `json:"trigger"`
	RulesEvaluated int                   `json:"rulesEvaluated"`
	RulesMatched   int                   `json:"rulesMatched"`
	Results        []RuleExecutionResult `json:"results"`
	NewState       conversation.State    `json:"newState,omitempty"`
	DurationMs     int64                 `json:"durationMs"`
	Timestamp      time.Time             `json:"timestamp"`
}
