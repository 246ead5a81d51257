package rules

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Evaluate walks a condition group against the execution context.
// Evaluation is pure: it never mutates the context and never fails —
// malformed conditions simply evaluate to false. "and" short-circuits on
// the first false, "or" on the first true. An empty group matches.
func Evaluate(group ConditionGroup, ec *ExecutionContext) bool {
	logic := group.Logic
	if logic == "" {
		logic = LogicAnd
	}
	for _, node := range group.Conditions {
		var ok bool
		switch {
		case node.Group != nil:
			ok = Evaluate(*node.Group, ec)
		case node.Condition != nil:
			ok = evaluateCondition(*node.Condition, ec)
		default:
			ok = false
		}
		if logic == LogicAnd && !ok {
			return false
		}
		if logic == LogicOr && ok {
			return true
		}
	}
	return logic == LogicAnd
}

// evaluateCondition resolves the dotted field path and applies the
// operator. A missing field satisfies only exists/not_exists.
func evaluateCondition(c Condition, ec *ExecutionContext) bool {
	value, found := ec.Lookup(c.Field)

	switch c.Operator {
	case OpExists:
		return found && value != nil
	case OpNotExists:
		return !found || value == nil
	}

	if !found || value == nil {
		return false
	}

	switch c.Operator {
	case OpEq:
		return looseEqual(value, c.Value)
	case OpNeq:
		return !looseEqual(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(c.Operator, value, c.Value)
	case OpContains:
		return contains(value, c.Value)
	case OpNotContains:
		return !contains(value, c.Value)
	case OpStartsWith:
		s, ok1 := asString(value)
		p, ok2 := asString(c.Value)
		return ok1 && ok2 && strings.HasPrefix(s, p)
	case OpEndsWith:
		s, ok1 := asString(value)
		p, ok2 := asString(c.Value)
		return ok1 && ok2 && strings.HasSuffix(s, p)
	case OpMatches:
		return matchesPattern(value, c.Value)
	case OpNotMatches:
		s, ok1 := asString(value)
		p, ok2 := asString(c.Value)
		if !ok1 || !ok2 {
			return false
		}
		re, err := regexp.Compile(p)
		return err == nil && !re.MatchString(s)
	case OpIn:
		return inList(value, c.Value)
	case OpNotIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(value, item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Lookup resolves a dotted path against the run's visible fields. The
// second return is false when any intermediate key is missing.
func (ec *ExecutionContext) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	root, ok := ec.rootValue(parts[0])
	if !ok {
		return nil, false
	}
	return descend(root, parts[1:])
}

// rootValue maps the first path segment onto the context's top-level
// fields without materializing the whole context as a map per lookup.
func (ec *ExecutionContext) rootValue(key string) (any, bool) {
	switch key {
	case "orgId":
		return ec.OrgID, true
	case "conversationId":
		return ec.ConversationID, true
	case "conversationState":
		return string(ec.ConversationState), true
	case "trigger":
		return string(ec.Trigger), true
	case "event":
		return map[string]any{
			"id":        ec.Event.ID,
			"type":      ec.Event.Type,
			"timestamp": ec.Event.Timestamp,
			"data":      ec.Event.Data,
		}, true
	case "message":
		if ec.Message == nil {
			return nil, false
		}
		return map[string]any{
			"id":           ec.Message.ID,
			"sender_id":    ec.Message.SenderID,
			"sender_type":  ec.Message.SenderType,
			"content":      ec.Message.Content,
			"content_type": ec.Message.ContentType,
			"metadata":     ec.Message.Metadata,
			"created_at":   ec.Message.CreatedAt,
		}, true
	case "user":
		if ec.User == nil {
			return nil, false
		}
		return map[string]any{
			"id":    ec.User.ID,
			"name":  ec.User.Name,
			"email": ec.User.Email,
		}, true
	case "context":
		return ec.Context, true
	case "metadata":
		return ec.Metadata, true
	case "assistant":
		return map[string]any{
			"key":      ec.Assistant.Key,
			"entityId": ec.Assistant.EntityID,
		}, true
	default:
		return nil, false
	}
}

// descend walks the remaining path segments through nested maps.
func descend(value any, parts []string) (any, bool) {
	for _, part := range parts {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// looseEqual compares two values, coercing numerics so that a JSON
// float64 equals a Go int. Everything else compares as strings when both
// sides are strings, or by direct equality.
func looseEqual(a, b any) bool {
	if fa, okA := asFloat(a); okA {
		if fb, okB := asFloat(b); okB {
			return fa == fb
		}
	}
	sa, okA := asString(a)
	sb, okB := asString(b)
	if okA && okB {
		return sa == sb
	}
	if ba, okA := a.(bool); okA {
		if bb, okB := b.(bool); okB {
			return ba == bb
		}
	}
	return a == b
}

// compareNumeric applies an ordering operator; it succeeds only when both
// sides are numeric.
func compareNumeric(op Operator, a, b any) bool {
	fa, okA := asFloat(a)
	fb, okB := asFloat(b)
	if !okA || !okB {
		return false
	}
	switch op {
	case OpGt:
		return fa > fb
	case OpGte:
		return fa >= fb
	case OpLt:
		return fa < fb
	case OpLte:
		return fa <= fb
	default:
		return false
	}
}

// contains handles string containment and list membership.
func contains(haystack, needle any) bool {
	if list, ok := haystack.([]any); ok {
		for _, item := range list {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	}
	s, ok1 := asString(haystack)
	sub, ok2 := asString(needle)
	return ok1 && ok2 && strings.Contains(s, sub)
}

// matchesPattern compiles the pattern once per evaluation and tests it.
func matchesPattern(value, pattern any) bool {
	s, ok1 := asString(value)
	p, ok2 := asString(pattern)
	if !ok1 || !ok2 {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// inList reports membership of value in the expected list.
func inList(value, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(value, item) {
			return true
		}
	}
	return false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
