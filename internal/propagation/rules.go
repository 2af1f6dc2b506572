package propagation

import (
	"encoding/json"
	"fmt"
	"strings"

	"hyperregistry/internal/api"
	"hyperregistry/internal/template"
)

// Rule is a declarative record applied at a cascade hop. Rules are
// side-effect-free and deterministic: a rule whose predicate matches may
// drop the payload at this hop, transform it for downstream hops, or
// restrict which targets receive it.
type Rule struct {
	// When gates the rule; a nil predicate always matches.
	When *Predicate `json:"when,omitempty"`

	// Drop stops the cascade below this hop when the rule matches.
	Drop bool `json:"drop,omitempty"`

	// Transform is a template map resolved against the payload and hop
	// entry; its result replaces the payload for downstream hops.
	Transform map[string]interface{} `json:"transform,omitempty"`

	// TargetFilter restricts downstream recipients by category and facets.
	TargetFilter *api.SearchFilters `json:"target_filter,omitempty"`
}

// Predicate compares one payload or entry field against a value.
// Field uses dotted form; the "entry." prefix addresses hop entry
// attributes (entry.namespace, entry.category, entry.status).
type Predicate struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// Matches evaluates the predicate over the payload and hop entry.
// Unknown fields never match except under the "absent" operator.
func (p *Predicate) Matches(payload map[string]interface{}, entry *api.Entry) bool {
	if p == nil {
		return true
	}
	value, ok := resolveField(p.Field, payload, entry)

	switch p.Op {
	case "exists":
		return ok
	case "absent":
		return !ok
	}
	if !ok {
		return false
	}

	switch p.Op {
	case "eq":
		return equalValue(value, p.Value)
	case "ne":
		return !equalValue(value, p.Value)
	case "gt", "gte", "lt", "lte":
		left, lok := toNumber(value)
		right, rok := toNumber(p.Value)
		if !lok || !rok {
			return false
		}
		switch p.Op {
		case "gt":
			return left > right
		case "gte":
			return left >= right
		case "lt":
			return left < right
		default:
			return left <= right
		}
	case "in":
		list, ok := p.Value.([]interface{})
		if !ok {
			return false
		}
		return containsValue(list, value)
	default:
		return false
	}
}

func resolveField(field string, payload map[string]interface{}, entry *api.Entry) (interface{}, bool) {
	if name, isEntry := strings.CutPrefix(field, "entry."); isEntry {
		if entry == nil {
			return nil, false
		}
		switch name {
		case "id":
			return entry.ID, true
		case "namespace":
			return entry.Namespace, true
		case "name":
			return entry.Name, true
		case "category":
			return string(entry.Category), true
		case "status":
			return string(entry.Status), true
		case "version":
			return entry.Version, true
		default:
			return nil, false
		}
	}

	var current interface{} = payload
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// rulesConfigKey is where an entry's cascade rules live in its config.
const rulesConfigKey = "propagation_rules"

// ParseRules extracts the hop rules from an entry's config. Entries
// without rules return nil; malformed rules fail with ValidationError.
func ParseRules(entry *api.Entry) ([]Rule, error) {
	raw, ok := entry.Config[rulesConfigKey]
	if !ok {
		return nil, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, api.NewValidationError("propagation_rules", []string{err.Error()})
	}
	var rules []Rule
	if err := json.Unmarshal(blob, &rules); err != nil {
		return nil, api.NewValidationError("propagation_rules",
			[]string{fmt.Sprintf("entry %s: %v", entry.ID, err)})
	}
	return rules, nil
}

// applyRules runs the hop's rules against the payload. Returns the
// (possibly transformed) downstream payload, the effective target filter,
// and whether the cascade stops at this hop.
func applyRules(tmpl *template.Engine, rules []Rule, payload map[string]interface{}, entry *api.Entry) (map[string]interface{}, *api.SearchFilters, bool, error) {
	out := payload
	var filter *api.SearchFilters

	for _, rule := range rules {
		if !rule.When.Matches(out, entry) {
			continue
		}
		if rule.Drop {
			return out, nil, true, nil
		}
		if rule.Transform != nil {
			ctx := template.MergeContexts(out, map[string]interface{}{
				"entry": map[string]interface{}{
					"id":        entry.ID,
					"namespace": entry.Namespace,
					"name":      entry.Name,
					"category":  string(entry.Category),
					"status":    string(entry.Status),
					"version":   entry.Version,
				},
			})
			resolved, err := tmpl.Apply(rule.Transform, ctx)
			if err != nil {
				return nil, nil, false, api.NewValidationError("propagation_rules", []string{err.Error()})
			}
			out = resolved.(map[string]interface{})
		}
		if rule.TargetFilter != nil {
			filter = rule.TargetFilter
		}
	}
	return out, filter, false, nil
}
