package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Engine substitutes {{ variable }} placeholders in propagation rule
// transforms. Transforms are declarative maps whose string values may
// reference fields of the incoming payload or the hop entry; the engine
// resolves them against a flat context built per hop.
type Engine struct {
	pattern *regexp.Regexp
}

// New creates a transform engine.
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`),
	}
}

// Apply resolves every placeholder in value against the context. Maps and
// slices are walked recursively; a string consisting of exactly one
// placeholder resolves to the referenced value with its type preserved,
// so `"{{ severity }}"` stays a number. Unresolvable variables fail.
func (e *Engine) Apply(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.applyString(v, context)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			resolved, err := e.Apply(inner, context)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			resolved, err := e.Apply(inner, context)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (e *Engine) applyString(s string, context map[string]interface{}) (interface{}, error) {
	// A lone placeholder passes the referenced value through typed.
	if name, ok := e.solePlaceholder(s); ok {
		value, exists := lookup(context, name)
		if !exists {
			return nil, fmt.Errorf("missing transform variable %q", name)
		}
		return value, nil
	}

	var missing []string
	result := e.pattern.ReplaceAllStringFunc(s, func(match string) string {
		name := e.pattern.FindStringSubmatch(match)[1]
		value, exists := lookup(context, name)
		if !exists {
			missing = append(missing, name)
			return match
		}
		return stringify(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing transform variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

func (e *Engine) solePlaceholder(s string) (string, bool) {
	match := e.pattern.FindStringSubmatch(s)
	if match == nil || match[0] != strings.TrimSpace(s) {
		return "", false
	}
	return match[1], true
}

// lookup resolves a dotted name ("entry.namespace") through nested maps.
func lookup(context map[string]interface{}, name string) (interface{}, bool) {
	parts := strings.Split(name, ".")
	var current interface{} = context
	for _, part := range parts {
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

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Variables returns the distinct placeholder names referenced anywhere in
// value. Used to validate a rule's transform when the rule is parsed.
func (e *Engine) Variables(value interface{}) []string {
	seen := map[string]bool{}
	e.collect(value, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

func (e *Engine) collect(value interface{}, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.pattern.FindAllStringSubmatch(v, -1) {
			seen[match[1]] = true
		}
	case map[string]interface{}:
		for _, inner := range v {
			e.collect(inner, seen)
		}
	case []interface{}:
		for _, inner := range v {
			e.collect(inner, seen)
		}
	}
}

// MergeContexts merges contexts left to right; later values win.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}
