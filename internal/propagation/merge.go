package propagation

// MergeByField folds overlay into base, returning a new map: scalar
// fields are replaced, lists are unioned preserving order and dropping
// duplicates, nested maps recurse. Neither input is mutated.
func MergeByField(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, incoming := range overlay {
		existing, ok := out[k]
		if !ok {
			out[k] = incoming
			continue
		}
		switch existingV := existing.(type) {
		case map[string]interface{}:
			if incomingM, ok := incoming.(map[string]interface{}); ok {
				out[k] = MergeByField(existingV, incomingM)
				continue
			}
		case []interface{}:
			if incomingL, ok := incoming.([]interface{}); ok {
				out[k] = unionLists(existingV, incomingL)
				continue
			}
		}
		out[k] = incoming
	}
	return out
}

func unionLists(a, b []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range a {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, existing := range list {
		if equalValue(existing, v) {
			return true
		}
	}
	return false
}

func equalValue(a, b interface{}) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}
