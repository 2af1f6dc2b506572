package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyStringInterpolation(t *testing.T) {
	e := New()
	got, err := e.Apply("alert from {{ origin }} at {{ level }}", map[string]interface{}{
		"origin": "nx.core",
		"level":  float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "alert from nx.core at 3", got)
}

func TestApplyLonePlaceholderKeepsType(t *testing.T) {
	e := New()
	got, err := e.Apply("{{ severity }}", map[string]interface{}{"severity": float64(9)})
	require.NoError(t, err)
	assert.Equal(t, float64(9), got)

	got, err = e.Apply("{{enabled}}", map[string]interface{}{"enabled": true})
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestApplyDottedLookup(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{
		"entry": map[string]interface{}{"namespace": "nx.plugins"},
	}
	got, err := e.Apply("{{ entry.namespace }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "nx.plugins", got)
}

func TestApplyRecursesMapsAndSlices(t *testing.T) {
	e := New()
	transform := map[string]interface{}{
		"summary": "from {{ origin }}",
		"nested":  map[string]interface{}{"sev": "{{ severity }}"},
		"list":    []interface{}{"{{ origin }}", float64(1)},
	}
	got, err := e.Apply(transform, map[string]interface{}{
		"origin":   "s1",
		"severity": float64(5),
	})
	require.NoError(t, err)

	out := got.(map[string]interface{})
	assert.Equal(t, "from s1", out["summary"])
	assert.Equal(t, float64(5), out["nested"].(map[string]interface{})["sev"])
	assert.Equal(t, "s1", out["list"].([]interface{})[0])
}

func TestApplyMissingVariableFails(t *testing.T) {
	e := New()
	_, err := e.Apply("{{ ghost }}", map[string]interface{}{})
	assert.Error(t, err)

	_, err = e.Apply("mixed {{ ghost }} text", map[string]interface{}{})
	assert.Error(t, err)
}

func TestApplyNonTemplatableTypesPassThrough(t *testing.T) {
	e := New()
	got, err := e.Apply(float64(42), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)
}

func TestVariables(t *testing.T) {
	e := New()
	vars := e.Variables(map[string]interface{}{
		"a": "{{ one }} and {{ two }}",
		"b": []interface{}{"{{ entry.status }}"},
	})
	assert.ElementsMatch(t, []string{"one", "two", "entry.status"}, vars)
}

func TestMergeContexts(t *testing.T) {
	merged := MergeContexts(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2, "c": 2},
	)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2, "c": 2}, merged)
}
