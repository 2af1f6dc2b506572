package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	got, err := Marshal(map[string]interface{}{
		"zeta":  1,
		"alpha": "x",
		"mid":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","mid":true,"zeta":1}`, got)
}

func TestMarshalNested(t *testing.T) {
	got, err := Marshal(map[string]interface{}{
		"list": []interface{}{1, "two", nil},
		"obj":  map[string]interface{}{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1,"two",null],"obj":{"a":1,"b":2}}`, got)
}

func TestMarshalNumberStability(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"integral float", 3.0, "3"},
		{"fractional float", 3.25, "3.25"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"negative integral float", -2.0, "-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMarshalStringEscaping(t *testing.T) {
	got, err := Marshal("a\"b\\c\nd")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd"`, got)
}

func TestMarshalRejectsUnsupported(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}

func TestChecksumDeterministic(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": []interface{}{"p", "q"}}
	b := map[string]interface{}{"y": []interface{}{"p", "q"}, "x": 1.0}

	ca, err := Checksum(a)
	require.NoError(t, err)
	cb, err := Checksum(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Len(t, ca, 64)
}

func TestChecksumDiffers(t *testing.T) {
	ca, err := Checksum(map[string]interface{}{"x": 1})
	require.NoError(t, err)
	cb, err := Checksum(map[string]interface{}{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ca, cb)
}
