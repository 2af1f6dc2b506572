package strings

import (
	"testing"
)

func TestTruncateDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "resource locator",
			maxLen:   30,
			expected: "resource locator",
		},
		{
			name:     "exact length unchanged",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "long string truncated",
			input:    "propagates updates across the namespace graph",
			maxLen:   20,
			expected: "propagates update...",
		},
		{
			name:     "newlines flattened",
			input:    "line one\nline two",
			maxLen:   30,
			expected: "line one line two",
		},
		{
			name:     "whitespace runs collapsed",
			input:    "  spaced \t out \n\n description  ",
			maxLen:   40,
			expected: "spaced out description",
		},
		{
			name:     "unicode truncation is rune safe",
			input:    "日本語テスト文字列",
			maxLen:   6,
			expected: "日本語...",
		},
		{
			name:     "empty string",
			input:    "",
			maxLen:   10,
			expected: "",
		},
		{
			name:     "whitespace only becomes empty",
			input:    "   \n\t  ",
			maxLen:   10,
			expected: "",
		},
		{
			name:     "tiny maxLen clamped",
			input:    "hello",
			maxLen:   1,
			expected: "h...",
		},
		{
			name:     "negative maxLen clamped",
			input:    "hello",
			maxLen:   -5,
			expected: "h...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateDescription(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("TruncateDescription(%q, %d) = %q, want %q",
					tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestTruncateDescriptionRuneCount(t *testing.T) {
	// 6 characters but 18 bytes; the cut must land on a rune boundary.
	result := TruncateDescription("日本語テスト", 5)
	if result != "日本..." {
		t.Errorf("Expected %q but got %q", "日本...", result)
	}

	runeCount := 0
	for range result {
		runeCount++
	}
	if runeCount != 5 {
		t.Errorf("Expected 5 runes but got %d", runeCount)
	}
}

func TestShortID(t *testing.T) {
	uuid := "8f14e45f-ea8a-4c3b-9d2e-0a1b2c3d4e5f"
	if got := ShortID(uuid); got != "8f14e45f" {
		t.Errorf("ShortID(%q) = %q, want %q", uuid, got, "8f14e45f")
	}
	if got := ShortID("tiny"); got != "tiny" {
		t.Errorf("ShortID(%q) = %q, want unchanged", "tiny", got)
	}
	if got := ShortID(""); got != "" {
		t.Errorf("ShortID(empty) = %q, want empty", got)
	}
}
