package llm

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONBlock_MarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "code block with language",
			input:    "```javascript\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"key": "value"}`,
			expected: `{"key": "value"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestDecodeJSON_Object(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantVal any
	}{
		{
			name:    "plain object",
			input:   `{"category": "skills"}`,
			wantKey: "category",
			wantVal: "skills",
		},
		{
			name:    "preamble and trailing prose",
			input:   "Sure! Here is the analysis:\n{\"total\": 3}\nLet me know if you need more.",
			wantKey: "total",
			wantVal: 3.0,
		},
		{
			name:    "fenced block",
			input:   "```json\n{\"questions\": []}\n```",
			wantKey: "questions",
			wantVal: []any{},
		},
		{
			name:    "nested braces inside strings",
			input:   `Output: {"template": "Hello {name}!", "n": {"x": 1}}`,
			wantKey: "template",
			wantVal: "Hello {name}!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var obj map[string]any
			require.NoError(t, DecodeJSON(tt.input, &obj))
			assert.Equal(t, tt.wantVal, obj[tt.wantKey])
		})
	}
}

func TestDecodeJSON_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain prose", "I could not find any requirements in that posting."},
		{"empty", ""},
		{"two objects greedy span is invalid", `first {"a": 1} then {"b": 2}`},
		{"truncated object", `{"questions": [{"id": 1}`},
		{"array not object", `["a", "b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var obj map[string]any
			err := DecodeJSON(tt.input, &obj)
			require.Error(t, err)
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.input, parseErr.Raw)
		})
	}
}

func TestDecodeJSON_Typed(t *testing.T) {
	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, DecodeJSON("result -> {\"category\": \"projects\", \"confidence\": 0.8} <-", &out))
	assert.Equal(t, "projects", out.Category)
	assert.InDelta(t, 0.8, out.Confidence, 0.0001)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 2, "ab..."},
		{"cut inside a character backs off", "naïve", 3, "na..."},
		{"cut after a character", "naïve", 4, "naï..."},
		{"multibyte first rune", "日本語", 2, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
