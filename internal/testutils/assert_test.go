package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures failures instead of failing the enclosing test.
type recorder struct {
	errors []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.True(t, ja.options.IgnoreExtraKeys)
	assert.True(t, ja.options.AllowPresencePlaceholder)
	assert.Empty(t, ja.options.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"heart_rate": 72, "connected": true, "status": "connected"}`,
			expected: `{"heart_rate": 72, "connected": true}`,
			match:    true,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"heart_rate": 72, "connected": true}`,
			expected: `{"heart_rate": 72}`,
		},
		{
			name:     "value mismatch",
			actual:   `{"heart_rate": 71}`,
			expected: `{"heart_rate": 72}`,
		},
		{
			name:     "presence placeholder",
			actual:   `{"id": "01HZX", "bpm": 88}`,
			expected: `{"id": "<<PRESENCE>>", "bpm": 88}`,
			match:    true,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{"bpm": 88}`,
			expected: `{"id": "<<PRESENCE>>", "bpm": 88}`,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("at"), WithIgnoreExtraKeys(false)},
			actual:   `[{"bpm": 1, "at": "x"}, {"bpm": 2, "at": "y"}]`,
			expected: `[{"bpm": 1, "at": "z"}, {"bpm": 2}]`,
			match:    true,
		},
		{
			name:     "root arrays compare element-wise",
			actual:   `[1, 2, 3]`,
			expected: `[1, 3, 2]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidInput(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `nope`), "invalid expected JSON")
}

func TestJSONAsserter_AssertReports(t *testing.T) {
	r := &recorder{}
	NewJSONAsserter(r).Assert(`{"a": 1}`, `{"a": 2}`)
	if assert.Len(t, r.errors, 1) {
		assert.Contains(t, r.errors[0], "JSON assertion failed")
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", match: true},
		{name: "different line", actual: "a\nc", expected: "a\nb"},
		{name: "ansi stripped by default", actual: "\x1b[32m 72 bpm\x1b[0m", expected: " 72 bpm", match: true},
		{name: "ansi kept when asked", opts: []TextOption{WithStripANSI(false)}, actual: "\x1b[32mx\x1b[0m", expected: "x"},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb", match: true},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n\na\n", expected: "a", match: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.Contains(t, diff, "--- expected")
			}
		})
	}
}

func TestTextAsserter_Colors(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a c")
	assert.Contains(t, diff, "\x1b[")
	assert.Contains(t, diff, "a·b", "whitespace MUST be visible in colored diffs")
}

func TestTextAsserter_AssertReports(t *testing.T) {
	r := &recorder{}
	NewTextAsserter(r).Assert("one", "two")
	if assert.Len(t, r.errors, 1) {
		assert.True(t, strings.HasPrefix(r.errors[0], "Text assertion failed"))
	}
}

func TestFreePortAndSafeBuffer(t *testing.T) {
	port := FreePort(t)
	assert.Greater(t, port, 0)

	var b SafeBuffer
	_, _ = b.Write([]byte("hello"))
	assert.Equal(t, "hello", b.String())

	logger := NewTestLogger(t)
	logger.Info("logged through t.Log")
}
