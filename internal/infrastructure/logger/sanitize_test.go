package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain generator error",
			input:    "other: upstream returned 500",
			expected: "other: upstream returned 500",
		},
		{
			name:     "trimmed error keeps ellipsis",
			input:    "model overloaded please try again …",
			expected: "model overloaded please try again …",
		},
		{
			name:     "quoted backend message",
			input:    `rate_limited: backend said "quota exhausted"`,
			expected: `rate_limited: backend said "quota exhausted"`,
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "multi-line generator stderr",
			input:    "Traceback (most recent call last):\n  File \"gen.py\", line 3\nRuntimeError: CUDA out of memory",
			expected: `Traceback (most recent call last):\n  File "gen.py", line 3\nRuntimeError: CUDA out of memory`,
		},
		{
			name:     "CRLF from a windows helper",
			input:    "timeout\r\n",
			expected: `timeout\r\n`,
		},
		{
			name:     "tab separated stderr",
			input:    "entity\t42\tfailed",
			expected: `entity\t42\tfailed`,
		},
		{
			name:     "coloured stderr",
			input:    "\x1b[31merror:\x1b[0m image too large",
			expected: `\x1b[31merror:\x1b[0m image too large`,
		},
		{
			name:     "NUL in error body",
			input:    "bad\x00response",
			expected: `bad\x00response`,
		},
		{
			name:     "DEL and bell",
			input:    "a\x7fb\x07c",
			expected: `a\x7fb\x07c`,
		},
		{
			name:     "forged log line in error",
			input:    "quota reached\nINFO: job 7 completed (entity=7, attempts=1)",
			expected: `quota reached\nINFO: job 7 completed (entity=7, attempts=1)`,
		},
		{
			name:     "forged client address",
			input:    "10.0.0.1\nWARN: client 127.0.0.1 blocked",
			expected: `10.0.0.1\nWARN: client 127.0.0.1 blocked`,
		},
		{
			name:     "non-latin alt text",
			input:    "一只猫坐在沙发上 🐈 chat sur un canapé",
			expected: "一只猫坐在沙发上 🐈 chat sur un canapé",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_EscapesEveryControlChar(t *testing.T) {
	for r := rune(0); r < 32; r++ {
		got := SanitizeForLog(string(r))
		assert.NotContains(t, got, string(r), "control char 0x%02x", r)
		assert.True(t, strings.HasPrefix(got, `\`), "control char 0x%02x: %q", r, got)
	}
	assert.Equal(t, `\x7f`, SanitizeForLog("\x7f"))
}

func TestSanitizeForLog_CapsLongStderr(t *testing.T) {
	stderr := strings.Repeat("x", maxLogRunes) + strings.Repeat("y", 500)

	got := SanitizeForLog(stderr)

	assert.Equal(t, strings.Repeat("x", maxLogRunes)+"…(+500 bytes)", got)
	assert.Equal(t, strings.Repeat("é", 10), SanitizeForLog(strings.Repeat("é", 10)))
	assert.Equal(t, strings.Repeat("x", maxLogRunes), SanitizeForLog(strings.Repeat("x", maxLogRunes)))
}

func BenchmarkSanitizeForLog(b *testing.B) {
	cases := []struct {
		name  string
		input string
	}{
		{"short_error", "generation timed out after 1m0s"},
		{"stderr", "Traceback (most recent call last):\n  File \"gen.py\"\nRuntimeError: boom"},
		{"long_stderr", strings.Repeat("warning: retrying\n", 200)},
	}

	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			for b.Loop() {
				_ = SanitizeForLog(tc.input)
			}
		})
	}
}
