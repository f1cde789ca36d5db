package logger

import (
	"fmt"
	"strings"
)

// maxLogRunes caps a single sanitized value. Generator stderr and upstream
// error bodies can run to many kilobytes.
const maxLogRunes = 1024

// SanitizeForLog makes untrusted text safe to put on one log line: newlines,
// tabs, NUL, ESC and other control characters are escaped, printable Unicode
// is kept, and anything past maxLogRunes is cut with a count of what was
// dropped.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), maxLogRunes*2))

	n := 0
	for i, r := range s {
		if n == maxLogRunes {
			fmt.Fprintf(&b, "…(+%d bytes)", len(s)-i)
			break
		}
		n++

		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 32 || r == 127 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
