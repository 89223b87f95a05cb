package converter

import (
	"regexp"
	"strconv"
	"strings"
)

var progressRe = regexp.MustCompile(`(\d+)%\s.*`)

// ParseProgress extracts a "<digits>% <text>" percentage from a converter
// output line and returns it as a fraction in [0, 1].
func ParseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	p := float64(n) / 100
	if p > 1 {
		p = 1
	}
	return p, true
}

// cleanLine strips the line terminator and replaces invalid UTF-8.
func cleanLine(b []byte) string {
	s := strings.TrimRight(string(b), "\r\n")
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Diagnostic picks the human-readable error line out of a tool's stderr,
// skipping blank lines and Python traceback artifacts.
func Diagnostic(lines []string) string {
	for _, l := range lines {
		switch {
		case strings.TrimSpace(l) == "":
		case strings.HasPrefix(l, "Traceback"):
		case strings.HasPrefix(l, " "), strings.HasPrefix(l, "\t"):
		default:
			return l
		}
	}
	return ""
}
