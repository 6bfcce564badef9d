package output

import (
	"regexp"
	"strings"
)

// ansiEscape matches CSI/OSC terminal escape sequences, covering the common
// color/cursor codes a shell session's stdout picks up from colorized CLI
// tools.
var ansiEscape = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07|[@-_])`)

// Normalize strips ANSI escape sequences and collapses runs of three or
// more blank lines down to one, ahead of classification. This mirrors the
// original implementation's pre-classification noise-reduction pass
// (minus its code-aware folding, which has no grounded Go equivalent in
// the retrieved pack).
func Normalize(raw []byte) []byte {
	s := ansiEscape.ReplaceAllString(string(raw), "")
	s = collapseBlankLines(s)
	return []byte(s)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
