package sandbox

import (
	"fmt"
	"strings"
)

// Patch applies a line-oriented diff to original. Lines starting with "+" are
// added and lines starting with "-" are removed; any other non-blank line is
// context that must exist in the file. Lines are matched ignoring surrounding
// whitespace, in file order. Additions that precede a removal or context line
// are inserted before it; additions in a diff with no anchors are appended.
func Patch(original, diff string) (string, error) {
	var lines []string
	if original != "" {
		lines = strings.Split(strings.TrimSuffix(original, "\n"), "\n")
	}

	var (
		out      []string
		pending  []string
		cursor   int
		anchored bool
	)
	find := func(want string) (int, bool) {
		want = strings.TrimSpace(want)
		for j := cursor; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == want {
				return j, true
			}
		}
		return 0, false
	}

	for i, dl := range strings.Split(diff, "\n") {
		if strings.TrimSpace(dl) == "" || isDiffHeader(dl) {
			continue
		}
		switch dl[0] {
		case '+':
			pending = append(pending, strip(dl))
		case '-':
			text := strip(dl)
			j, ok := find(text)
			if !ok {
				return "", fmt.Errorf("diff line %d: line to remove not found: %q", i+1, strings.TrimSpace(text))
			}
			out = append(out, lines[cursor:j]...)
			out = append(out, pending...)
			pending, cursor, anchored = nil, j+1, true
		default:
			j, ok := find(dl)
			if !ok {
				return "", fmt.Errorf("diff line %d: context line not found: %q", i+1, strings.TrimSpace(dl))
			}
			out = append(out, lines[cursor:j]...)
			out = append(out, pending...)
			out = append(out, lines[j])
			pending, cursor, anchored = nil, j+1, true
		}
	}

	if anchored {
		out = append(out, pending...)
		out = append(out, lines[cursor:]...)
	} else {
		out = append(out, lines[cursor:]...)
		out = append(out, pending...)
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(out, "\n") + "\n", nil
}

// strip removes the +/- marker and the single space that usually follows it.
func strip(line string) string {
	line = line[1:]
	return strings.TrimPrefix(line, " ")
}

func isDiffHeader(line string) bool {
	return strings.HasPrefix(line, "+++ ") ||
		strings.HasPrefix(line, "--- ") ||
		strings.HasPrefix(line, "@@") ||
		strings.HasPrefix(line, `\ No newline`)
}
