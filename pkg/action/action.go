// Package action splits assistant output into ordered, typed segments.
//
// Outside of action blocks, text is markdown. Action blocks look like
//
//	<Action type="shell">ls -la</Action>
//	<Action type="file" path="routes/web.php">...</Action>
//
// Tokenizing is a pure function of its input: callers streaming a response
// re-tokenize the growing prefix on every chunk and tokenize the final text
// once more to get the authoritative segment list.
package action

import "strings"

// Kind identifies what a segment asks for.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindThinking Kind = "thinking"
	KindShell    Kind = "shell"
	KindFile     Kind = "file"
	KindDiff     Kind = "diff"
)

// Segment is one region of assistant text.
type Segment struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
	// Path is set for file and diff segments only.
	Path string `json:"path,omitempty"`

	// Start and End are byte offsets of the source region the segment was
	// read from, markup included.
	Start int `json:"start"`
	End   int `json:"end"`
}

// Actionable reports whether the segment carries an instruction for the
// sandbox.
func (s Segment) Actionable() bool {
	switch s.Kind {
	case KindShell, KindFile, KindDiff:
		return true
	}
	return false
}

// Raw returns the source text the segment was read from.
func (s Segment) Raw(src string) string {
	if s.Start < 0 || s.End > len(src) || s.Start > s.End {
		return ""
	}
	return src[s.Start:s.End]
}

func kindOf(attrs map[string]string) (Kind, bool) {
	switch k := Kind(attrs["type"]); k {
	case KindThinking, KindShell:
		return k, true
	case KindFile, KindDiff:
		// No path, nothing to write to.
		return k, attrs["path"] != ""
	}
	return KindMarkdown, false
}

// Tokenize splits s, which may be an incomplete prefix of a response.
//
// A block whose end marker has not arrived yet is withheld along with
// everything after its start marker, as is a trailing fragment that could
// still grow into a start marker. Re-tokenizing a longer prefix picks them up.
func Tokenize(s string) []Segment {
	return scan(s, false)
}

// TokenizeComplete splits s, which must be the whole response. Unterminated
// blocks and marker fragments are returned as markdown text since no more
// input will arrive.
func TokenizeComplete(s string) []Segment {
	return scan(s, true)
}

// Text joins the content of every markdown segment.
func Text(segs []Segment) string {
	var parts []string
	for _, s := range segs {
		if s.Kind == KindMarkdown {
			parts = append(parts, s.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
