package action

import "strings"

const (
	startMarker = "<Action"
	endMarker   = "</Action>"
)

type state int

const (
	stateMarkdown state = iota
	stateBlock
)

type tagResult int

const (
	tagOK tagResult = iota
	tagMalformed
	tagIncomplete
)

type openTag struct {
	attrs   map[string]string
	start   int // offset of '<'
	content int // offset just past '>'
}

type scanner struct {
	src   string
	final bool
	segs  []Segment
}

func scan(src string, final bool) []Segment {
	sc := &scanner{src: src, final: final}

	var (
		st      = stateMarkdown
		pos     int
		mdStart int
		open    openTag
	)
	for {
		switch st {
		case stateMarkdown:
			i := indexFrom(src, pos, startMarker)
			if i < 0 {
				end := len(src)
				if !final {
					end -= partialMarker(src[mdStart:], startMarker)
				}
				sc.markdown(mdStart, end)
				return sc.segs
			}

			attrs, next, res := parseStartTag(src, i)
			switch res {
			case tagOK:
				sc.markdown(mdStart, i)
				open = openTag{attrs: attrs, start: i, content: next}
				pos = next
				st = stateBlock
			case tagIncomplete:
				if final {
					sc.markdown(mdStart, len(src))
				} else {
					sc.markdown(mdStart, i)
				}
				return sc.segs
			default:
				// Not a marker after all; keep it as markdown text.
				pos = i + len(startMarker)
			}

		case stateBlock:
			j := indexFrom(src, pos, endMarker)
			limit := j
			if limit < 0 {
				limit = len(src)
			}
			// A new block opening first means this one was never closed.
			if k := nextStartTag(src, pos, limit); k >= 0 {
				if final {
					sc.markdown(open.start, k)
				}
				pos, mdStart = k, k
				st = stateMarkdown
				continue
			}
			if j < 0 {
				if final {
					sc.markdown(open.start, len(src))
				}
				return sc.segs
			}
			end := j + len(endMarker)
			sc.block(open, src[open.content:j], end)
			pos = end
			mdStart = end
			st = stateMarkdown
		}
	}
}

// markdown emits src[start:end] unless it is blank.
func (sc *scanner) markdown(start, end int) {
	if end <= start {
		return
	}
	text := strings.TrimSpace(sc.src[start:end])
	if text == "" {
		return
	}
	sc.segs = append(sc.segs, Segment{
		Kind:    KindMarkdown,
		Content: text,
		Start:   start,
		End:     end,
	})
}

func (sc *scanner) block(t openTag, inner string, end int) {
	kind, ok := kindOf(t.attrs)
	content := strings.TrimSpace(inner)
	if !ok {
		if content == "" {
			return
		}
		sc.segs = append(sc.segs, Segment{Kind: KindMarkdown, Content: content, Start: t.start, End: end})
		return
	}
	seg := Segment{Kind: kind, Content: content, Start: t.start, End: end}
	if kind == KindFile || kind == KindDiff {
		seg.Path = t.attrs["path"]
	}
	sc.segs = append(sc.segs, seg)
}

// parseStartTag reads the marker starting at src[i]. On success it returns
// the attributes and the offset just past the closing '>'.
func parseStartTag(src string, i int) (map[string]string, int, tagResult) {
	p := i + len(startMarker)
	if p == len(src) {
		return nil, 0, tagIncomplete
	}
	if c := src[p]; c != '>' && !isSpace(c) {
		return nil, 0, tagMalformed
	}

	attrs := make(map[string]string)
	for {
		p = skipSpace(src, p)
		if p == len(src) {
			return nil, 0, tagIncomplete
		}
		if src[p] == '>' {
			return attrs, p + 1, tagOK
		}

		nameStart := p
		for p < len(src) && isNameByte(src[p]) {
			p++
		}
		if p == len(src) {
			return nil, 0, tagIncomplete
		}
		if p == nameStart {
			return nil, 0, tagMalformed
		}
		name := src[nameStart:p]

		p = skipSpace(src, p)
		if p == len(src) {
			return nil, 0, tagIncomplete
		}
		if src[p] != '=' {
			return nil, 0, tagMalformed
		}
		p = skipSpace(src, p+1)
		if p == len(src) {
			return nil, 0, tagIncomplete
		}
		if src[p] != '"' {
			return nil, 0, tagMalformed
		}
		closeQuote := strings.IndexByte(src[p+1:], '"')
		if closeQuote < 0 {
			return nil, 0, tagIncomplete
		}
		value := src[p+1 : p+1+closeQuote]
		if strings.ContainsAny(value, "<>\n") {
			return nil, 0, tagMalformed
		}
		attrs[name] = value
		p = p + 1 + closeQuote + 1
	}
}

// nextStartTag returns the offset of the first well-formed start marker in
// src[from:limit], or -1.
func nextStartTag(src string, from, limit int) int {
	for {
		i := indexFrom(src, from, startMarker)
		if i < 0 || i >= limit {
			return -1
		}
		if _, _, res := parseStartTag(src, i); res == tagOK {
			return i
		}
		from = i + len(startMarker)
	}
}

// partialMarker returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialMarker(s, marker string) int {
	n := len(marker) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

func indexFrom(s string, from int, substr string) int {
	if from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i < 0 {
		return -1
	}
	return from + i
}

func skipSpace(s string, p int) int {
	for p < len(s) && isSpace(s[p]) {
		p++
	}
	return p
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
