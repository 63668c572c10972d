package sqlguard

import (
	"sort"
	"strings"
)

// Ordering of edits that share a position.
const (
	orderWrap = iota
	orderAppend
	orderNewWhere
	orderLimit
)

// edit replaces src[start:end] with text. Insertions have start == end.
type edit struct {
	start, end int
	text       string
	order      int
}

// applyEdits returns src[start:end] with every edit inside that range applied.
func applyEdits(src string, start, end int, edits []edit) string {
	var in []edit
	for _, e := range edits {
		if e.start >= start && e.end <= end {
			in = append(in, e)
		}
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].start != in[j].start {
			return in[i].start < in[j].start
		}
		return in[i].order < in[j].order
	})

	var b strings.Builder
	pos := start
	for _, e := range in {
		if e.start < pos {
			continue
		}
		b.WriteString(src[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(src[pos:end])
	return b.String()
}
