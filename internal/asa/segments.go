package asa

import (
	"sort"
	"strconv"
	"strings"
)

// SegmentIndex pairs a parsed sequence number back to the filename it came
// from, so callers can re-derive the path to transfer.
type SegmentIndex struct {
	Index int
	Name  string
}

// ParseSegmentIndices extracts the trailing integer from every name of the
// form prefix<integer> (e.g. "seg_000042"), ignoring anything that doesn't
// match, and returns them sorted ascending by Index.
func ParseSegmentIndices(names []string, prefix string) []SegmentIndex {
	out := make([]SegmentIndex, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		numStr := name[len(prefix):]
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		out = append(out, SegmentIndex{Index: n, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ReadySegments computes the transfer-ready subset of a sorted segment list
// per spec.md §4.3.1's HLS handling: the highest-numbered segment is still
// possibly being written by the source processor, so it is withheld from
// the ready list unless the source has already signalled EOF, in which case
// every remaining segment (including the last) is ready.
func ReadySegments(sorted []SegmentIndex, sourceEOF bool) []SegmentIndex {
	if len(sorted) == 0 {
		return nil
	}
	if sourceEOF {
		return sorted
	}
	return sorted[:len(sorted)-1]
}
