// Package classifier derives the classifier tree from dotted codes and
// resolves display labels.
package classifier

import (
	"sort"
	"strings"
)

// ParentCode returns the code with its final dot-segment removed, or "" when
// the code is top level or the would-be parent is not in present.
func ParentCode(code string, present map[string]bool) string {
	idx := strings.LastIndex(code, ".")
	if idx < 0 {
		return ""
	}
	parent := code[:idx]
	if !present[parent] {
		return ""
	}
	return parent
}

// Batch is the set of codes seen in one ingestion run.
type Batch struct {
	codes   []string
	present map[string]bool
}

func NewBatch(codes []string) *Batch {
	b := &Batch{present: make(map[string]bool, len(codes))}
	for _, c := range codes {
		if b.present[c] {
			continue
		}
		b.present[c] = true
		b.codes = append(b.codes, c)
	}
	return b
}

func (b *Batch) Contains(code string) bool {
	return b.present[code]
}

func (b *Batch) Len() int {
	return len(b.codes)
}

// Parent resolves a code's parent against the batch; "" means none.
func (b *Batch) Parent(code string) string {
	return ParentCode(code, b.present)
}

// Ordered returns the batch codes shorter-first, then lexicographically, so
// every ancestor precedes its descendants.
func (b *Batch) Ordered() []string {
	out := make([]string, len(b.codes))
	copy(out, b.codes)
	SortCodes(out)
	return out
}

// SortCodes sorts codes by length, then lexicographically.
func SortCodes(codes []string) {
	sort.SliceStable(codes, func(i, j int) bool {
		return Less(codes[i], codes[j])
	})
}

func Less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
