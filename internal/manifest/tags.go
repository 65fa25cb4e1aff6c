package manifest

import (
	"sort"
	"strings"
)

// TagIndex is the derived set of distinct tags across a manifest, with
// per-tag chunk counts. Built once at load time; never stored.
type TagIndex struct {
	counts map[string]int
}

// BuildTagIndex scans the manifest's chunks and collects normalized tags.
func BuildTagIndex(m *Manifest) *TagIndex {
	counts := make(map[string]int)
	for i := range m.Chunks {
		for _, t := range m.Chunks[i].TagList() {
			counts[t]++
		}
	}
	return &TagIndex{counts: counts}
}

// Count returns how many chunks carry the given tag (case-insensitive).
func (ti *TagIndex) Count(tag string) int {
	return ti.counts[strings.ToLower(strings.TrimSpace(tag))]
}

// Has reports whether any chunk carries the given tag.
func (ti *TagIndex) Has(tag string) bool {
	return ti.Count(tag) > 0
}

// Len returns the number of distinct tags.
func (ti *TagIndex) Len() int {
	return len(ti.counts)
}

// All returns all tags sorted alphabetically.
func (ti *TagIndex) All() []string {
	tags := make([]string, 0, len(ti.counts))
	for t := range ti.counts {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// WithPrefix returns all tags starting with the given prefix, sorted,
// for autocomplete use.
func (ti *TagIndex) WithPrefix(prefix string) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	var tags []string
	for t := range ti.counts {
		if strings.HasPrefix(t, prefix) {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags
}
