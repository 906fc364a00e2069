package listing

import "strings"

// Partition returns the entries of source whose symbol or title contains filter,
// ignoring case. An empty filter keeps every entry of the source. Input order is preserved.
func Partition(entries []Entry, filter string, source Source) []Entry {
	needle := strings.ToLower(filter)
	out := make([]Entry, 0)
	for _, e := range entries {
		if e.Source == source && matches(e, needle) {
			out = append(out, e)
		}
	}
	return out
}

// PartitionAll splits entries into all source partitions in a single scan.
// Every source has a non-nil slice in the result.
func PartitionAll(entries []Entry, filter string) map[Source][]Entry {
	needle := strings.ToLower(filter)
	out := make(map[Source][]Entry, len(sourceOrder))
	for _, s := range sourceOrder {
		out[s] = make([]Entry, 0)
	}
	for _, e := range entries {
		bucket, ok := out[e.Source]
		if !ok || !matches(e, needle) {
			continue
		}
		out[e.Source] = append(bucket, e)
	}
	return out
}

// CountBySource tallies entries per source.
func CountBySource(entries []Entry) map[Source]int {
	counts := make(map[Source]int, len(sourceOrder))
	for _, s := range sourceOrder {
		counts[s] = 0
	}
	for _, e := range entries {
		if e.Source.Valid() {
			counts[e.Source]++
		}
	}
	return counts
}

func matches(e Entry, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Symbol), needle) ||
		strings.Contains(strings.ToLower(e.Title), needle)
}
