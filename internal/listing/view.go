package listing

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// View memoizes partitions keyed on (revision, filter). The revision must change whenever
// the underlying entry set changes; stores expose it through Revision().
type View struct {
	cache *ristretto.Cache
}

// NewView builds a view cache bounded to roughly maxEntries cached rows.
func NewView(maxEntries int64) (*View, error) {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Cost is counted in rows.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}
	return &View{cache: cache}, nil
}

// Partitions returns all source partitions for filter. Returned slices are shared with
// the cache and must not be modified.
func (v *View) Partitions(revision uint64, entries []Entry, filter string) map[Source][]Entry {
	key := viewKey(revision, filter)
	if cached, ok := v.cache.Get(key); ok {
		if parts, ok := cached.(map[Source][]Entry); ok {
			return parts
		}
	}

	parts := PartitionAll(entries, filter)
	cost := int64(1)
	for _, p := range parts {
		cost += int64(len(p))
	}
	if v.cache.Set(key, parts, cost) {
		v.cache.Wait()
	}
	return parts
}

// Partition returns a single source partition, served from the memoized scan.
func (v *View) Partition(revision uint64, entries []Entry, filter string, source Source) []Entry {
	return v.Partitions(revision, entries, filter)[source]
}

// Close releases cache goroutines.
func (v *View) Close() {
	if v == nil || v.cache == nil {
		return
	}
	v.cache.Close()
}

func viewKey(revision uint64, filter string) string {
	return fmt.Sprintf("%d\x00%s", revision, filter)
}
