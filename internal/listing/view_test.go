package listing

import "testing"

func TestViewMemoizesByRevision(t *testing.T) {
	view, err := NewView(1000)
	if err != nil {
		t.Fatalf("NewView 失败: %v", err)
	}
	defer view.Close()

	entries := sampleEntries()
	first := view.Partition(1, entries, "btc", SourceCMCSignals)
	if len(first) != 2 {
		t.Fatalf("期望 2 条, 实际 %v", ids(first))
	}

	// Same revision with a different slice proves the cached scan is reused.
	cached := view.Partition(1, nil, "btc", SourceCMCSignals)
	if !sameIDs(first, cached) {
		t.Fatalf("同一 revision 应命中缓存, 实际 %v", ids(cached))
	}

	fresh := view.Partition(2, entries[:1], "btc", SourceCMCSignals)
	if len(fresh) != 1 {
		t.Fatalf("新 revision 应重新计算, 实际 %v", ids(fresh))
	}
}
