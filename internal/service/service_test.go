package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/alerting"
	"crypto-sentinel/internal/fetcher"
	"crypto-sentinel/internal/listing"
	"crypto-sentinel/internal/storage"
)

type stubFetcher struct {
	source  listing.Source
	entries []listing.Entry
	err     error
}

func (s *stubFetcher) Source() listing.Source { return s.source }

func (s *stubFetcher) Fetch(ctx context.Context) ([]listing.Entry, error) {
	return s.entries, s.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

type failingStore struct {
	*storage.MemoryStore
}

func (f failingStore) Upsert(ctx context.Context, entries []listing.Entry) error {
	return errors.New("disk full")
}

// unreadableStore mimics a backend whose reads degrade to an empty set.
type unreadableStore struct {
	*storage.MemoryStore
}

func (u unreadableStore) GetAll(ctx context.Context) []listing.Entry {
	return []listing.Entry{}
}

func e(id string, src listing.Source, symbol string) listing.Entry {
	return listing.Entry{ID: id, Source: src, Symbol: symbol, Title: symbol + " event", Timestamp: "2024-01-01T00:00:00Z"}
}

func fetchers() []fetcher.SourceFetcher {
	return []fetcher.SourceFetcher{
		&stubFetcher{source: listing.SourceCMCSignals, entries: []listing.Entry{e("c1", listing.SourceCMCSignals, "BTC")}},
		&stubFetcher{source: listing.SourceOurbitListings, entries: []listing.Entry{e("o1", listing.SourceOurbitListings, "PEPE")}},
		&stubFetcher{source: listing.SourceMEXCListings, entries: []listing.Entry{e("m1", listing.SourceMEXCListings, "ETH")}},
	}
}

func TestSyncUpsertsAllSources(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := New(Options{AlertsEnabled: true}, nil, fetchers(), store, nil, notifier, zerolog.Nop())

	stats, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("同步不应报错: %v", err)
	}
	if stats.TotalRecords != 3 || stats.Added != 3 || stats.Degraded || stats.IsSyncing {
		t.Fatalf("同步状态错误: %+v", stats)
	}
	if stats.LastSync == nil {
		t.Fatal("成功同步后应记录 lastSync")
	}
	if len(notifier.notes) != 1 || len(notifier.notes[0].Entries) != 3 {
		t.Fatalf("应通知 3 条新条目: %+v", notifier.notes)
	}

	stats, err = svc.Sync(ctx)
	if err != nil {
		t.Fatalf("二次同步不应报错: %v", err)
	}
	if stats.TotalRecords != 3 || stats.Added != 0 {
		t.Fatalf("重复同步应幂等: %+v", stats)
	}
	if len(notifier.notes) != 1 {
		t.Fatal("无新条目时不应通知")
	}
}

func TestSyncPartialFailureDegrades(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	fs := fetchers()
	fs[1] = &stubFetcher{source: listing.SourceOurbitListings, err: errors.New("unreachable")}
	svc := New(Options{}, nil, fs, store, nil, nil, zerolog.Nop())

	stats, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("部分失败不应返回错误: %v", err)
	}
	if !stats.Degraded || len(stats.FailedSources) != 1 || stats.FailedSources[0] != listing.SourceOurbitListings {
		t.Fatalf("应报告降级状态: %+v", stats)
	}
	if stats.TotalRecords != 2 {
		t.Fatalf("成功来源的数据应写入, 实际 %d", stats.TotalRecords)
	}
}

func TestSyncAllSourcesFailKeepsLastSync(t *testing.T) {
	ctx := context.Background()
	fs := []fetcher.SourceFetcher{&stubFetcher{source: listing.SourceCMCSignals, err: errors.New("down")}}
	svc := New(Options{}, nil, fs, storage.NewMemoryStore(), nil, nil, zerolog.Nop())

	stats, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("全部失败仍应返回降级状态而非错误: %v", err)
	}
	if stats.LastSync != nil || !stats.Degraded {
		t.Fatalf("全部失败时不应更新 lastSync: %+v", stats)
	}
}

func TestSyncDropsForeignAndMalformedEntries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	fs := []fetcher.SourceFetcher{
		&stubFetcher{source: listing.SourceCMCSignals, entries: []listing.Entry{
			e("c1", listing.SourceCMCSignals, "BTC"),
			e("m9", listing.SourceMEXCListings, "ETH"),
			{Source: listing.SourceCMCSignals, Symbol: "NOID"},
		}},
	}
	svc := New(Options{}, nil, fs, store, nil, nil, zerolog.Nop())

	if _, err := svc.Sync(ctx); err != nil {
		t.Fatalf("同步不应报错: %v", err)
	}
	all := store.GetAll(ctx)
	if len(all) != 1 || all[0].ID != "c1" {
		t.Fatalf("应只保留合法且来源一致的条目: %+v", all)
	}
}

func TestSyncStoreFailureReturnsError(t *testing.T) {
	ctx := context.Background()
	svc := New(Options{}, nil, fetchers(), failingStore{storage.NewMemoryStore()}, nil, nil, zerolog.Nop())

	stats, err := svc.Sync(ctx)
	if err == nil {
		t.Fatal("写入失败应返回错误")
	}
	if stats.IsSyncing {
		t.Fatal("失败后 isSyncing 应复位")
	}
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	svc := New(Options{}, nil, nil, storage.NewMemoryStore(), nil, nil, zerolog.Nop())
	svc.running.Store(true)
	if _, err := svc.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("并发同步应返回 ErrSyncInProgress, 实际 %v", err)
	}
}

func TestSyncCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := storage.NewMemoryStore()
	svc := New(Options{}, nil, fetchers(), store, nil, nil, zerolog.Nop())
	if _, err := svc.Sync(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消的 ctx 应返回 context.Canceled, 实际 %v", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatal("取消后不应写入")
	}
}

func TestMaxAlertsPerRun(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := New(Options{AlertsEnabled: true, MaxAlertsPerRun: 1}, nil, fetchers(), storage.NewMemoryStore(), nil, notifier, zerolog.Nop())
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("同步不应报错: %v", err)
	}
	note := notifier.notes[0]
	if len(note.Entries) != 1 || note.Omitted != 2 {
		t.Fatalf("应截断通知条目: %+v", note)
	}
}

func TestStatusTrackerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_status.json")
	svc := New(Options{}, nil, fetchers(), storage.NewMemoryStore(), NewStatusTracker(0, path), nil, zerolog.Nop())
	stats, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("同步不应报错: %v", err)
	}

	reloaded := NewStatusTracker(7, path).Snapshot()
	if reloaded.LastSync == nil || !reloaded.LastSync.Equal(*stats.LastSync) {
		t.Fatalf("lastSync 应被持久化: %+v", reloaded)
	}
	if reloaded.TotalRecords != 7 {
		t.Fatal("totalRecords 应以当前存储为准")
	}
}

func TestSyncSuppressesAlertsWhenStoreUnreadable(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	if err := mem.Upsert(ctx, []listing.Entry{
		e("c1", listing.SourceCMCSignals, "BTC"),
		e("o1", listing.SourceOurbitListings, "PEPE"),
	}); err != nil {
		t.Fatalf("预置数据失败: %v", err)
	}

	notifier := &recordingNotifier{}
	svc := New(Options{AlertsEnabled: true}, nil, fetchers(), unreadableStore{mem}, nil, notifier, zerolog.Nop())
	stats, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("同步不应报错: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("读取失败时不应把已存条目当作新条目通知: %+v", notifier.notes)
	}
	if stats.TotalRecords != 3 || stats.Added != 1 {
		t.Fatalf("新增数量应按计数差计算: %+v", stats)
	}
}

func TestStatusTrackerSharesSyncingFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_status.json")
	running := NewStatusTracker(0, path)
	if err := running.begin(time.Now()); err != nil {
		t.Fatalf("保存状态失败: %v", err)
	}

	if !NewStatusTracker(0, path).Snapshot().IsSyncing {
		t.Fatal("其他进程应看到同步进行中")
	}
	if newStatusTracker(0, path, time.Now().Add(syncStaleAfter+time.Minute)).Snapshot().IsSyncing {
		t.Fatal("过期的进行中标记应被忽略")
	}

	if _, err := running.finish(time.Now(), 3, 3, nil, true); err != nil {
		t.Fatalf("保存状态失败: %v", err)
	}
	if NewStatusTracker(0, path).Snapshot().IsSyncing {
		t.Fatal("同步结束后标记应清除")
	}

	if err := running.begin(time.Now()); err != nil {
		t.Fatalf("保存状态失败: %v", err)
	}
	if err := running.abort(); err != nil {
		t.Fatalf("保存状态失败: %v", err)
	}
	if NewStatusTracker(0, path).Snapshot().IsSyncing {
		t.Fatal("中止后标记应清除")
	}
}
