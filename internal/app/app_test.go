package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/config"
	"crypto-sentinel/internal/listing"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Driver: config.DriverFile, DataDir: t.TempDir(), ViewCacheItems: 1000},
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
		Export:    config.ExportConfig{ChartWidth: 640, ChartHeight: 360, ShowLimit: 20},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func writeImport(t *testing.T, entries any) string {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("编码导入文件失败: %v", err)
	}
	path := filepath.Join(t.TempDir(), "import.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("写入导入文件失败: %v", err)
	}
	return path
}

func seed(t *testing.T, a *App) {
	t.Helper()
	path := writeImport(t, []map[string]string{
		{"id": "1", "source": "CMC_SIGNALS", "symbol": "BTC", "title": "BTC Signal", "timestamp": "2024-01-01T00:00:00Z", "url": "https://cmc/1"},
		{"id": "2", "source": "MEXC_LISTINGS", "symbol": "ETH", "title": "ETH Listing", "timestamp": "2024-01-01T00:00:00Z", "url": "https://mexc/2"},
		{"id": "3", "source": "OURBIT_LISTINGS", "symbol": "PEPE", "title": "Ourbit lists PEPE", "timestamp": "2024-01-03T00:00:00Z", "url": "https://ourbit/3"},
		{"id": "", "source": "CMC_SIGNALS", "symbol": "NOID", "title": "no id"},
		{"id": "5", "source": "KRAKEN", "symbol": "X", "title": "bad source"},
	})
	if err := a.Import(context.Background(), path); err != nil {
		t.Fatalf("导入失败: %v", err)
	}
}

func TestImportSkipsMalformed(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	if !strings.Contains(out.String(), "imported: 3") || !strings.Contains(out.String(), "skipped: 2") {
		t.Fatalf("导入统计错误: %s", out.String())
	}
}

func TestShowFiltersBySourceAndText(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	out.Reset()

	if err := a.Show(context.Background(), ShowOptions{Filter: "btc", Source: listing.SourceCMCSignals}); err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Fresh CMC Signals (1)") || !strings.Contains(text, "BTC Signal") {
		t.Fatalf("应显示 BTC 条目: %s", text)
	}
	if strings.Contains(text, "ETH") || strings.Contains(text, "MEXC Listings") {
		t.Fatalf("不应显示其他来源: %s", text)
	}
}

func TestShowAllSources(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	out.Reset()

	if err := a.Show(context.Background(), ShowOptions{}); err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	for _, want := range []string{"Fresh CMC Signals (1)", "Ourbit Announcements (1)", "MEXC Listings (1)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("缺少表格 %q: %s", want, out.String())
		}
	}
}

func TestNewestFirst(t *testing.T) {
	rows := []listing.Entry{
		{ID: "old", Timestamp: "2024-01-01T00:00:00Z"},
		{ID: "bad", Timestamp: "??"},
		{ID: "new", Timestamp: "2024-02-01T00:00:00Z"},
	}
	got := newestFirst(rows)
	if got[0].ID != "new" || got[1].ID != "old" || got[2].ID != "bad" {
		t.Fatalf("排序错误: %v", got)
	}
	if rows[0].ID != "old" {
		t.Fatal("不应修改输入切片")
	}
}

func TestStatusCounts(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	out.Reset()

	if err := a.Status(context.Background()); err != nil {
		t.Fatalf("status 失败: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Global Records") || !strings.Contains(text, "33.3") {
		t.Fatalf("状态输出错误: %s", text)
	}
	if !strings.Contains(text, "last sync: never") {
		t.Fatalf("未同步时应显示 never: %s", text)
	}
}

func TestSharePct(t *testing.T) {
	if sharePct(0, 0) != "0.0" || sharePct(1, 4) != "25.0" || sharePct(2, 3) != "66.7" {
		t.Fatal("占比计算错误")
	}
}

func TestChartOutput(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	out.Reset()

	if err := a.Chart(context.Background()); err != nil {
		t.Fatalf("chart 失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("应输出表头加 3 个点: %s", out.String())
	}
	if !strings.HasPrefix(lines[1], "2024-01-01") || !strings.Contains(lines[1], "CMC_SIGNALS") {
		t.Fatalf("第一行应为 2024-01-01 CMC: %q", lines[1])
	}
	if !strings.Contains(lines[2], "MEXC_LISTINGS") || !strings.HasPrefix(lines[3], "2024-01-03") {
		t.Fatalf("排序错误: %s", out.String())
	}
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _ := testApp(t)
	seed(t, a)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "entries.csv")
	pngPath := filepath.Join(dir, "out", "chart.png")
	if err := a.Export(context.Background(), ExportOptions{CSVPath: csvPath, PNGPath: pngPath}); err != nil {
		t.Fatalf("export 失败: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("读取 CSV 失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "id,source") {
		t.Fatalf("CSV 内容错误: %s", data)
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("PNG 应被写出: %v", err)
	}
}

func TestExportWindowAndFilter(t *testing.T) {
	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	all := []listing.Entry{
		{ID: "1", Source: listing.SourceCMCSignals, Symbol: "BTC", Timestamp: "2024-01-01T00:00:00Z"},
		{ID: "2", Source: listing.SourceCMCSignals, Symbol: "BTC", Timestamp: "2024-01-03T00:00:00Z"},
		{ID: "3", Source: listing.SourceMEXCListings, Symbol: "ETH", Timestamp: "2024-01-03T00:00:00Z"},
		{ID: "4", Source: listing.SourceCMCSignals, Symbol: "BTC", Timestamp: "bad"},
	}
	got := selectEntries(all, ExportOptions{From: &from, Filter: "btc"})
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("窗口与过滤结果错误: %+v", got)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := testApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("缺少 --csv/--png 应报错")
	}
}

func TestSyncAgainstStubFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"results": []map[string]any{
					{"id": 1, "title": "Ourbit Will List Foo (FOO)", "publishTime": 1704067200000},
				},
			},
		})
	}))
	defer srv.Close()

	a, out := testApp(t)
	a.Config.Sources.Ourbit = config.SourceConfig{Enabled: true, BaseURL: srv.URL, RequestTimeout: time.Second}

	if err := a.Sync(context.Background()); err != nil {
		t.Fatalf("sync 失败: %v", err)
	}
	if !strings.Contains(out.String(), "added: 1") {
		t.Fatalf("应新增 1 条: %s", out.String())
	}

	out.Reset()
	if err := a.Status(context.Background()); err != nil {
		t.Fatalf("status 失败: %v", err)
	}
	if strings.Contains(out.String(), "last sync: never") {
		t.Fatalf("同步后应显示最近同步时间: %s", out.String())
	}
}

func TestClear(t *testing.T) {
	a, out := testApp(t)
	seed(t, a)
	if err := a.Clear(context.Background()); err != nil {
		t.Fatalf("clear 失败: %v", err)
	}
	out.Reset()
	if err := a.Chart(context.Background()); err != nil {
		t.Fatalf("chart 失败: %v", err)
	}
	if !strings.Contains(out.String(), "no chart data") {
		t.Fatalf("清空后应无图表数据: %s", out.String())
	}
}
