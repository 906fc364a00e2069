package listing

import (
	"errors"
	"testing"
	"time"
)

func TestParseSourceAliases(t *testing.T) {
	cases := map[string]Source{
		"CMC_SIGNALS":     SourceCMCSignals,
		"cmc":             SourceCMCSignals,
		" Ourbit ":        SourceOurbitListings,
		"mexc_listings":   SourceMEXCListings,
		"OURBIT_LISTINGS": SourceOurbitListings,
	}
	for raw, want := range cases {
		got, err := ParseSource(raw)
		if err != nil {
			t.Fatalf("ParseSource(%q) 不应报错: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSource(%q) = %s, 期望 %s", raw, got, want)
		}
	}

	if _, err := ParseSource("binance"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("未知来源应返回 ErrUnknownSource, 实际 %v", err)
	}
}

func TestEntryValidate(t *testing.T) {
	if err := (Entry{Source: SourceCMCSignals}).Validate(); err == nil {
		t.Fatal("缺少 id 应报错")
	}
	if err := (Entry{ID: "1", Source: "KRAKEN"}).Validate(); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("未知 source 应报错, 实际 %v", err)
	}
	if err := (Entry{ID: "1", Source: SourceMEXCListings}).Validate(); err != nil {
		t.Fatalf("合法 entry 不应报错: %v", err)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	inputs := []string{
		"2024-01-02T03:04:05Z",
		"2024-01-02T11:04:05+08:00",
		"2024-01-02 03:04:05",
		"1704164645",
		"1704164645000",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) 不应报错: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s, 期望 %s", in, got, want)
		}
	}

	day, err := ParseTimestamp("20240102")
	if err != nil {
		t.Fatalf("紧凑日期应可解析: %v", err)
	}
	if day.Format(DateLayout) != "2024-01-02" {
		t.Fatalf("紧凑日期解析错误: %s", day)
	}

	compact := map[string]time.Time{
		"2024010112":     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		"202401011230":   time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
		"20240101123045": time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC),
	}
	for in, expected := range compact {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) 不应报错: %v", in, err)
		}
		if !got.Equal(expected) {
			t.Fatalf("紧凑时间 %q 不应按 epoch 解析: %s, 期望 %s", in, got, expected)
		}
	}

	for _, bad := range []string{"", "   ", "not a date"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Fatalf("ParseTimestamp(%q) 应报错", bad)
		}
	}
}

func TestSourcesDeclarationOrder(t *testing.T) {
	got := Sources()
	want := []Source{SourceCMCSignals, SourceOurbitListings, SourceMEXCListings}
	if len(got) != len(want) {
		t.Fatalf("来源数量错误: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("来源顺序错误: %v", got)
		}
	}

	got[0] = "MUTATED"
	if Sources()[0] != SourceCMCSignals {
		t.Fatal("Sources 应返回副本")
	}
}
