package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

// Notification 封装一次同步中新发现的条目。
type Notification struct {
	RunID     string
	SyncedAt  time.Time
	Entries   []listing.Entry
	Omitted   int
	Channels  []string
	Degraded  bool
	FailedSrc []listing.Source
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     renderMessage(note),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("entries", len(note.Entries)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Crypto Sentinel] %d new entries\n", len(note.Entries)+note.Omitted))
	builder.WriteString(fmt.Sprintf("Synced: %s UTC\n", note.SyncedAt.UTC().Format(time.RFC3339)))
	for _, e := range note.Entries {
		symbol := e.Symbol
		if symbol == "" {
			symbol = "-"
		}
		builder.WriteString(fmt.Sprintf("• [%s] %s: %s\n", e.Source.Label(), symbol, e.Title))
		if e.URL != "" {
			builder.WriteString("  " + e.URL + "\n")
		}
	}
	if note.Omitted > 0 {
		builder.WriteString(fmt.Sprintf("…and %d more\n", note.Omitted))
	}
	if note.Degraded && len(note.FailedSrc) > 0 {
		failed := make([]string, len(note.FailedSrc))
		for i, s := range note.FailedSrc {
			failed[i] = string(s)
		}
		builder.WriteString(fmt.Sprintf("Degraded: %s unavailable\n", strings.Join(failed, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
