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
	"github.com/shopspring/decimal"
)

// Notification 封装一次执行结果。
type Notification struct {
	At         time.Time
	Exchange   string
	Symbol     string
	State      string
	Action     string
	Reason     string
	Indicator  float64
	Price      decimal.Decimal
	Amount     decimal.Decimal
	AmountBase decimal.Decimal
	Balance    decimal.Decimal
	OrderID    string
	DryRun     bool
	Error      string
	RecordErr  string
}

// Notifier 定义通知输送接口。
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

// NewTelegramNotifier 构造 Telegram 通知器。
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
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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

	n.logger.Info().
		Str("state", note.State).
		Str("action", note.Action).
		Str("reason", note.Reason).
		Msg("通知已发送 (Telegram)")
	return nil
}

// RenderMessage 生成纯文本消息。
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	title := "[AHR999 定投]"
	if note.DryRun {
		title = "[AHR999 定投 · 模拟]"
	}
	builder.WriteString(title + "\n")
	builder.WriteString(fmt.Sprintf("Time: %s\n", note.At.Format(time.RFC3339)))
	if note.Exchange != "" {
		builder.WriteString(fmt.Sprintf("Exchange: %s %s\n", note.Exchange, note.Symbol))
	}
	builder.WriteString(fmt.Sprintf("State: %s\n", note.State))
	if note.Indicator > 0 {
		builder.WriteString(fmt.Sprintf("AHR999: %.4f\n", note.Indicator))
	}
	if note.Action != "" {
		builder.WriteString(fmt.Sprintf("Action: %s\n", note.Action))
	}
	if note.Price.IsPositive() {
		builder.WriteString(fmt.Sprintf("Price: %s\n", note.Price.StringFixed(2)))
	}
	if note.Amount.IsPositive() {
		builder.WriteString(fmt.Sprintf("Amount: %s\n", note.Amount.StringFixed(2)))
	}
	if note.AmountBase.IsPositive() {
		builder.WriteString(fmt.Sprintf("Bought: %s\n", note.AmountBase.StringFixed(8)))
	}
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
		if !note.Balance.IsZero() {
			builder.WriteString(fmt.Sprintf("Balance: %s\n", note.Balance.StringFixed(2)))
		}
	}
	if note.OrderID != "" {
		builder.WriteString(fmt.Sprintf("Order: %s\n", note.OrderID))
	}
	if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Error: %s\n", note.Error))
	}
	if note.RecordErr != "" {
		builder.WriteString(fmt.Sprintf("Record not saved: %s\n", note.RecordErr))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
