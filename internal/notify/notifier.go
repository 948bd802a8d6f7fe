// Package notify delivers customer-facing turn notifications. Delivery
// is fire-and-forget: callers log failures and move on, a notification
// error never reaches the transaction that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Notifier sends a rendered message to a phone number.
type Notifier interface {
	Notify(ctx context.Context, phone, message string) error
}

// Nop discards notifications (notifications disabled, tests).
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

var ErrBreakerOpen = errors.New("notify: breaker open")

type TelegramConfig struct {
	BaseURL       string // https://api.telegram.org
	BotToken      string
	ChatID        string
	TimeoutMs     int
	FailThreshold int
	OpenForMs     int
}

// Telegram posts messages through the Bot API. All messages go to the
// configured chat, prefixed with the customer phone.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
	br      *breaker
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 3000
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.OpenForMs <= 0 {
		cfg.OpenForMs = 15000
	}

	return &Telegram{
		baseURL: cfg.BaseURL,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		br:      newBreaker(cfg.FailThreshold, time.Duration(cfg.OpenForMs)*time.Millisecond),
	}
}

var _ Notifier = (*Telegram)(nil)

func (t *Telegram) Notify(ctx context.Context, phone, message string) error {
	if !t.br.TryAcquire() {
		return ErrBreakerOpen
	}

	if err := t.send(ctx, phone, message); err != nil {
		t.br.OnFailure()
		return err
	}

	t.br.OnSuccess()
	return nil
}

func (t *Telegram) send(ctx context.Context, phone, message string) error {
	body := map[string]any{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("📱 <b>Cliente:</b> %s\n━━━━━━━━━━━━━━━━━━━━\n%s", phone, message),
		"parse_mode": "HTML",
	}
	b, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("telegram: status=%d", res.StatusCode)
	}
	return nil
}
