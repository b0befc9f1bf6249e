// Package notify delivers best-effort Telegram messages about task lifecycle
// events. Delivery failures are logged and never interrupt processing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier is the minimal contract the pipeline needs.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Telegram posts messages to a single chat through the Bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	logger *slog.Logger

	// endpoint is overridable for tests.
	endpoint string
}

func NewTelegram(token, chatID string, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:    token,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		endpoint: "https://api.telegram.org",
	}
}

// Enabled reports whether credentials are configured. A disabled notifier
// silently drops messages.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// Notify sends text to the configured chat. Errors are swallowed after
// logging so a Telegram outage cannot fail a task.
func (t *Telegram) Notify(ctx context.Context, text string) {
	if !t.Enabled() || text == "" {
		return
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		t.logger.Warn("telegram payload encode failed", "error", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.endpoint, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("telegram request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("telegram notification failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram notification rejected", "status", resp.StatusCode)
	}
}

// Noop drops every message. Used when Telegram is not configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}
