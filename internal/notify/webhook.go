// Package notify delivers dispatched summaries through Discord webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"coursewatch/internal/event"
	"coursewatch/internal/ports"
)

// Webhook posts summaries to per-channel webhook URLs.
type Webhook struct {
	webhooks map[string]string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.Notifier = (*Webhook)(nil)

// NewWebhook maps channel ids to webhook URLs. A nil client gets a short
// timeout suited for fire-and-forget delivery.
func NewWebhook(webhooks map[string]string, client *http.Client, logger *slog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Webhook{webhooks: webhooks, client: client, logger: logger}
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Send posts the dispatch text plus one embed per summary item. Channels
// without a configured webhook are logged and dropped, not errors.
func (w *Webhook) Send(ctx context.Context, d event.Dispatch) error {
	url, ok := w.webhooks[d.ChannelID]
	if !ok || url == "" {
		w.logger.Warn("no webhook configured for channel", "channel", d.ChannelID, "dispatch", d.ID)
		return nil
	}

	embeds := make([]embed, 0, len(d.Summary.Items))
	for _, item := range d.Summary.Items {
		e := embed{
			Title:       item.Assignment.Name,
			Description: item.Course.Name,
			URL:         item.Assignment.URL,
		}
		if g := item.Assignment.Grade; g != nil {
			e.Description = fmt.Sprintf("%s: %.0f / %.0f (%.2f%%)", item.Course.Name, g.Score, g.Possible, g.Percent)
		}
		embeds = append(embeds, e)
	}

	body, err := json.Marshal(map[string]any{
		"content": d.Text,
		"embeds":  embeds,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook error: %s", resp.Status)
	}
	return nil
}
