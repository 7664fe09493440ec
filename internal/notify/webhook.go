// Package notify delivers listing change events to external systems.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kilupskalvis/listings/internal/listing"
)

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs []string
	// MaxRetries bounds redelivery after a network error or 5xx. Default 2.
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries. Default 1s.
	Backoff time.Duration
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if len(cfg.URLs) == 0 {
		return nil
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify posts the event to every URL in the background.
func (wn *WebhookNotifier) Notify(_ context.Context, e listing.Event) {
	if wn == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.send(e.Type, data)
	}()
}

// Close waits for deliveries still in flight.
func (wn *WebhookNotifier) Close() error {
	if wn == nil {
		return nil
	}
	wn.wg.Wait()
	return nil
}

func (wn *WebhookNotifier) send(typ listing.EventType, data []byte) {
	for _, url := range wn.config.URLs {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "event", typ, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", typ)
		}
	}
}

// post sends a single webhook POST, retrying network errors and 5xx.
func (wn *WebhookNotifier) post(url string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt <= wn.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * wn.config.Backoff)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "listings/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
	}

	return lastErr
}
