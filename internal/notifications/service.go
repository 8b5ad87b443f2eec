package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"outbox/internal/config"
)

const userAgent = "outbox/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventSyncFailing   Event = "sync_failing"
	EventSyncRecovered Event = "sync_recovered"
	EventTest          Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service publishes notifications for sync health changes.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil || !cfg.NotificationsEnabled() {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: cfg.Notifications.NtfyTopic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventSyncFailing:
		body := fmt.Sprintf("Sync failing after %d attempts", intValue(payload, "failures"))
		if pending := intValue(payload, "pending"); pending > 0 {
			body = fmt.Sprintf("%s, %d actions waiting", body, pending)
		}
		if detail := stringValue(payload, "error"); detail != "" {
			body = fmt.Sprintf("%s\n%s", body, detail)
		}
		return message{
			title:    "Outbox - Sync Failing",
			body:     body,
			tags:     []string{"outbox", "sync", "error"},
			priority: "high",
		}, true
	case EventSyncRecovered:
		body := fmt.Sprintf("Sync recovered: %d actions delivered", intValue(payload, "delivered"))
		if outage, ok := payload["outage"].(time.Duration); ok && outage > 0 {
			body = fmt.Sprintf("%s after %s", body, outage.Round(time.Second))
		}
		return message{
			title: "Outbox - Sync Recovered",
			body:  body,
			tags:  []string{"outbox", "sync", "recovered"},
		}, true
	case EventTest:
		return message{
			title:    "Outbox - Test",
			body:     "Notification system test",
			tags:     []string{"outbox", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func intValue(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func stringValue(payload Payload, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Enabled reports whether svc delivers anywhere.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}
