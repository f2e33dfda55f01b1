package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"storyreel/internal/config"
)

const userAgent = "storyreel/0.1"

// Event identifies a notification type.
type Event string

const (
	EventStoryQueued    Event = "story_queued"
	EventStoryCompleted Event = "story_completed"
	EventStoryFailed    Event = "story_failed"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventTest           Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	return &ntfyService{
		endpoint:  topic,
		client:    client,
		completed: cfg.Notifications.Completed,
		failed:    cfg.Notifications.Failed,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *resty.Client
	completed bool
	failed    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	title := payloadString(payload, "title")
	switch event {
	case EventStoryCompleted:
		if !n.completed {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Story ready: %s", title)
		if archive := payloadString(payload, "archive"); archive != "" {
			body += "\nArchive: " + archive
		}
		if degraded := payloadInt(payload, "degraded"); degraded > 0 {
			body += fmt.Sprintf("\n⚠️ %d scene(s) degraded", degraded)
		}
		return message{
			title: "storyreel - Complete",
			body:  body,
			tags:  []string{"storyreel", "story", "completed"},
		}, true
	case EventStoryFailed:
		if !n.failed {
			return message{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ Story failed")
		if title != "" {
			builder.WriteString(": ")
			builder.WriteString(title)
		}
		if step := payloadString(payload, "step"); step != "" {
			builder.WriteString(" at ")
			builder.WriteString(step)
		}
		if errText := payloadString(payload, "error"); errText != "" {
			builder.WriteString("\n")
			builder.WriteString(errText)
		}
		return message{
			title:    "storyreel - Error",
			body:     builder.String(),
			tags:     []string{"storyreel", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "storyreel - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"storyreel", "test"},
			priority: "low",
		}, true
	default:
		// Queued and queue lifecycle events are log-only.
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(msg.body)
	if msg.title != "" {
		req.SetHeader("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.SetHeader("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.SetHeader("Priority", msg.priority)
	}

	resp, err := req.Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode(), strings.TrimSpace(truncate(resp.String(), 2048)))
	}
	return nil
}

func payloadString(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
