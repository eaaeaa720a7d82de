package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newscast/internal/config"
)

const (
	userAgent        = "newscast/0.1"
	defaultNtfyHost  = "https://ntfy.sh/"
	maxMessageLength = 3500
)

// Event identifies a notification type.
type Event string

const (
	EventBatchStarted   Event = "batch_started"
	EventBatchCompleted Event = "batch_completed"
	EventArticleFailed  Event = "article_failed"
	EventVideoStale     Event = "video_stale"
	EventQuotaExceeded  Event = "quota_exceeded"
	EventTest           Event = "test"
)

// Payload carries event-specific values. Keys are documented per event in format.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a noop when no topic is configured.
// A bare topic name is published to ntfy.sh.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		topic = defaultNtfyHost + strings.TrimPrefix(topic, "/")
	}

	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventBatchStarted:   cfg.Notifications.BatchStarted,
			EventBatchCompleted: cfg.Notifications.BatchCompleted,
			EventArticleFailed:  cfg.Notifications.ArticleFailed,
			EventVideoStale:     cfg.Notifications.VideoStale,
			EventQuotaExceeded:  cfg.Notifications.QuotaExceeded,
			EventTest:           true,
		},
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
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventBatchStarted:
		return message{
			title: "newscast - Batch Started",
			body:  fmt.Sprintf("Started batch %s with %d articles", shortRun(payload.stringValue("runID")), payload.intValue("count")),
			tags:  []string{"newscast", "batch", "started"},
		}, true
	case EventBatchCompleted:
		title := "newscast - Batch Complete"
		failed := payload.intValue("failed")
		if failed > 0 {
			title = "newscast - Batch Complete (with failures)"
		}
		body := fmt.Sprintf("Batch %s: %d succeeded, %d failed, %d skipped in %s",
			shortRun(payload.stringValue("runID")), payload.intValue("succeeded"), failed, payload.intValue("skipped"), payload.durationValue("duration"))
		return message{title: title, body: body, tags: []string{"newscast", "batch", "completed"}}, true
	case EventArticleFailed:
		body := fmt.Sprintf("Article %s failed at %s: %s", payload.stringValue("fingerprint"), payload.stringValue("stage"), payload.stringValue("reason"))
		return message{
			title:    "newscast - Article Failed",
			body:     body,
			tags:     []string{"newscast", "error", "alert"},
			priority: "high",
		}, true
	case EventVideoStale:
		body := fmt.Sprintf("Video job %s for %s is still processing after the watch deadline; it will be re-polled",
			payload.stringValue("jobID"), payload.stringValue("fingerprint"))
		return message{title: "newscast - Video Stale", body: body, tags: []string{"newscast", "video", "stale"}}, true
	case EventQuotaExceeded:
		body := fmt.Sprintf("Quota exhausted for %s; the stage is paused until %s", payload.stringValue("stage"), payload.stringValue("until"))
		return message{
			title:    "newscast - Quota Exceeded",
			body:     body,
			tags:     []string{"newscast", "quota", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "newscast - Test",
			body:     "Notification system test",
			tags:     []string{"newscast", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	body := msg.body
	if len(body) > maxMessageLength {
		body = body[:maxMessageLength] + "…"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) stringValue(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) intValue(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (p Payload) durationValue(key string) string {
	d, _ := p[key].(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
