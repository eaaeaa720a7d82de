package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"newscast/internal/config"
	"newscast/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventArticleFailed, notifications.Payload{"fingerprint": "t:x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "batch started",
			event:         notifications.EventBatchStarted,
			payload:       notifications.Payload{"runID": "0123456789abcdef", "count": 3},
			expectTitle:   "newscast - Batch Started",
			expectMessage: "Started batch 01234567 with 3 articles",
			expectTags:    "newscast,batch,started",
		},
		{
			name:  "batch completed with failures",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"runID": "run", "succeeded": 2, "failed": 1, "skipped": 0, "duration": 90 * time.Second,
			},
			expectTitle:   "newscast - Batch Complete (with failures)",
			expectMessage: "Batch run: 2 succeeded, 1 failed, 0 skipped in 1m30s",
			expectTags:    "newscast,batch,completed",
		},
		{
			name:           "article failed",
			event:          notifications.EventArticleFailed,
			payload:        notifications.Payload{"fingerprint": "u:abc", "stage": "scripted", "reason": "refused"},
			expectTitle:    "newscast - Article Failed",
			expectMessage:  "Article u:abc failed at scripted: refused",
			expectTags:     "newscast,error,alert",
			expectPriority: "high",
		},
		{
			name:          "video stale",
			event:         notifications.EventVideoStale,
			payload:       notifications.Payload{"fingerprint": "u:abc", "jobID": "job-1"},
			expectTitle:   "newscast - Video Stale",
			expectMessage: "Video job job-1 for u:abc is still processing after the watch deadline; it will be re-polled",
			expectTags:    "newscast,video,stale",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.BatchStarted = false
	cfg.Notifications.QuotaExceeded = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventBatchStarted, notifications.EventQuotaExceeded, "unknown"} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
