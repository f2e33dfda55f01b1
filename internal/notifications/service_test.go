package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/notifications"
)

type ntfyPost struct {
	title, tags, priority, body string
}

// ntfyTopic serves a fake topic and returns the config pointing at it with
// a channel of received posts.
func ntfyTopic(t *testing.T, status int) (*config.Config, <-chan ntfyPost) {
	t.Helper()
	posts := make(chan ntfyPost, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts <- ntfyPost{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	return &cfg, posts
}

func TestPublishWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventStoryFailed, notifications.Payload{"title": "x"})
	if err != nil {
		t.Fatalf("noop service returned %v", err)
	}
}

func TestPublishRendersStoryEvents(t *testing.T) {
	cases := map[notifications.Event]struct {
		payload notifications.Payload
		want    ntfyPost
	}{
		notifications.EventStoryCompleted: {
			payload: notifications.Payload{"title": "The Lighthouse", "archive": "/out/story-1.zip", "degraded": 2},
			want: ntfyPost{
				title: "storyreel - Complete",
				tags:  "storyreel,story,completed",
				body:  "✅ Story ready: The Lighthouse\nArchive: /out/story-1.zip\n⚠️ 2 scene(s) degraded",
			},
		},
		notifications.EventStoryFailed: {
			payload: notifications.Payload{"title": "The Lighthouse", "step": "translate", "error": errors.New("retries exhausted")},
			want: ntfyPost{
				title:    "storyreel - Error",
				tags:     "storyreel,error,alert",
				priority: "high",
				body:     "❌ Story failed: The Lighthouse at translate\nretries exhausted",
			},
		},
		notifications.EventTest: {
			want: ntfyPost{
				title:    "storyreel - Test",
				tags:     "storyreel,test",
				priority: "low",
				body:     "🧪 Notification system test",
			},
		},
	}
	for event, tc := range cases {
		t.Run(string(event), func(t *testing.T) {
			cfg, posts := ntfyTopic(t, http.StatusOK)
			if err := notifications.NewService(cfg).Publish(context.Background(), event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if got := <-posts; got != tc.want {
				t.Fatalf("posted %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPublishSkipsLogOnlyAndDisabledEvents(t *testing.T) {
	cfg, posts := ntfyTopic(t, http.StatusOK)
	cfg.Notifications.Completed = false
	svc := notifications.NewService(cfg)
	for _, event := range []notifications.Event{
		notifications.EventStoryQueued,
		notifications.EventStoryCompleted,
		notifications.EventQueueStarted,
		notifications.EventQueueCompleted,
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"title": "quiet"}); err != nil {
			t.Fatalf("%s: %v", event, err)
		}
	}
	select {
	case post := <-posts:
		t.Fatalf("unexpected post %+v", post)
	default:
	}
}

func TestPublishSurfacesRejectedPosts(t *testing.T) {
	cfg, _ := ntfyTopic(t, http.StatusForbidden)
	if err := notifications.NewService(cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
