package narration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyreel/internal/services"
)

func TestRemoteUsesDurationHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "nova" || body["input"] != "Hello there." {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set(DurationHeader, "2.5")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer server.Close()

	client := NewRemote(Config{APIKey: "key", BaseURL: server.URL})
	defer client.Close()
	got, err := client.GenerateNarration(context.Background(), Request{Text: "Hello there.", VoiceID: "nova", Language: "en"})
	if err != nil {
		t.Fatalf("GenerateNarration: %v", err)
	}
	if string(got.Audio) != "ID3audio" || got.Duration != 2500*time.Millisecond {
		t.Fatalf("unexpected narration %+v", got)
	}
}

func TestLocalEstimatesDuration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("local variant should not send auth")
		}
		_, _ = w.Write([]byte("RIFFwave"))
	}))
	defer server.Close()

	client := NewLocal(Config{APIKey: "ignored", BaseURL: server.URL, WordsPerMinute: 60})
	defer client.Close()
	got, err := client.GenerateNarration(context.Background(), Request{Text: "one two three four", VoiceID: "v1"})
	if err != nil {
		t.Fatalf("GenerateNarration: %v", err)
	}
	if got.Duration != 4*time.Second {
		t.Fatalf("expected 4s estimate, got %s", got.Duration)
	}
}

func TestMissingVoiceIsConfigurationError(t *testing.T) {
	client := NewRemote(Config{BaseURL: "http://127.0.0.1:1"})
	defer client.Close()
	_, err := client.GenerateNarration(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStatusErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewRemote(Config{BaseURL: server.URL})
	defer client.Close()
	_, err := client.GenerateNarration(context.Background(), Request{Text: "hi", VoiceID: "v"})
	var statusErr *services.StatusError
	if !errors.As(err, &statusErr) || statusErr.RetryAfter != time.Second {
		t.Fatalf("expected 429 with retry-after, got %v", err)
	}
}
