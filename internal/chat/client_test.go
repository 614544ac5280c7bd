package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		MaxRetryAfter: 10 * time.Millisecond,
	}
}

func TestPostMessage(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "channel": "C01", "ts": "1700000000.000100",
		})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	h, err := c.PostMessage(context.Background(), "C01", "hello", "1699.0001")
	if err != nil {
		t.Fatal(err)
	}
	if !h.Valid() || h.Channel != "C01" || h.Ts != "1700000000.000100" {
		t.Errorf("handle = %+v", h)
	}
	if gotAuth != "Bearer xoxb-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPath != "/chat.postMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["thread_ts"] != "1699.0001" {
		t.Errorf("thread_ts = %v", gotBody["thread_ts"])
	}
}

func TestUpdateMessage_RequiresHandle(t *testing.T) {
	c := NewClient("xoxb-test")
	if err := c.UpdateMessage(context.Background(), MessageHandle{}, "text"); err == nil {
		t.Error("expected error for empty handle")
	}
}

func TestPostMessage_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C01", "ts": "1.2"})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	if _, err := c.PostMessage(context.Background(), "C01", "hello", ""); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("made %d calls, want 2", calls.Load())
	}
}

func TestAppErrorMapping(t *testing.T) {
	tests := []struct {
		apiErr     string
		wantStatus int
	}{
		{"ratelimited", http.StatusTooManyRequests},
		{"invalid_auth", http.StatusUnauthorized},
		{"token_revoked", http.StatusUnauthorized},
		{"channel_not_found", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.apiErr, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": tt.apiErr})
			}))
			defer srv.Close()

			cfg := fastRetry()
			cfg.MaxAttempts = 1
			c := NewClient("xoxb-test", WithBaseURL(srv.URL), WithRetryConfig(cfg))
			err := c.UpdateMessageOnce(context.Background(),
				MessageHandle{Channel: "C01", Ts: "1.2"}, "text")
			if err == nil {
				t.Fatal("expected error")
			}
			var httpErr *retry.HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("err = %T, want HTTPError", err)
			}
			if httpErr.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", httpErr.Status, tt.wantStatus)
			}
		})
	}
}

func TestUpdateMessageOnce_SurfacesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", WithBaseURL(srv.URL))
	err := c.UpdateMessageOnce(context.Background(),
		MessageHandle{Channel: "C01", Ts: "1.2"}, "text")

	var httpErr *retry.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.Status != 429 || httpErr.RetryAfter != 3*time.Second {
		t.Errorf("got status %d retry-after %v", httpErr.Status, httpErr.RetryAfter)
	}
}

func TestMessageHandleValid(t *testing.T) {
	if (MessageHandle{}).Valid() {
		t.Error("zero handle must be invalid")
	}
	if (MessageHandle{Channel: "C01"}).Valid() {
		t.Error("handle without ts must be invalid")
	}
	if !(MessageHandle{Channel: "C01", Ts: "1.2"}).Valid() {
		t.Error("complete handle must be valid")
	}
}
