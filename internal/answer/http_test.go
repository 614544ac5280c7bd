package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/retry"
)

func testEngine(baseURL string) *HTTPEngine {
	e := NewHTTPEngine(baseURL, "test-key", 5*time.Second)
	e.retryCfg = retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		MaxRetryAfter: 10 * time.Millisecond,
	}
	return e
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/answers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth = %q", got)
		}
		var req answerRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		json.NewEncoder(w).Encode(answerResponse{Answer: "42"})
	}))
	defer srv.Close()

	got, err := testEngine(srv.URL).Generate(context.Background(), "meaning of life?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "42" {
		t.Errorf("answer = %q", got)
	}
}

func TestGenerate_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(answerResponse{Answer: "eventually"})
	}))
	defer srv.Close()

	got, err := testEngine(srv.URL).Generate(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if got != "eventually" || calls.Load() != 3 {
		t.Errorf("answer = %q after %d calls", got, calls.Load())
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Stream must request streaming")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"Hello\"}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"delta\":\", world\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var partials []string
	got, err := testEngine(srv.URL).Stream(context.Background(), "q", func(p string) {
		partials = append(partials, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello, world" {
		t.Errorf("accumulated = %q", got)
	}
	want := []string{"Hello", "Hello, world"}
	if len(partials) != len(want) {
		t.Fatalf("partials = %v", partials)
	}
	for i := range want {
		if partials[i] != want[i] {
			t.Errorf("partial[%d] = %q, want %q", i, partials[i], want[i])
		}
	}
}

func TestStream_MidStreamErrorReturnsAccumulated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"delta\":\"partial answer\"}\n\n")
		fmt.Fprint(w, "data: {\"error\":\"backend overloaded\"}\n\n")
	}))
	defer srv.Close()

	got, err := testEngine(srv.URL).Stream(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("expected mid-stream error")
	}
	if !strings.Contains(err.Error(), "backend overloaded") {
		t.Errorf("err = %v", err)
	}
	if got != "partial answer" {
		t.Errorf("accumulated = %q, want the partial kept", got)
	}
}

func TestStream_ConnectionFailureNotRetriedMidStream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "data: {\"delta\":\"ok\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	got, err := testEngine(srv.URL).Stream(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("accumulated = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("made %d connection attempts, want 2", calls.Load())
	}
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := testEngine(srv.URL).Generate(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("made %d calls, want 1", calls.Load())
	}
}
