package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/config"
	"github.com/nextlevelbuilder/askgate/internal/dedupe"
	"github.com/nextlevelbuilder/askgate/internal/queue"
)

// maxBodyBytes bounds inbound webhook bodies.
const maxBodyBytes = 1 << 20

// RouteRegistrar registers additional routes (worker trigger, job history).
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server terminates the chat platform webhook. It verifies, deduplicates
// and enqueues within the acknowledgment window; it never blocks on job
// processing.
type Server struct {
	cfg       *config.Config
	dedup     dedupe.Store
	jobs      queue.Queue
	onEnqueue func() // fired after a successful enqueue; kicks the worker

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the webhook server. onEnqueue may be nil.
func NewServer(cfg *config.Config, dedup dedupe.Store, jobs queue.Queue, onEnqueue func()) *Server {
	return &Server{cfg: cfg, dedup: dedup, jobs: jobs, onEnqueue: onEnqueue}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux(extra ...RouteRegistrar) *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)

	for _, r := range extra {
		if r != nil {
			r.RegisterRoutes(mux)
		}
	}

	s.mux = mux
	return mux
}

// Start begins serving until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleEvents is the webhook entry point. Responses are issued before any
// processing happens: the platform redelivers on slow acknowledgments.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	sig := r.Header.Get("X-Slack-Signature")
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	if !VerifySignature(s.cfg.Slack.SigningSecret, body, sig, ts) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	// URL verification handshake bypasses dedup and queue entirely.
	if payload.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": payload.Challenge})
		return
	}

	ev := ExtractEvent(&payload, s.cfg.Slack.BotUserID)
	if ev == nil {
		// Malformed-but-signed or self-originated: retrying has no value,
		// so acknowledge and drop.
		slog.Debug("webhook event dropped", "type", payload.Type)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	accepted, job, err := Admit(r.Context(), s.dedup, ev, s.cfg.Stream.Enabled)
	if err != nil {
		// The dedup store is the admission authority; without it we cannot
		// bound replays, so drop rather than risk double processing.
		slog.Error("dedup store unavailable, event dropped", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if !accepted {
		slog.Info("duplicate event ignored", "channel", ev.ChannelID, "ts", ev.Timestamp)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := s.jobs.Enqueue(r.Context(), *job); err != nil {
		// Still acknowledge: blocking the handshake would trigger an
		// upstream redelivery storm. The job is lost and that is logged
		// as critical rather than propagated.
		slog.Error("CRITICAL: enqueue failed, job lost",
			"job", job.ID, "channel", job.ChannelID, "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	slog.Info("job enqueued", "job", job.ID, "channel", job.ChannelID, "user", job.UserID)

	if s.onEnqueue != nil {
		s.onEnqueue()
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.jobs.Depth(r.Context())
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "queue_depth": depth})
}

// StartTestServer creates a listener on :0 and returns the base URL and a
// start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context, extra ...RouteRegistrar) (addr string, start func()) {
	mux := s.BuildMux(extra...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
