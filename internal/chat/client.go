package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/retry"
)

const defaultAPIBase = "https://slack.com/api"

// MessageHandle identifies an editable message: the channel it was posted to
// and the platform timestamp acting as the message ID. Created once per job
// and reused for every subsequent update.
type MessageHandle struct {
	Channel string `json:"channel"`
	Ts      string `json:"ts"`
}

// Valid reports whether the handle points at a real message.
func (h MessageHandle) Valid() bool { return h.Channel != "" && h.Ts != "" }

// Client posts and edits chat-platform messages. Every call goes through the
// retry wrapper; the per-channel ~1 msg/sec limit surfaces as HTTP 429 with a
// Retry-After header, which the wrapper honors.
type Client struct {
	token    string
	baseURL  string
	client   *http.Client
	retryCfg retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient creates a chat-platform API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:    token,
		baseURL:  defaultAPIBase,
		client:   &http.Client{Timeout: 15 * time.Second},
		retryCfg: retry.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PostMessage posts text to a channel, optionally inside a thread, and
// returns a handle for later in-place edits.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTs string) (MessageHandle, error) {
	body := map[string]interface{}{
		"channel": channel,
		"text":    text,
	}
	if threadTs != "" {
		body["thread_ts"] = threadTs
	}

	return retry.Do(ctx, c.retryCfg, func() (MessageHandle, error) {
		resp, err := c.call(ctx, "chat.postMessage", body)
		if err != nil {
			return MessageHandle{}, err
		}
		return MessageHandle{Channel: resp.Channel, Ts: resp.Ts}, nil
	})
}

// UpdateMessage replaces the text of a previously posted message in place.
func (c *Client) UpdateMessage(ctx context.Context, handle MessageHandle, text string) error {
	if !handle.Valid() {
		return fmt.Errorf("chat: update requires a valid message handle")
	}
	body := map[string]interface{}{
		"channel": handle.Channel,
		"ts":      handle.Ts,
		"text":    text,
	}

	_, err := retry.Do(ctx, c.retryCfg, func() (struct{}, error) {
		_, err := c.call(ctx, "chat.update", body)
		return struct{}{}, err
	})
	return err
}

// UpdateMessageOnce performs a single edit attempt with no retry loop.
// The streaming updater manages its own rate-limit waits and uses this
// to keep control of the budget.
func (c *Client) UpdateMessageOnce(ctx context.Context, handle MessageHandle, text string) error {
	if !handle.Valid() {
		return fmt.Errorf("chat: update requires a valid message handle")
	}
	_, err := c.call(ctx, "chat.update", map[string]interface{}{
		"channel": handle.Channel,
		"ts":      handle.Ts,
		"text":    text,
	})
	return err
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	Ts      string `json:"ts,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, body interface{}) (*apiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("chat.%s: %s", method, string(respBody)),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("chat: decode %s response: %w", method, err)
	}
	if !api.OK {
		// The platform reports application errors with HTTP 200.
		// Map them onto HTTPError so the retry wrapper can classify.
		status := http.StatusBadRequest
		switch api.Error {
		case "ratelimited", "rate_limited":
			status = http.StatusTooManyRequests
		case "invalid_auth", "token_revoked", "account_inactive", "not_authed":
			status = http.StatusUnauthorized
		}
		return nil, &retry.HTTPError{Status: status, Body: fmt.Sprintf("%s: %s", method, api.Error)}
	}

	return &api, nil
}
