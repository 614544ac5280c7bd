package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/askgate/internal/dedupe"
	"github.com/nextlevelbuilder/askgate/internal/queue"
)

// maxTimestampSkew rejects replayed requests older than this.
const maxTimestampSkew = 300 * time.Second

// InboundEvent is the normalized form of a webhook payload. Ephemeral:
// consumed immediately into a Job or dropped.
type InboundEvent struct {
	Type      string
	ChannelID string
	UserID    string
	Text      string
	ThreadTs  string
	Timestamp string
	EventID   string
}

// VerifySignature checks the keyed hash over "v0:<timestamp>:<body>" using
// a timing-safe comparison, and rejects timestamps older than 300s.
// The comparison runs regardless of the timestamp check outcome so the
// function's timing does not reveal which check failed.
func VerifySignature(secret string, rawBody []byte, signature, timestamp string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(rawBody)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	sigOK := hmac.Equal([]byte(expected), []byte(signature))

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	tsOK := err == nil && absDuration(time.Since(time.Unix(ts, 0))) <= maxTimestampSkew

	return sigOK && tsOK
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// webhook payload shapes

type webhookPayload struct {
	Type      string        `json:"type"`
	Challenge string        `json:"challenge,omitempty"`
	EventID   string        `json:"event_id,omitempty"`
	Event     *callbackItem `json:"event,omitempty"`

	// command-style payloads carry these at the top level
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
}

type callbackItem struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	Ts       string `json:"ts"`
	ThreadTs string `json:"thread_ts,omitempty"`
	EventTs  string `json:"event_ts,omitempty"`
}

// ExtractEvent converts a parsed payload into an InboundEvent, or nil when
// the payload carries nothing to process (bot echo, unsupported subtype,
// missing required fields). botUserID strips the bot's own mention token
// from message text; bot-originated messages are rejected to prevent loops.
func ExtractEvent(p *webhookPayload, botUserID string) *InboundEvent {
	switch p.Type {
	case "event_callback":
		ev := p.Event
		if ev == nil {
			return nil
		}
		if ev.Type != "app_mention" && ev.Type != "message" {
			return nil
		}
		// Loop prevention: never process our own or any bot's messages,
		// nor edits/joins/etc.
		if ev.BotID != "" || ev.Subtype != "" || ev.User == botUserID {
			return nil
		}
		if ev.Channel == "" || ev.User == "" {
			return nil
		}
		text := StripMention(ev.Text, botUserID)
		if text == "" {
			return nil
		}
		ts := ev.EventTs
		if ts == "" {
			ts = ev.Ts
		}
		return &InboundEvent{
			Type:      ev.Type,
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      text,
			ThreadTs:  ev.ThreadTs,
			Timestamp: ts,
			EventID:   p.EventID,
		}

	case "command":
		if p.ChannelID == "" || strings.TrimSpace(p.Text) == "" {
			return nil
		}
		// Commands carry no event_id; the trigger id is the per-invocation
		// identity, so a redelivered command dedups against it.
		eventID := p.EventID
		if eventID == "" {
			eventID = p.TriggerID
		}
		return &InboundEvent{
			Type:      "command",
			ChannelID: p.ChannelID,
			UserID:    p.UserID,
			Text:      strings.TrimSpace(p.Text),
			Timestamp: fmt.Sprintf("%d", time.Now().Unix()),
			EventID:   eventID,
		}
	}

	return nil
}

// StripMention removes the bot's self-mention token ("<@UXXXX>") from text.
func StripMention(text, botUserID string) string {
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	}
	return strings.TrimSpace(text)
}

// Admit runs the event through dedup admission and, on a miss, derives the
// Job to enqueue. A hit returns (false, nil, nil): accepted-but-ignored.
func Admit(ctx context.Context, store dedupe.Store, ev *InboundEvent, streaming bool) (bool, *queue.Job, error) {
	key := dedupe.EventKey(ev.EventID, ev.Timestamp, ev.ChannelID)
	ok, err := store.Admit(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}

	return true, &queue.Job{
		ID:           uuid.NewString(),
		ChannelID:    ev.ChannelID,
		UserID:       ev.UserID,
		QuestionText: ev.Text,
		ThreadTs:     ev.ThreadTs,
		EventTs:      ev.Timestamp,
		Streaming:    streaming,
	}, nil
}
