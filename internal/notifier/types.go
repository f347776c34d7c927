package notifier

import (
	"context"
	"time"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled  bool
	Token    string
	ChatID   int64
	ThreadID int
	// Events lists the task event types to forward; empty means completed and
	// failed. "failed" and "task.failed" are equivalent.
	Events         []string
	RatePerSec     float64
	MaxResultChars int

	Workers       int
	QueueSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

// Target is a chat, optionally narrowed to a forum thread.
type Target struct {
	ChatID   int64
	ThreadID int
}

// Notification is one outgoing message. Key identifies it for dedup; an
// empty Key disables dedup.
type Notification struct {
	Key    string
	Target Target
	Text   string
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to Target, text string) error
}

// SenderFactory builds a Sender for cfg. It is called again when the token
// changes on reload.
type SenderFactory func(cfg Config) (Sender, error)

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// NotificationEvent is published on the bus for notifier lifecycle events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for /status.
type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Running bool          `json:"running"`
	Queued  int           `json:"queued"`
	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	Deduped uint64        `json:"deduped"`
	History []HistoryItem `json:"history,omitempty"`
}
