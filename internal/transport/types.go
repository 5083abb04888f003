// Package transport abstracts the chat platform that alerts are delivered to.
package transport

import "context"

// Target addresses a chat (group or user) and optional forum thread.
type Target struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions tweak a single delivery.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Messenger delivers formatted alert text. Implementations are expected to
// rate limit and to return an error only after their own bounded retries are
// exhausted; the delivery engine treats any error as a transient per-candidate
// failure and moves on.
type Messenger interface {
	SendText(ctx context.Context, to Target, text string, opt *SendOptions) (MessageRef, error)
}
