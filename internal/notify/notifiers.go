package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/prwatch/internal/logging"
)

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// BadgeFunc adapts a function to Badge.
type BadgeFunc func(ctx context.Context, text string) error

func (f BadgeFunc) SetBadge(ctx context.Context, text string) error { return f(ctx, text) }

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger logging.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.Logger.Info(ctx, "notification", "kind", n.Kind, "message", n.Message)
	return nil
}

// Multi fans a notification out to every notifier and returns the first
// error.
func Multi(ns ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, n Notification) error {
		var first error
		for _, x := range ns {
			if err := x.Notify(ctx, n); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// BadgeState remembers the last badge text.
type BadgeState struct {
	mu   sync.Mutex
	text string
	next Badge
}

// NewBadgeState returns a Badge that records the text and forwards it to
// next, which may be nil.
func NewBadgeState(next Badge) *BadgeState {
	return &BadgeState{next: next}
}

func (b *BadgeState) SetBadge(ctx context.Context, text string) error {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
	if b.next != nil {
		return b.next.SetBadge(ctx, text)
	}
	return nil
}

func (b *BadgeState) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}
