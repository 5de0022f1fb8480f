package cli

import (
	"context"

	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/background"
)

// watchEvents prints daemon broadcasts until the stream ends.
func (a *App) watchEvents(ctx context.Context, events <-chan background.Event) {
	for ev := range events {
		a.handleEvent(ctx, ev)
	}
	a.logger.Debug(ctx, "broadcast stream ended")
}

func (a *App) handleEvent(ctx context.Context, ev background.Event) {
	switch ev.Type {
	case background.EventShowError:
		a.mu.Lock()
		a.banner = ev.Message
		a.mu.Unlock()
		a.println(errorStyle.Render("! " + ev.Message))

	case background.EventNotification:
		a.println(noticeStyle.Render("● " + ev.Title + ": " + ev.Message))

	case background.EventAuthStateChanged:
		a.setState(auth.State(ev.State))
		a.println(mutedStyle.Render("state: " + ev.State))

	case background.EventDataUpdated:
		a.mu.Lock()
		a.banner = ""
		a.mu.Unlock()
		a.println(mutedStyle.Render("pull requests updated, type 'list' to see them"))

	default:
		a.logger.Debug(ctx, "unhandled broadcast", "type", ev.Type)
	}
}
