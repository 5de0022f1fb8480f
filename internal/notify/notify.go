// Package notify decides whether a user-facing notification should be shown
// and hands the survivors to a Notifier.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/metrics"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

// Notification kinds. Each kind has its own throttle.
const (
	KindNewPullRequests = "New Pull Requests"
	KindSessionExpired  = "Session Expired"
	KindError           = "Error"
)

const DefaultThrottle = 30 * time.Second

// Notification is what a Notifier displays.
type Notification struct {
	Kind    string
	Title   string
	Message string
	Time    time.Time
}

// Notifier displays notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Badge shows a short text next to the application, usually a count.
type Badge interface {
	SetBadge(ctx context.Context, text string) error
}

// PasswordSource yields the current session password, if any.
type PasswordSource interface {
	Password(ctx context.Context) (string, bool, error)
}

// PreferenceStore reads the preferences the gate depends on.
type PreferenceStore interface {
	DecryptAppData(ctx context.Context, password string) (*models.AppData, error)
	FirstRunNotify(ctx context.Context) (bool, error)
}

type Gate struct {
	notifier Notifier
	prefs    PreferenceStore
	session  PasswordSource
	clock    timex.Clock
	metrics  metrics.Recorder
	logger   logging.Logger
	throttle time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	// pending holds, per kind, the latest notification that arrived while
	// the throttle window was closed.
	pending map[string]*deferred
}

type deferred struct {
	message string
	timer   timex.Timer
}

type Option func(*Gate)

func WithThrottle(d time.Duration) Option {
	return func(g *Gate) { g.throttle = d }
}

func WithClock(c timex.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = m }
}

func NewGate(notifier Notifier, prefs PreferenceStore, session PasswordSource, logger logging.Logger, opts ...Option) *Gate {
	g := &Gate{
		notifier: notifier,
		prefs:    prefs,
		session:  session,
		clock:    timex.RealClock(),
		metrics:  metrics.NoOp{},
		logger:   logger.With("module", "notify"),
		throttle: DefaultThrottle,
		limiters: make(map[string]*rate.Limiter),
		pending:  make(map[string]*deferred),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NewIDs returns the ids in curr that are not in prev, in curr's order.
func NewIDs(prev map[int64]struct{}, curr []int64) []int64 {
	var out []int64
	for _, id := range curr {
		if _, ok := prev[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ShouldNotify reports whether the change from prevIDs to currIDs deserves a
// "new pull requests" notification. A first run (nothing recorded before)
// only notifies when the user opted in.
func (g *Gate) ShouldNotify(ctx context.Context, prevCount int, prevIDs map[int64]struct{}, currIDs []int64, isFirstRun bool) bool {
	if len(NewIDs(prevIDs, currIDs)) == 0 {
		return false
	}
	if !isFirstRun || prevCount > 0 {
		return true
	}

	optIn, err := g.prefs.FirstRunNotify(ctx)
	if err != nil {
		g.logger.Warn(ctx, "read first-run preference", "error", err)
		return false
	}
	return optIn
}

// Notify shows a notification unless the user disabled notifications. Inside
// the kind's throttle window the notification is deferred to the end of the
// window; further ones arriving meanwhile replace it, so a burst collapses
// into its most recent message. force skips both checks. It reports whether
// the notification was handed to the Notifier now.
func (g *Gate) Notify(ctx context.Context, kind, message string, force bool) (bool, error) {
	now := g.clock.Now()

	if !force {
		if !g.enabled(ctx) {
			g.metrics.RecordNotification(ctx, kind, "disabled")
			return false, nil
		}
		if g.throttled(ctx, kind, message, now) {
			g.logger.Debug(ctx, "notification throttled", "kind", kind)
			g.metrics.RecordNotification(ctx, kind, "throttled")
			return false, nil
		}
	}

	if err := g.send(ctx, kind, message, now); err != nil {
		return false, err
	}
	return true, nil
}

// Stop drops the deferred notifications.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, d := range g.pending {
		d.timer.Stop()
		delete(g.pending, kind)
	}
}

// throttled reports true when the notification was queued instead of
// allowed through.
func (g *Gate) throttled(ctx context.Context, kind, message string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d, ok := g.pending[kind]; ok {
		d.message = message
		return true
	}

	delay := g.limiterLocked(kind).ReserveN(now, 1).DelayFrom(now)
	if delay <= 0 {
		return false
	}
	flushCtx := context.WithoutCancel(ctx)
	g.pending[kind] = &deferred{
		message: message,
		timer:   g.clock.AfterFunc(delay, func() { g.flush(flushCtx, kind) }),
	}
	return true
}

// flush delivers the deferred notification of kind, if it is still wanted.
func (g *Gate) flush(ctx context.Context, kind string) {
	g.mu.Lock()
	d, ok := g.pending[kind]
	delete(g.pending, kind)
	g.mu.Unlock()
	if !ok {
		return
	}

	if !g.enabled(ctx) {
		g.metrics.RecordNotification(ctx, kind, "disabled")
		return
	}
	if err := g.send(ctx, kind, d.message, g.clock.Now()); err != nil {
		g.logger.Warn(ctx, "deferred notification", "kind", kind, "error", err)
	}
}

func (g *Gate) send(ctx context.Context, kind, message string, at time.Time) error {
	n := Notification{Kind: kind, Title: kind, Message: message, Time: at}
	if err := g.notifier.Notify(ctx, n); err != nil {
		g.metrics.RecordNotification(ctx, kind, "error")
		return fmt.Errorf("notify %s: %w", kind, err)
	}
	g.metrics.RecordNotification(ctx, kind, "sent")
	return nil
}

// enabled reads the notifications preference. It fails open: without a
// session or readable document notifications stay on.
func (g *Gate) enabled(ctx context.Context) bool {
	pw, ok, err := g.session.Password(ctx)
	if err != nil || !ok {
		return true
	}
	data, err := g.prefs.DecryptAppData(ctx, pw)
	if err != nil || data == nil {
		return true
	}
	return data.Preferences.NotificationsOn()
}

func (g *Gate) limiterLocked(kind string) *rate.Limiter {
	l, ok := g.limiters[kind]
	if !ok {
		l = rate.NewLimiter(rate.Every(g.throttle), 1)
		g.limiters[kind] = l
	}
	return l
}
