// Package refresh decides when the daemon may poll GitHub and runs the
// fetch, merge, persist and notify cycle.
//
// Guards run in a fixed order and any failing guard aborts the call:
//
//  1. concurrency: an automatic call is dropped while any check runs; manual
//     calls wait their turn
//  2. automatic rate limit (10s by default)
//  3. manual rate limit (4s by default)
//  4. session: without a password the user gets a forced error
//  5. interval: automatic calls need PollInterval since the last refresh
//
// Guard failures never consume a rate-limit slot.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/github"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/metrics"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/notify"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

// Errors reported for dropped calls. They are routine and not shown to the
// user.
var (
	ErrInFlight    = errors.New("a pull request check is already running")
	ErrRateLimited = errors.New("pull request checks requested too quickly")
	ErrTooSoon     = errors.New("poll interval has not elapsed")
)

// ErrUnexpected replaces a panic recovered from a run.
var ErrUnexpected = errors.New("unexpected error while checking pull requests")

const (
	MessageSessionExpired = "Session expired, sign in again"
	MessageTokenLocked    = "Stored GitHub token cannot be decrypted, sign in again"
	MessageUnexpected     = "Unexpected error while checking pull requests"
)

// Dropped reports whether err is a guard rejection rather than a failure.
func Dropped(err error) bool {
	return errors.Is(err, ErrInFlight) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTooSoon)
}

// Source fetches pull requests for one token.
type Source interface {
	Login(ctx context.Context) (string, error)
	Fetch(ctx context.Context, queries []string) ([]models.PullRequest, error)
}

// SourceFactory binds a Source to a decrypted token.
type SourceFactory func(token string) Source

// Session is the part of session.Manager the coordinator uses.
type Session interface {
	Password(ctx context.Context) (string, bool, error)
	BeginCheck() bool
	EndCheck()
	LastRefresh() time.Time
	MarkRefreshed(t time.Time)
	MarkNewPRNotification(t time.Time)
}

// Store is the part of securestore.Store the coordinator uses.
type Store interface {
	DecryptToken(ctx context.Context, password string) (string, bool, error)
	DecryptAppData(ctx context.Context, password string) (*models.AppData, error)
	UpdateAppData(ctx context.Context, password string, fn func(*models.AppData) error) (*models.AppData, error)
}

// HiddenIDs is the decoupled hidden-list store.
type HiddenIDs interface {
	IDs(ctx context.Context) (map[int64]struct{}, error)
}

// Publisher delivers broadcasts to connected clients. Delivery is best
// effort.
type Publisher interface {
	DataUpdated(ctx context.Context)
	ShowError(ctx context.Context, message string)
}

// Gate is the part of notify.Gate the coordinator uses.
type Gate interface {
	ShouldNotify(ctx context.Context, prevCount int, prevIDs map[int64]struct{}, currIDs []int64, isFirstRun bool) bool
	Notify(ctx context.Context, kind, message string, force bool) (bool, error)
}

type Options struct {
	AutoGap      time.Duration
	ManualGap    time.Duration
	PollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{AutoGap: 10 * time.Second, ManualGap: 4 * time.Second, PollInterval: 5 * time.Minute}
}

type Coordinator struct {
	session   Session
	store     Store
	hidden    HiddenIDs
	sources   SourceFactory
	gate      Gate
	badge     notify.Badge
	publisher Publisher
	metrics   metrics.Recorder
	clock     timex.Clock
	logger    logging.Logger
	opts      Options

	runMu       sync.Mutex
	autoLimit   *rate.Limiter
	manualLimit *rate.Limiter
}

type Deps struct {
	Session   Session
	Store     Store
	Hidden    HiddenIDs
	Sources   SourceFactory
	Gate      Gate
	Badge     notify.Badge
	Publisher Publisher
	Metrics   metrics.Recorder
	Clock     timex.Clock
	Logger    logging.Logger
}

func New(d Deps, opts Options) *Coordinator {
	if d.Metrics == nil {
		d.Metrics = metrics.NoOp{}
	}
	if d.Clock == nil {
		d.Clock = timex.RealClock()
	}
	return &Coordinator{
		session:     d.Session,
		store:       d.Store,
		hidden:      d.Hidden,
		sources:     d.Sources,
		gate:        d.Gate,
		badge:       d.Badge,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		clock:       d.Clock,
		logger:      d.Logger.With("module", "refresh"),
		opts:        opts,
		autoLimit:   rate.NewLimiter(rate.Every(opts.AutoGap), 1),
		manualLimit: rate.NewLimiter(rate.Every(opts.ManualGap), 1),
	}
}

// Request is one CheckPullRequests call.
type Request struct {
	Manual bool
	// CustomQuery overrides both the stored query and the defaults.
	CustomQuery string
}

func (r Request) trigger() string {
	if r.Manual {
		return "manual"
	}
	return "auto"
}

// CheckPullRequests applies the guards and, if they all pass, runs one
// refresh cycle. It returns nil after a successful run, a Dropped error when
// a guard rejected the call, and otherwise the failure that was already
// reported to the user.
func (c *Coordinator) CheckPullRequests(ctx context.Context, req Request) (err error) {
	arrived := c.clock.Now()
	trigger := req.trigger()

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error(ctx, "refresh panicked", "panic", p)
			c.publisher.ShowError(ctx, MessageUnexpected)
			c.metrics.RecordRefresh(ctx, trigger, "panic", c.clock.Now().Sub(arrived))
			err = ErrUnexpected
		}
	}()

	limiter := c.autoLimit
	if req.Manual {
		limiter = c.manualLimit
	}

	if req.Manual {
		if limiter.TokensAt(arrived) < 1 {
			return c.drop(ctx, trigger, "manual-rate", ErrRateLimited)
		}
		c.runMu.Lock()
	} else {
		if !c.runMu.TryLock() {
			return c.drop(ctx, trigger, "in-flight", ErrInFlight)
		}
		if limiter.TokensAt(arrived) < 1 {
			c.runMu.Unlock()
			return c.drop(ctx, trigger, "auto-rate", ErrRateLimited)
		}
	}
	defer c.runMu.Unlock()

	c.session.BeginCheck()
	defer c.session.EndCheck()

	password, ok, perr := c.session.Password(ctx)
	if perr != nil {
		c.logger.Error(ctx, "read session password", "error", perr)
	}
	if !ok {
		c.fail(ctx, MessageSessionExpired, notify.KindSessionExpired, true)
		c.metrics.RecordDropped(ctx, trigger, "session")
		return common.ErrSessionUnavailable
	}

	if !req.Manual {
		if last := c.session.LastRefresh(); !last.IsZero() && arrived.Sub(last) < c.opts.PollInterval {
			return c.drop(ctx, trigger, "interval", ErrTooSoon)
		}
	}

	// Every guard passed; only now does the call count against its limiter.
	if !limiter.AllowN(arrived, 1) {
		return c.drop(ctx, trigger, trigger+"-rate", ErrRateLimited)
	}
	c.session.MarkRefreshed(arrived)

	err = c.run(ctx, password, req)
	outcome := "success"
	if err != nil {
		outcome = c.report(ctx, err)
	}
	c.metrics.RecordRefresh(ctx, trigger, outcome, c.clock.Now().Sub(arrived))
	return err
}

// ReportSessionExpired tells the user once that the remembered session ran
// out, bypassing the notification preference and throttle.
func (c *Coordinator) ReportSessionExpired(ctx context.Context) {
	c.fail(ctx, MessageSessionExpired, notify.KindSessionExpired, true)
}

func (c *Coordinator) drop(ctx context.Context, trigger, guard string, err error) error {
	c.logger.Debug(ctx, "refresh dropped", "trigger", trigger, "guard", guard)
	c.metrics.RecordDropped(ctx, trigger, guard)
	return err
}

func (c *Coordinator) run(ctx context.Context, password string, req Request) error {
	token, ok, err := c.store.DecryptToken(ctx, password)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return common.ErrWrongPassword
	}
	src := c.sources(token)

	login, err := src.Login(ctx)
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}

	queries, err := c.queries(ctx, password, login, req.CustomQuery)
	if err != nil {
		return err
	}

	prs, err := src.Fetch(ctx, queries)
	if err != nil {
		return fmt.Errorf("fetch pull requests: %w", err)
	}
	prs = models.Dedupe(prs)

	badge := ""
	if len(prs) > 0 {
		badge = fmt.Sprint(len(prs))
	}
	if err := c.badge.SetBadge(ctx, badge); err != nil {
		c.logger.Warn(ctx, "set badge", "error", err)
	}
	c.metrics.RecordPullRequests(ctx, len(prs))

	hidden, err := c.hidden.IDs(ctx)
	if err != nil {
		return fmt.Errorf("load hidden pull requests: %w", err)
	}
	for i := range prs {
		_, prs[i].Hidden = hidden[prs[i].ID]
	}

	var (
		prevIDs   map[int64]struct{}
		prevCount int
		firstRun  bool
	)
	now := c.clock.Now()
	if _, err := c.store.UpdateAppData(ctx, password, func(d *models.AppData) error {
		prev := d.OldPullRequests
		if len(prev) == 0 {
			// A run that stopped before recording the previous set still
			// left the list it fetched.
			prev = d.PullRequests
		}
		prevIDs = models.IDSet(prev)
		prevCount = len(prev)
		firstRun = d.LastUpdated.IsZero() && prevCount == 0

		d.PullRequests = prs
		d.LastUpdated = now
		d.Login = login
		return nil
	}); err != nil {
		return fmt.Errorf("save app data: %w", err)
	}

	c.publisher.DataUpdated(ctx)

	currIDs := make([]int64, len(prs))
	for i, pr := range prs {
		currIDs[i] = pr.ID
	}
	if c.gate.ShouldNotify(ctx, prevCount, prevIDs, currIDs, firstRun) {
		fresh := notify.NewIDs(prevIDs, currIDs)
		sent, err := c.gate.Notify(ctx, notify.KindNewPullRequests, newPRMessage(len(fresh)), false)
		if err != nil {
			c.logger.Warn(ctx, "new pull request notification", "error", err)
		}
		if sent {
			c.session.MarkNewPRNotification(now)
		}
	}

	if _, err := c.store.UpdateAppData(ctx, password, func(d *models.AppData) error {
		d.OldPullRequests = prs
		return nil
	}); err != nil {
		return fmt.Errorf("save previous pull requests: %w", err)
	}

	c.logger.Info(ctx, "refresh finished", "count", len(prs), "manual", req.Manual)
	return nil
}

func (c *Coordinator) queries(ctx context.Context, password, login, override string) ([]string, error) {
	if override != "" {
		return []string{override}, nil
	}
	data, err := c.store.DecryptAppData(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("load app data: %w", err)
	}
	if data != nil && data.Preferences.CustomQuery != "" {
		return []string{data.Preferences.CustomQuery}, nil
	}
	return github.DefaultQueries(login), nil
}

// report turns a run failure into one message for the user and returns the
// outcome label for metrics.
func (c *Coordinator) report(ctx context.Context, err error) string {
	if errors.Is(err, common.ErrWrongPassword) {
		c.fail(ctx, MessageTokenLocked, notify.KindSessionExpired, true)
		return "locked"
	}

	kind, msg := github.Classify(err)
	c.logger.Warn(ctx, "refresh failed", "kind", kind, "error", err)
	c.fail(ctx, msg, notify.KindError, kind == github.KindUnauthorized)
	return string(kind)
}

func (c *Coordinator) fail(ctx context.Context, message, kind string, force bool) {
	c.publisher.ShowError(ctx, message)
	if _, err := c.gate.Notify(ctx, kind, message, force); err != nil {
		c.logger.Warn(ctx, "error notification", "error", err)
	}
}

func newPRMessage(n int) string {
	if n == 1 {
		return "1 new pull request"
	}
	return fmt.Sprintf("%d new pull requests", n)
}
