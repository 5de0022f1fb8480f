// Package background is the daemon core: it owns the session, the auth
// lifecycle and the refresh coordinator, handles client commands and fans
// broadcasts out to subscribers.
package background

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/alarm"
	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/github"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/metrics"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/notify"
	"github.com/dmitrijs2005/prwatch/internal/refresh"
	"github.com/dmitrijs2005/prwatch/internal/repositories/hidden"
	"github.com/dmitrijs2005/prwatch/internal/securestore"
	"github.com/dmitrijs2005/prwatch/internal/session"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

type Deps struct {
	Store    *securestore.Store
	Hidden   hidden.Repository
	Volatile session.VolatileStore
	GitHub   *github.Client
	// Notifier receives user-facing notifications in addition to the
	// NOTIFICATION broadcast. Optional.
	Notifier notify.Notifier
	// Badge receives the badge text. Optional.
	Badge   notify.Badge
	Metrics metrics.Recorder
	Clock   timex.Clock
	Logger  logging.Logger
}

type Options struct {
	Refresh        refresh.Options
	RememberWindow time.Duration
	NotifyThrottle time.Duration
}

func DefaultOptions() Options {
	return Options{
		Refresh:        refresh.DefaultOptions(),
		RememberWindow: session.DefaultRememberWindow,
		NotifyThrottle: notify.DefaultThrottle,
	}
}

type Service struct {
	store       *securestore.Store
	hidden      hidden.Repository
	session     *session.Manager
	lifecycle   *auth.Lifecycle
	coordinator *refresh.Coordinator
	gate        *notify.Gate
	alarms      *alarm.Scheduler
	badge       *notify.BadgeState
	hub         *Hub
	metrics     metrics.Recorder
	clock       timex.Clock
	logger      logging.Logger
	opts        Options
}

func New(d Deps, opts Options) *Service {
	if d.Metrics == nil {
		d.Metrics = metrics.NoOp{}
	}
	if d.Clock == nil {
		d.Clock = timex.RealClock()
	}
	logger := d.Logger

	s := &Service{
		store:   d.Store,
		hidden:  d.Hidden,
		alarms:  alarm.NewScheduler(d.Clock, logger),
		badge:   notify.NewBadgeState(d.Badge),
		hub:     NewHub(d.Clock),
		metrics: d.Metrics,
		clock:   d.Clock,
		logger:  logger.With("module", "background"),
		opts:    opts,
	}

	s.session = session.NewManager(d.Volatile, s.alarms, d.Clock, logger,
		session.WithRememberWindow(opts.RememberWindow),
		session.WithExpiryHook(s.sessionExpired),
	)
	s.lifecycle = auth.NewLifecycle(d.GitHub, d.Store, d.Store.Vault(), s.session, logger)
	s.lifecycle.OnChange(s.hub.AuthStateChanged)

	notifier := notify.Notifier(s.hub)
	if d.Notifier != nil {
		notifier = notify.Multi(d.Notifier, s.hub)
	}
	s.gate = notify.NewGate(notifier, d.Store, s.session, logger,
		notify.WithThrottle(opts.NotifyThrottle),
		notify.WithClock(d.Clock),
		notify.WithMetrics(d.Metrics),
	)

	s.coordinator = refresh.New(refresh.Deps{
		Session: s.session,
		Store:   d.Store,
		Hidden:  d.Hidden,
		Sources: func(token string) refresh.Source {
			return github.NewFetcher(d.GitHub.WithToken(token), logger)
		},
		Gate:      s.gate,
		Badge:     s.badge,
		Publisher: s.hub,
		Metrics:   d.Metrics,
		Clock:     d.Clock,
		Logger:    logger,
	}, opts.Refresh)

	return s
}

// Start restores a remembered session, resolves the auth state and arms the
// periodic check.
func (s *Service) Start(ctx context.Context) error {
	if err := s.session.Restore(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	state, err := s.lifecycle.State(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth state: %w", err)
	}

	every := s.opts.Refresh.PollInterval
	s.alarms.Create(alarm.CheckPRs, every, every, s.periodicCheck)

	s.logger.Info(ctx, "background service started", "state", state, "poll_interval", every)
	return nil
}

// Stop disarms every alarm, waits for running handlers and drops deferred
// notifications.
func (s *Service) Stop() {
	s.alarms.Stop()
	s.gate.Stop()
}

// Subscribe returns the broadcast stream and a function that ends it.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.hub.Subscribe()
}

// Handle runs the handler for cmd.
func (s *Service) Handle(ctx context.Context, cmd Command) (result any, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordCommand(ctx, string(cmd.Type()), status)
	}()

	switch c := cmd.(type) {
	case CheckPRs:
		return s.checkPRs(ctx, c)
	case SetPassword:
		return s.setPassword(ctx, c)
	case GetRememberedPassword:
		return s.getRememberedPassword(ctx)
	case ClearSession:
		return s.clearSession(ctx)
	case PopupOpened:
		return s.popupOpened(ctx)
	case GetAuthState:
		return s.authState(ctx)
	case SubmitToken:
		return s.ack(s.lifecycle.SubmitToken(ctx, c.Token))
	case SetupPassword:
		return s.ack(s.lifecycle.SetupPassword(ctx, c.Password, c.Confirm, c.Remember))
	case Unlock:
		return s.ack(s.lifecycle.Unlock(ctx, c.Password, c.Remember))
	case ChangePassword:
		return s.ack(s.lifecycle.ChangePassword(ctx, c.OldPassword, c.NewPassword, c.Confirm, c.Remember))
	case SignOut:
		return s.ack(s.lifecycle.SignOut(ctx))
	case Reset:
		return s.reset(ctx)
	case GetData:
		return s.getData(ctx, c)
	case UpdatePreferences:
		return s.updatePreferences(ctx, c)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (s *Service) ack(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

// checkPRs runs a refresh to completion even if the caller stops waiting.
// Guard rejections and reported failures come back as OK=false; the user
// already saw the failure through SHOW_ERROR. A password sent along must
// open the test vector, otherwise the running session is left alone.
func (s *Service) checkPRs(ctx context.Context, c CheckPRs) (any, error) {
	if c.Password != "" {
		if err := s.adoptPassword(ctx, c.Password, func() error {
			s.session.UsePassword(c.Password)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	err := s.coordinator.CheckPullRequests(context.WithoutCancel(ctx), refresh.Request{
		Manual:      c.Manual,
		CustomQuery: c.CustomQuery,
	})
	if err != nil {
		s.logger.Debug(ctx, "check pull requests", "manual", c.Manual, "error", err)
	}
	return Ack{OK: err == nil}, nil
}

// periodicCheck stays silent while nobody is signed in: there is no session
// to report as expired.
func (s *Service) periodicCheck(ctx context.Context) {
	state, err := s.lifecycle.State(ctx)
	if err != nil {
		s.logger.Warn(ctx, "periodic check: auth state", "error", err)
		return
	}
	if state != auth.StateAuthenticated {
		s.logger.Debug(ctx, "periodic check skipped", "state", state)
		s.metrics.RecordDropped(ctx, "auto", "signed-out")
		return
	}

	err = s.coordinator.CheckPullRequests(ctx, refresh.Request{})
	if err != nil && !refresh.Dropped(err) {
		s.logger.Warn(ctx, "periodic check failed", "error", err)
	}
}

// setPassword adopts a password the client already holds. It must open the
// test vector.
func (s *Service) setPassword(ctx context.Context, c SetPassword) (any, error) {
	if err := s.adoptPassword(ctx, c.Password, func() error {
		return s.session.SetPassword(ctx, c.Password, c.Remember)
	}); err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

// adoptPassword checks pw against the test vector, runs install and then
// re-resolves the auth state. A wrong password changes nothing.
func (s *Service) adoptPassword(ctx context.Context, pw string, install func() error) error {
	ok, err := s.store.Vault().ValidatePassword(ctx, pw)
	if err != nil {
		return fmt.Errorf("validate password: %w", err)
	}
	if !ok {
		return common.ErrWrongPassword
	}
	if err := install(); err != nil {
		return err
	}
	if _, err := s.lifecycle.Resolve(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Service) getRememberedPassword(ctx context.Context) (any, error) {
	pw, ok, err := s.session.Remembered(ctx)
	if err != nil {
		return nil, err
	}
	return RememberedPassword{HasRememberedPassword: ok, Password: pw}, nil
}

func (s *Service) clearSession(ctx context.Context) (any, error) {
	if err := s.session.Clear(ctx); err != nil {
		return nil, err
	}
	s.lifecycle.Lock(ctx)
	return Ack{OK: true}, nil
}

func (s *Service) popupOpened(ctx context.Context) (any, error) {
	if _, ok, err := s.session.Password(ctx); err != nil {
		return nil, err
	} else if ok {
		s.hub.DataUpdated(ctx)
	}
	return Ack{OK: true}, nil
}

func (s *Service) authState(ctx context.Context) (any, error) {
	state, err := s.lifecycle.State(ctx)
	if err != nil {
		return nil, err
	}
	return AuthState{State: state}, nil
}

func (s *Service) reset(ctx context.Context) (any, error) {
	if err := s.lifecycle.Reset(ctx); err != nil {
		return nil, err
	}
	if err := s.hidden.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear hidden pull requests: %w", err)
	}
	if err := s.badge.SetBadge(ctx, ""); err != nil {
		s.logger.Warn(ctx, "clear badge", "error", err)
	}
	return Ack{OK: true}, nil
}

func (s *Service) getData(ctx context.Context, c GetData) (any, error) {
	pw, ok, err := s.session.Password(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrSessionUnavailable
	}
	data, err := s.store.DecryptAppData(ctx, pw)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, securestore.ErrUndecryptable
	}
	firstRun, err := s.store.FirstRunNotify(ctx)
	if err != nil {
		return nil, err
	}

	prefs := data.Preferences
	return Data{
		PullRequests:   models.View(data.PullRequests, data.Login, prefs.Filter, prefs.SortOrder, c.ShowHidden),
		LastUpdated:    data.LastUpdated,
		Login:          data.Login,
		Preferences:    prefs,
		FirstRunNotify: firstRun,
		Badge:          s.badge.Text(),
	}, nil
}

func (s *Service) updatePreferences(ctx context.Context, c UpdatePreferences) (any, error) {
	pw, ok, err := s.session.Password(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrSessionUnavailable
	}
	if _, err := s.store.UpdateAppData(ctx, pw, func(d *models.AppData) error {
		d.Preferences.Apply(c.Preferences)
		return nil
	}); err != nil {
		return nil, err
	}
	if c.FirstRunNotify != nil {
		if err := s.store.SetFirstRunNotify(ctx, *c.FirstRunNotify); err != nil {
			return nil, err
		}
	}
	s.hub.DataUpdated(ctx)
	return Ack{OK: true}, nil
}

// sessionExpired locks the lifecycle and reports the expiry once. Periodic
// checks stay silent afterwards.
func (s *Service) sessionExpired(ctx context.Context) {
	s.lifecycle.Lock(ctx)
	s.coordinator.ReportSessionExpired(ctx)
}
