// Package session owns the daemon's unlocked-session state: the in-memory
// password, the remember flag and the refresh bookkeeping the coordinator
// needs. The password reaches disk only through a VolatileStore, and only
// while remember is set and the remember window has not elapsed.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/alarm"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

const DefaultRememberWindow = 12 * time.Hour

// State is a copy of the session as seen at one instant.
type State struct {
	Password              string    `json:"-"`
	Remember              bool      `json:"remember"`
	LastRefresh           time.Time `json:"lastRefresh,omitzero"`
	CheckingPRs           bool      `json:"checkingPRs"`
	LastNewPRNotification time.Time `json:"lastNewPRNotification,omitzero"`
}

// Unlocked reports whether a password is held in memory.
func (s State) Unlocked() bool { return s.Password != "" }

type Manager struct {
	mu    sync.Mutex
	state State

	store  VolatileStore
	alarms *alarm.Scheduler
	clock  timex.Clock
	logger logging.Logger

	window   time.Duration
	onExpire func(ctx context.Context)
}

type Option func(*Manager)

// WithRememberWindow overrides DefaultRememberWindow.
func WithRememberWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

// WithExpiryHook registers f to run after the remember window elapses and
// the session has been cleared.
func WithExpiryHook(f func(ctx context.Context)) Option {
	return func(m *Manager) { m.onExpire = f }
}

func NewManager(store VolatileStore, alarms *alarm.Scheduler, clock timex.Clock, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		alarms: alarms,
		clock:  clock,
		logger: logger.With("module", "session"),
		window: DefaultRememberWindow,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore loads a remembered password at process start. Expired records are
// deleted; a live one re-arms the expiry alarm for the remaining time.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.adoptRememberedLocked(ctx)
	return err
}

// SetPassword records the password for this process. With remember set the
// password is also written to the volatile store and expires after the
// remember window. A live record for the same password is left as is, so
// the window never slides.
func (m *Manager) SetPassword(ctx context.Context, password string, remember bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Password = password
	m.state.Remember = remember

	if !remember {
		m.alarms.Clear(alarm.SessionExpiry)
		if err := m.store.Clear(); err != nil {
			return fmt.Errorf("clear remembered session: %w", err)
		}
		return nil
	}

	now := m.clock.Now()
	r, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load remembered session: %w", err)
	}
	if r != nil && r.Valid(now) && r.Password == password {
		// Re-remembering the same password keeps the original deadline.
		m.armExpiryLocked(r.ExpiresAt.Sub(now))
		return nil
	}

	expiresAt := now.Add(m.window)
	if err := m.store.Save(Remembered{Password: password, Remember: true, ExpiresAt: expiresAt}); err != nil {
		return fmt.Errorf("save remembered session: %w", err)
	}
	m.armExpiryLocked(m.window)
	m.logger.Info(ctx, "session remembered", "expires_at", expiresAt)
	return nil
}

// UsePassword adopts password for this process without touching the
// volatile store or the remember flag.
func (m *Manager) UsePassword(password string) {
	m.mu.Lock()
	m.state.Password = password
	m.mu.Unlock()
}

// Password returns the session password, falling back to the volatile store
// when memory is empty.
func (m *Manager) Password(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Password != "" {
		return m.state.Password, true, nil
	}
	ok, err := m.adoptRememberedLocked(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return m.state.Password, true, nil
}

// Remembered returns the password only if it is held under the remember
// flag and the window is still open.
func (m *Manager) Remembered(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Password == "" {
		if _, err := m.adoptRememberedLocked(ctx); err != nil {
			return "", false, err
		}
	}
	if !m.state.Remember || m.state.Password == "" {
		return "", false, nil
	}
	return m.state.Password, true, nil
}

// Expire is the expiry alarm's handler.
func (m *Manager) Expire(ctx context.Context) {
	if err := m.Clear(ctx); err != nil {
		m.logger.Error(ctx, "failed to clear expired session", "error", err)
	}
	m.logger.Info(ctx, "remembered session expired")
	if m.onExpire != nil {
		m.onExpire(ctx)
	}
}

// Clear forgets the password in memory and in the volatile store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Password = ""
	m.state.Remember = false
	m.alarms.Clear(alarm.SessionExpiry)
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clear remembered session: %w", err)
	}
	return nil
}

// BeginCheck marks a refresh as in flight. It returns false if one already is.
func (m *Manager) BeginCheck() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.CheckingPRs {
		return false
	}
	m.state.CheckingPRs = true
	return true
}

func (m *Manager) EndCheck() {
	m.mu.Lock()
	m.state.CheckingPRs = false
	m.mu.Unlock()
}

func (m *Manager) CheckInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CheckingPRs
}

func (m *Manager) LastRefresh() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastRefresh
}

func (m *Manager) MarkRefreshed(t time.Time) {
	m.mu.Lock()
	m.state.LastRefresh = t
	m.mu.Unlock()
}

func (m *Manager) LastNewPRNotification() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastNewPRNotification
}

func (m *Manager) MarkNewPRNotification(t time.Time) {
	m.mu.Lock()
	m.state.LastNewPRNotification = t
	m.mu.Unlock()
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) adoptRememberedLocked(ctx context.Context) (bool, error) {
	r, err := m.store.Load()
	if err != nil {
		return false, fmt.Errorf("load remembered session: %w", err)
	}
	if r == nil {
		return false, nil
	}

	now := m.clock.Now()
	if !r.Valid(now) {
		m.logger.Info(ctx, "discarding stale remembered session")
		if err := m.store.Clear(); err != nil {
			return false, fmt.Errorf("clear remembered session: %w", err)
		}
		return false, nil
	}

	m.state.Password = r.Password
	m.state.Remember = true
	m.armExpiryLocked(r.ExpiresAt.Sub(now))
	m.logger.Info(ctx, "remembered session restored", "expires_at", r.ExpiresAt)
	return true, nil
}

func (m *Manager) armExpiryLocked(d time.Duration) {
	m.alarms.Create(alarm.SessionExpiry, d, 0, m.Expire)
}
