package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/rpc"
)

// Daemon is the bridge surface the client uses. *rpc.Client implements it.
type Daemon interface {
	AuthState(ctx context.Context) (auth.State, error)
	SubmitToken(ctx context.Context, token string) error
	SetupPassword(ctx context.Context, password, confirm string, remember bool) error
	Unlock(ctx context.Context, password string, remember bool) error
	ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string, remember bool) error
	SignOut(ctx context.Context) error
	Reset(ctx context.Context) error
	RememberedPassword(ctx context.Context) (string, bool, error)
	SetPassword(ctx context.Context, password string, remember bool) error
	PopupOpened(ctx context.Context) error
	CheckPRs(ctx context.Context, manual bool, customQuery string) (bool, error)
	Data(ctx context.Context, showHidden bool) (background.Data, error)
	UpdatePreferences(ctx context.Context, patch models.PreferencesPatch, firstRunNotify *bool) error
	Subscribe(ctx context.Context) (<-chan background.Event, error)
}

type App struct {
	daemon Daemon
	reader *bufio.Reader
	logger logging.Logger
	now    func() time.Time

	// mu serializes writes to out between the REPL and the event watcher
	// and guards state and banner.
	mu     sync.Mutex
	out    io.Writer
	state  auth.State
	banner string
}

func NewApp(d Daemon, in io.Reader, out io.Writer, l logging.Logger) *App {
	return &App{
		daemon: d,
		reader: bufio.NewReader(in),
		out:    out,
		logger: l.With("module", "cli"),
		now:    time.Now,
	}
}

// Run resolves the sign-in state, starts the broadcast watcher and runs the
// REPL until the user exits or input ends.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.Attach(ctx); err != nil {
		return err
	}
	if err := a.daemon.PopupOpened(ctx); err != nil {
		a.logger.Warn(ctx, "popup opened", "error", err)
	}

	events, err := a.daemon.Subscribe(ctx)
	if err != nil {
		a.logger.Warn(ctx, "subscribe to daemon broadcasts", "error", err)
	} else {
		go a.watchEvents(ctx, events)
	}

	a.println(titleStyle.Render("prwatch") + " (type 'help' for commands)")
	if a.currentState() == auth.StateAuthenticated {
		_ = a.List(ctx, false)
	}

	runREPL(ctx, a, a.status, a.reader)
	return nil
}

// Attach resolves the sign-in state and adopts a password the daemon still
// remembers. One-shot commands call it before acting.
func (a *App) Attach(ctx context.Context) (auth.State, error) {
	state, err := a.refreshState(ctx)
	if err != nil {
		return "", a.fail(err)
	}
	if state == auth.StatePasswordEntry {
		a.tryRemembered(ctx)
	}
	return a.currentState(), nil
}

// Status prints the sign-in state.
func (a *App) Status(ctx context.Context) error {
	state, err := a.Attach(ctx)
	if err != nil {
		return err
	}
	a.println("state: " + string(state))
	if state != auth.StateAuthenticated {
		a.println(mutedStyle.Render("start prwatch without arguments to sign in"))
	}
	return nil
}

// tryRemembered adopts a password the daemon still remembers.
func (a *App) tryRemembered(ctx context.Context) {
	pw, ok, err := a.daemon.RememberedPassword(ctx)
	if err != nil || !ok {
		return
	}
	if err := a.daemon.SetPassword(ctx, pw, true); err != nil {
		a.logger.Warn(ctx, "adopt remembered password", "error", err)
		return
	}
	_, _ = a.refreshState(ctx)
}

func (a *App) refreshState(ctx context.Context) (auth.State, error) {
	s, err := a.daemon.AuthState(ctx)
	if err != nil {
		return "", err
	}
	a.setState(s)
	return s, nil
}

func (a *App) currentState() auth.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) setState(s auth.State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *App) status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.banner != "" {
		return string(a.state) + " !"
	}
	return string(a.state)
}

func (a *App) println(args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.out, args...)
}

// fail prints err the way a user should read it and returns it.
func (a *App) fail(err error) error {
	a.println(errorStyle.Render("✗ " + describe(err)))
	return err
}

func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrWrongPassword):
		return "Wrong password"
	case errors.Is(err, common.ErrPasswordTooShort):
		return fmt.Sprintf("Password must be at least %d characters", common.MinPasswordLength)
	case errors.Is(err, common.ErrPasswordMismatch):
		return "Passwords do not match"
	case errors.Is(err, common.ErrInvalidToken):
		return "GitHub rejected the token"
	case errors.Is(err, common.ErrMissingScope):
		return "The token needs the 'repo' scope"
	case errors.Is(err, common.ErrInvalidTransition):
		return "Not available right now, see 'help'"
	case errors.Is(err, common.ErrSessionUnavailable):
		return "Session expired, unlock again"
	case errors.Is(err, rpc.ErrUnavailable):
		return "The prwatch daemon is not running"
	default:
		return err.Error()
	}
}
