// Package auth implements the authentication state machine shared by the
// daemon and its clients.
//
// A fresh installation goes initializing, login-needed, password-setup,
// authenticated. A returning one goes initializing, password-entry,
// authenticated. Sign-out and session expiry drop back to password-entry;
// Reset returns any state to login-needed and wipes secure storage.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/logging"
)

type State string

const (
	StateInitializing  State = "initializing"
	StateLoginNeeded   State = "login-needed"
	StatePasswordSetup State = "password-setup"
	StatePasswordEntry State = "password-entry"
	StateAuthenticated State = "authenticated"
)

// TokenValidator checks a GitHub token before it is stored.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) error
}

type Store interface {
	EncryptToken(ctx context.Context, token, password string) error
	ReencryptAll(ctx context.Context, oldPassword, newPassword string) error
	HasStoredToken(ctx context.Context) (bool, error)
	HasEncryptionSetup(ctx context.Context) (bool, error)
	ClearSecureStorage(ctx context.Context) error
}

// Verifier owns the password test vector.
type Verifier interface {
	SetupTestVector(ctx context.Context, password string) error
	ValidatePassword(ctx context.Context, password string) (bool, error)
}

type Session interface {
	Password(ctx context.Context) (string, bool, error)
	SetPassword(ctx context.Context, password string, remember bool) error
	Clear(ctx context.Context) error
}

type Lifecycle struct {
	mu           sync.Mutex
	state        State
	pendingToken string

	validator TokenValidator
	store     Store
	verifier  Verifier
	session   Session
	logger    logging.Logger
	onChange  func(ctx context.Context, s State)
}

func NewLifecycle(validator TokenValidator, store Store, verifier Verifier, session Session, logger logging.Logger) *Lifecycle {
	return &Lifecycle{
		state:     StateInitializing,
		validator: validator,
		store:     store,
		verifier:  verifier,
		session:   session,
		logger:    logger.With("module", "auth"),
	}
}

// OnChange registers f to run after every state change. f runs with the
// lifecycle locked and must not call back into it.
func (l *Lifecycle) OnChange(f func(ctx context.Context, s State)) {
	l.mu.Lock()
	l.onChange = f
	l.mu.Unlock()
}

// State returns the current state, resolving it first if the lifecycle is
// still initializing or the authenticated session has lapsed.
func (l *Lifecycle) State(ctx context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateInitializing:
		if err := l.resolveLocked(ctx); err != nil {
			return l.state, err
		}
	case StateAuthenticated:
		if _, ok, err := l.session.Password(ctx); err != nil {
			return l.state, err
		} else if !ok {
			l.setLocked(ctx, StatePasswordEntry)
		}
	}
	return l.state, nil
}

// Resolve picks the entry state from what is stored.
func (l *Lifecycle) Resolve(ctx context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.resolveLocked(ctx)
	return l.state, err
}

func (l *Lifecycle) resolveLocked(ctx context.Context) error {
	hasToken, err := l.store.HasStoredToken(ctx)
	if err != nil {
		return fmt.Errorf("check stored token: %w", err)
	}
	hasSetup, err := l.store.HasEncryptionSetup(ctx)
	if err != nil {
		return fmt.Errorf("check encryption setup: %w", err)
	}
	if !hasToken || !hasSetup {
		l.setLocked(ctx, StateLoginNeeded)
		return nil
	}

	pw, ok, err := l.session.Password(ctx)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if ok {
		valid, err := l.verifier.ValidatePassword(ctx, pw)
		if err != nil {
			return fmt.Errorf("validate session password: %w", err)
		}
		if valid {
			l.setLocked(ctx, StateAuthenticated)
			return nil
		}
		if err := l.session.Clear(ctx); err != nil {
			return err
		}
	}
	l.setLocked(ctx, StatePasswordEntry)
	return nil
}

// SubmitToken validates token and, if it is accepted, moves to
// password-setup. The token is kept in memory until a password is chosen.
func (l *Lifecycle) SubmitToken(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.expectLocked(StateLoginNeeded); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return common.ErrInvalidToken
	}
	if err := l.validator.ValidateToken(ctx, token); err != nil {
		return err
	}

	l.pendingToken = token
	l.setLocked(ctx, StatePasswordSetup)
	return nil
}

// SetupPassword encrypts the pending token under password and
// authenticates.
func (l *Lifecycle) SetupPassword(ctx context.Context, password, confirm string, remember bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.expectLocked(StatePasswordSetup); err != nil {
		return err
	}
	if err := checkNewPassword(password, confirm); err != nil {
		return err
	}

	if err := l.store.EncryptToken(ctx, l.pendingToken, password); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := l.verifier.SetupTestVector(ctx, password); err != nil {
		return fmt.Errorf("setup test vector: %w", err)
	}
	if err := l.session.SetPassword(ctx, password, remember); err != nil {
		return err
	}

	l.pendingToken = ""
	l.setLocked(ctx, StateAuthenticated)
	return nil
}

// Unlock authenticates with the password the token was stored under.
func (l *Lifecycle) Unlock(ctx context.Context, password string, remember bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.expectLocked(StatePasswordEntry); err != nil {
		return err
	}
	ok, err := l.verifier.ValidatePassword(ctx, password)
	if err != nil {
		return fmt.Errorf("validate password: %w", err)
	}
	if !ok {
		l.logger.Info(ctx, "unlock rejected")
		return common.ErrWrongPassword
	}
	if err := l.session.SetPassword(ctx, password, remember); err != nil {
		return err
	}

	l.setLocked(ctx, StateAuthenticated)
	return nil
}

// ChangePassword re-encrypts the token and app data under a new password.
func (l *Lifecycle) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string, remember bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.expectLocked(StateAuthenticated); err != nil {
		return err
	}
	ok, err := l.verifier.ValidatePassword(ctx, oldPassword)
	if err != nil {
		return fmt.Errorf("validate password: %w", err)
	}
	if !ok {
		return common.ErrWrongPassword
	}
	if err := checkNewPassword(newPassword, confirm); err != nil {
		return err
	}
	if err := l.store.ReencryptAll(ctx, oldPassword, newPassword); err != nil {
		return fmt.Errorf("re-encrypt: %w", err)
	}
	if err := l.session.SetPassword(ctx, newPassword, remember); err != nil {
		return err
	}
	l.logger.Info(ctx, "password changed")
	return nil
}

// SignOut forgets the session password. The encrypted token stays, so only
// the password is needed to come back.
func (l *Lifecycle) SignOut(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.expectLocked(StateAuthenticated); err != nil {
		return err
	}
	if err := l.session.Clear(ctx); err != nil {
		return err
	}
	l.setLocked(ctx, StatePasswordEntry)
	return nil
}

// Lock is called when the remembered session expires.
func (l *Lifecycle) Lock(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateAuthenticated {
		l.setLocked(ctx, StatePasswordEntry)
	}
}

// Reset wipes secure storage and the session and starts over.
func (l *Lifecycle) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.ClearSecureStorage(ctx); err != nil {
		return err
	}
	if err := l.session.Clear(ctx); err != nil {
		return err
	}
	l.pendingToken = ""
	l.setLocked(ctx, StateLoginNeeded)
	return nil
}

func (l *Lifecycle) expectLocked(want State) error {
	if l.state != want {
		return fmt.Errorf("%w: %s requires %s", common.ErrInvalidTransition, l.state, want)
	}
	return nil
}

func (l *Lifecycle) setLocked(ctx context.Context, s State) {
	if l.state == s {
		return
	}
	l.logger.Info(ctx, "auth state changed", "from", l.state, "to", s)
	l.state = s
	if l.onChange != nil {
		l.onChange(ctx, s)
	}
}

func checkNewPassword(password, confirm string) error {
	if utf8.RuneCountInString(password) < common.MinPasswordLength {
		return common.ErrPasswordTooShort
	}
	if password != confirm {
		return common.ErrPasswordMismatch
	}
	return nil
}
