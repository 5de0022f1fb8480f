package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/prwatch/internal/common"
)

// getPassword and getYesNo are indirections used to facilitate testing.
var (
	getPassword = GetPassword
	getYesNo    = GetYesNo
)

func (a *App) secret(prompt string) (string, error) {
	b, err := getPassword(a.out, prompt)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(b)
	return string(b), nil
}

// Login submits a GitHub token and continues with password setup.
func (a *App) Login(ctx context.Context) error {
	token, err := a.secret("GitHub token (needs the repo scope): ")
	if err != nil {
		return err
	}
	if err := a.daemon.SubmitToken(ctx, strings.TrimSpace(token)); err != nil {
		return a.fail(err)
	}
	a.println(successStyle.Render("✓ Token accepted"))
	if _, err := a.refreshState(ctx); err != nil {
		return a.fail(err)
	}
	return a.Setup(ctx)
}

// Setup chooses the local password that encrypts the token, then runs the
// first refresh.
func (a *App) Setup(ctx context.Context) error {
	password, err := a.secret(fmt.Sprintf("Choose a password (%d+ characters): ", common.MinPasswordLength))
	if err != nil {
		return err
	}
	confirm, err := a.secret("Repeat password: ")
	if err != nil {
		return err
	}
	remember, err := getYesNo(a.reader, "Remember the password for 12 hours?", a.out)
	if err != nil {
		return err
	}

	if err := a.daemon.SetupPassword(ctx, password, confirm, remember); err != nil {
		return a.fail(err)
	}
	if _, err := a.refreshState(ctx); err != nil {
		return a.fail(err)
	}
	a.println(successStyle.Render("✓ Signed in"))
	return a.Refresh(ctx, "")
}

// Unlock re-enters the password after sign-out or session expiry.
func (a *App) Unlock(ctx context.Context) error {
	password, err := a.secret("Password: ")
	if err != nil {
		return err
	}
	remember, err := getYesNo(a.reader, "Remember the password for 12 hours?", a.out)
	if err != nil {
		return err
	}

	if err := a.daemon.Unlock(ctx, password, remember); err != nil {
		return a.fail(err)
	}
	if _, err := a.refreshState(ctx); err != nil {
		return a.fail(err)
	}
	a.println(successStyle.Render("✓ Unlocked"))
	return a.List(ctx, false)
}

func (a *App) Passwd(ctx context.Context) error {
	oldPassword, err := a.secret("Current password: ")
	if err != nil {
		return err
	}
	newPassword, err := a.secret("New password: ")
	if err != nil {
		return err
	}
	confirm, err := a.secret("Repeat new password: ")
	if err != nil {
		return err
	}
	remember, err := getYesNo(a.reader, "Remember the password for 12 hours?", a.out)
	if err != nil {
		return err
	}

	if err := a.daemon.ChangePassword(ctx, oldPassword, newPassword, confirm, remember); err != nil {
		return a.fail(err)
	}
	a.println(successStyle.Render("✓ Password changed"))
	return nil
}

func (a *App) SignOut(ctx context.Context) error {
	if err := a.daemon.SignOut(ctx); err != nil {
		return a.fail(err)
	}
	if _, err := a.refreshState(ctx); err != nil {
		return a.fail(err)
	}
	a.println("Signed out. The token stays encrypted; 'unlock' to come back.")
	return nil
}

// Reset wipes the stored token and all app data after confirmation.
func (a *App) Reset(ctx context.Context) error {
	ok, err := getYesNo(a.reader, "Delete the stored token and all data?", a.out)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := a.daemon.Reset(ctx); err != nil {
		return a.fail(err)
	}
	if _, err := a.refreshState(ctx); err != nil {
		return a.fail(err)
	}
	a.println("All data removed. Use 'login' to start over.")
	return nil
}
