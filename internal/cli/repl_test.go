package cli

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/prwatch/internal/auth"
)

type fakeExec struct {
	state   auth.State
	calls   []string
	queries []string
	prefs   [][]string
}

func (f *fakeExec) currentState() auth.State { return f.state }

func (f *fakeExec) Login(context.Context) error {
	f.calls = append(f.calls, "login")
	f.state = auth.StateAuthenticated
	return nil
}
func (f *fakeExec) Setup(context.Context) error  { f.calls = append(f.calls, "setup"); return nil }
func (f *fakeExec) Unlock(context.Context) error { f.calls = append(f.calls, "unlock"); return nil }
func (f *fakeExec) List(_ context.Context, all bool) error {
	f.calls = append(f.calls, fmt.Sprintf("list all=%v", all))
	return nil
}
func (f *fakeExec) Refresh(_ context.Context, q string) error {
	f.calls = append(f.calls, "refresh")
	f.queries = append(f.queries, q)
	return nil
}
func (f *fakeExec) Prefs(_ context.Context, args []string) error {
	f.calls = append(f.calls, "prefs")
	f.prefs = append(f.prefs, args)
	return nil
}
func (f *fakeExec) Passwd(context.Context) error { f.calls = append(f.calls, "passwd"); return nil }
func (f *fakeExec) SignOut(context.Context) error {
	f.calls = append(f.calls, "signout")
	f.state = auth.StatePasswordEntry
	return nil
}
func (f *fakeExec) Reset(context.Context) error { f.calls = append(f.calls, "reset"); return nil }

func captureREPL(t *testing.T) *[]string {
	t.Helper()
	var printed []string
	origPrint, origPrompt := printlnFn, promptFn
	printlnFn = func(a ...any) (int, error) {
		printed = append(printed, fmt.Sprintln(a...))
		return 0, nil
	}
	promptFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn, promptFn = origPrint, origPrompt })
	return &printed
}

func TestRunREPL_Commands(t *testing.T) {
	printed := captureREPL(t)

	input := strings.Join([]string{
		"help",
		"login",
		"help",
		"",
		"list",
		"l all",
		"refresh",
		"r is:pr org:acme",
		"prefs",
		"set filter authored",
		"set",
		"passwd",
		"signout",
		"unlock",
		"foobar",
		"exit",
		"list",
	}, "\n")

	exec := &fakeExec{state: auth.StateLoginNeeded}
	runREPL(context.Background(), exec, func() string { return "status" }, rdr(input))

	assert.Equal(t, []string{
		"login", "list all=false", "list all=true", "refresh", "refresh",
		"prefs", "prefs", "passwd", "signout", "unlock",
	}, exec.calls)
	assert.Equal(t, []string{"", "is:pr org:acme"}, exec.queries)
	assert.Equal(t, [][]string{nil, {"filter", "authored"}}, exec.prefs)

	out := strings.Join(*printed, "")
	assert.Contains(t, out, helpByState[auth.StateLoginNeeded])
	assert.Contains(t, out, helpByState[auth.StateAuthenticated])
	assert.Contains(t, out, "usage: set")
	assert.Contains(t, out, "Unknown command: foobar")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_EOF(t *testing.T) {
	captureREPL(t)
	exec := &fakeExec{state: auth.StatePasswordEntry}
	runREPL(context.Background(), exec, func() string { return "" }, rdr("unlock"))
	assert.Equal(t, []string{"unlock"}, exec.calls, "a final line without newline still runs")
}
