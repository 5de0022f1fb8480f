package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/prwatch/internal/auth"
)

// printlnFn and promptFn are test seams for REPL output.
var (
	printlnFn = fmt.Println
	promptFn  = fmt.Print
)

// execIface is the command surface the REPL dispatches to. *App satisfies
// it; tests provide a stub.
type execIface interface {
	currentState() auth.State
	Login(ctx context.Context) error
	Setup(ctx context.Context) error
	Unlock(ctx context.Context) error
	List(ctx context.Context, showHidden bool) error
	Refresh(ctx context.Context, query string) error
	Prefs(ctx context.Context, args []string) error
	Passwd(ctx context.Context) error
	SignOut(ctx context.Context) error
	Reset(ctx context.Context) error
}

var helpByState = map[auth.State]string{
	auth.StateLoginNeeded:   "Available commands: login, exit",
	auth.StatePasswordSetup: "Available commands: setup, reset, exit",
	auth.StatePasswordEntry: "Available commands: unlock, reset, exit",
	auth.StateAuthenticated: "Available commands: (l)ist [all], (r)efresh [query], prefs, set <key> <value>, passwd, signout, reset, exit",
}

// runREPL reads commands line by line and dispatches them to a. Handlers
// report their own errors. The loop ends on EOF, exit or quit.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		promptFn(fmt.Sprintf("prwatch (%s)> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			help, ok := helpByState[a.currentState()]
			if !ok {
				help = "Available commands: exit"
			}
			printlnFn(help)

		case "login":
			_ = a.Login(ctx)

		case "setup":
			_ = a.Setup(ctx)

		case "unlock":
			_ = a.Unlock(ctx)

		case "l", "list":
			_ = a.List(ctx, len(args) > 0 && args[0] == "all")

		case "r", "refresh":
			_ = a.Refresh(ctx, strings.Join(args, " "))

		case "prefs":
			_ = a.Prefs(ctx, nil)

		case "set":
			if len(args) == 0 {
				printlnFn(errUsage.Error())
				continue
			}
			_ = a.Prefs(ctx, args)

		case "passwd":
			_ = a.Passwd(ctx)

		case "signout", "logout":
			_ = a.SignOut(ctx)

		case "reset":
			_ = a.Reset(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
