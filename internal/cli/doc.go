// Package cli is the prwatch terminal client.
//
// It connects to the daemon over the message bridge, walks the user through
// sign-in (GitHub token, then a local password), and runs a small REPL for
// listing and refreshing pull requests and editing preferences. Broadcasts
// from the daemon are printed as they arrive: errors as a banner,
// notifications inline.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
