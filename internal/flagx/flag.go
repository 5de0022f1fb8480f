// Package flagx lets several configuration layers share one os.Args without
// tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps the allowed flags and their values from args.
//
// A flag matches with one or two leading dashes regardless of how it is
// listed in allowedFlags, as the flag package does. Values are accepted as
//
//	-c conf.json
//	--config=conf.json
//
// and a separate value is only consumed when it does not start with '-'.
// Scanning stops at "--".
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[flagName(f)] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, joined := strings.Cut(arg, "=")
		if !allowed[flagName(name)] {
			continue
		}
		out = append(out, arg)
		if !joined && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

func flagName(s string) string {
	return strings.TrimLeft(s, "-")
}

// JSONConfigPath returns the path given via -c or -config, or "".
func JSONConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"c", "config"}))

	return path
}
