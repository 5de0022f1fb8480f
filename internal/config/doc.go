// Package config loads runtime configuration for the prwatch daemon and the
// terminal client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Environment variables prefixed with PRWATCH_ (a .env file found in the
//     working directory or any parent is loaded first).
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string   listen address of the daemon message bridge
//	-d string   data directory holding the SQLite store
//	-g string   GitHub REST API base URL
//	-i int      polling interval (seconds)
//	-l string   log level (debug, info, warn, error)
//	-m string   metrics listen address (empty disables the endpoint)
//
// # JSON schema
//
// Durations accept strings like "5m" or integer nanoseconds:
//
//	{
//	  "listen_addr": "127.0.0.1:50071",
//	  "data_dir": "/home/me/.config/prwatch",
//	  "poll_interval": "5m",
//	  "remember_window": "12h"
//	}
package config
