// Package common contains shared constants, sentinel errors and small helpers
// used across prwatch components.
package common

// AuthorizationHeaderName is the HTTP header used to carry the GitHub token
// on outbound API requests.
const AuthorizationHeaderName = "Authorization"

// MinPasswordLength is the shortest password accepted during setup.
const MinPasswordLength = 8
