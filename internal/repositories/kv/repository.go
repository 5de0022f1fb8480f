// Package kv is the persistent key/value store backing both the plain
// (non-secret) settings and the encrypted blobs.
package kv

import (
	"context"
)

// Repository is a byte-valued key/value store. Get returns (nil, nil) for an
// absent key. SetMany and Delete apply all their keys atomically.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
}
