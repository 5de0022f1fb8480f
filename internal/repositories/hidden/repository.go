// Package hidden keeps the ids of pull requests the user has hidden. It is
// deliberately separate from the encrypted app data: the refresh cycle reads
// it as the source of truth and merges the flags in.
package hidden

import "context"

type Repository interface {
	IDs(ctx context.Context) (map[int64]struct{}, error)
	Hide(ctx context.Context, id int64) error
	Unhide(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}
