package ports

import "context"

// SnapshotRepository persists point-in-time snapshots of entities (wallets,
// engines) for observability and restart recovery. Each snapshot carries an
// explicit version tag so older payloads can be migrated forward on load.
type SnapshotRepository interface {
	// SaveSnapshot stores or replaces the snapshot for (kind, id).
	SaveSnapshot(ctx context.Context, kind, id string, version int, payload interface{}) error
	// LoadSnapshot decodes the latest snapshot for (kind, id) into out and
	// returns its version. Returns an error wrapping domain.ErrNotFound when
	// no snapshot exists.
	LoadSnapshot(ctx context.Context, kind, id string, out interface{}) (int, error)
}
