package storage

import "io"

// SnapshotStore persists captured probe images for audit. Paths handed
// back are relative to the store root and safe to record in the
// database.
type SnapshotStore interface {
	SaveSnapshot(sessionID string, jpeg []byte) (string, error)
	OpenSnapshot(path string) (io.ReadSeekCloser, error)
	DeleteSnapshot(path string) error
}
