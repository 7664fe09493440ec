// Package backup takes consistent online snapshots of the listings store and
// writes them to a local directory or an S3 bucket.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrUnsupported is returned for stores that cannot produce a snapshot.
var ErrUnsupported = errors.New("store does not support snapshots")

// Snapshotter writes a point-in-time copy of a store. The bbolt backend
// implements it; SQL backends are backed up with their own database tools.
type Snapshotter interface {
	WriteSnapshot(w io.Writer) (int64, error)
}

// Result describes a written snapshot.
type Result struct {
	Location string `json:"location"`
	Bytes    int64  `json:"bytes"`
}

// Name returns the snapshot file name for t.
func Name(t time.Time) string {
	return "listings-" + t.UTC().Format("20060102T150405Z") + ".db"
}

// asSnapshotter checks that st can be snapshotted.
func asSnapshotter(st any) (Snapshotter, error) {
	s, ok := st.(Snapshotter)
	if !ok {
		return nil, ErrUnsupported
	}
	return s, nil
}

// ToDir writes a snapshot of st into dir. The file appears under its final
// name only once it is complete.
func ToDir(st any, dir string, now time.Time) (*Result, error) {
	snap, err := asSnapshotter(st)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".listings-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := snap.WriteSnapshot(tmp)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close backup file: %w", err)
	}

	dest := filepath.Join(dir, Name(now))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("finalize backup file: %w", err)
	}
	return &Result{Location: dest, Bytes: n}, nil
}
