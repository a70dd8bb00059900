package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSnapshotUnsupported is returned for databases without a backing file.
var ErrSnapshotUnsupported = errors.New("snapshot requires a file-backed database")

// Snapshot copies the database next to it under snapshots/<tag>.db before a
// destructive operation such as clearing all enrichment.
func (s *SQLiteStorage) Snapshot(ctx context.Context, tag string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(tag, "tag"); err != nil {
		return "", err
	}
	if s.dbPath == ":memory:" {
		return "", ErrSnapshotUnsupported
	}
	if strings.ContainsAny(tag, `/\'";`) || strings.Contains(tag, "..") {
		return "", fmt.Errorf("invalid snapshot tag %q", tag)
	}

	absDB, err := filepath.Abs(s.dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	dir := filepath.Join(filepath.Dir(absDB), "snapshots")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	dest := filepath.Join(dir, tag+".db")
	if strings.ContainsAny(dest, `'";`) {
		return "", fmt.Errorf("invalid snapshot path %q", dest)
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("snapshot %q already exists", tag)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	// #nosec G201 - dest is validated above
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return dest, nil
}
