// Package results persists test result payloads. The payload bytes are
// written verbatim to <dir>/<commit_id>; each write is also indexed in SQLite
// with its size and blake3 digest so the status API can serve metadata
// without touching the file.
package results

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Store writes payloads to disk and records them in the results table.
type Store struct {
	dir string
	db  *sql.DB
	now func() time.Time
}

// New creates a Store rooted at dir. db may be nil, in which case payloads
// are written but not indexed.
func New(dir string, db *sql.DB) (*Store, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("results directory is empty")
	}
	return &Store{
		dir: filepath.Clean(trimmed),
		db:  db,
		now: time.Now,
	}, nil
}

// Dir returns the results directory.
func (s *Store) Dir() string { return s.dir }

// Save writes payload to <dir>/<commitID>, replacing any earlier result for
// the same commit, and indexes it.
func (s *Store) Save(ctx context.Context, commitID, runner string, payload []byte) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	path, err := s.payloadPath(commitID)
	if err != nil {
		return Record{}, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create results directory: %w", err)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return Record{}, fmt.Errorf("write result for commit %q: %w", commitID, err)
	}

	sum := blake3.Sum256(payload)
	rec := Record{
		ID:         uuid.NewString(),
		CommitID:   commitID,
		Runner:     runner,
		Size:       int64(len(payload)),
		Digest:     "blake3:" + hex.EncodeToString(sum[:]),
		Path:       path,
		ReceivedAt: s.now().UTC(),
	}

	if s.db == nil {
		return rec, nil
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO results(id, commit_id, runner, size, digest, path, received_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.CommitID, nullable(rec.Runner), rec.Size, rec.Digest, rec.Path, rec.ReceivedAt.Format(time.RFC3339Nano))
	if err != nil {
		return rec, fmt.Errorf("index result for commit %q: %w", commitID, err)
	}
	return rec, nil
}

// Latest returns the most recent record for commitID.
func (s *Store) Latest(ctx context.Context, commitID string) (Record, error) {
	if err := ValidateCommitID(commitID); err != nil {
		return Record{}, err
	}
	if s.db == nil {
		return Record{}, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, commit_id, runner, size, digest, path, received_at
FROM results
WHERE commit_id = ?
ORDER BY received_at DESC, rowid DESC
LIMIT 1;
`, commitID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("commit %q: %w", commitID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("latest result for commit %q: %w", commitID, err)
	}
	return rec, nil
}

// Recent lists the newest records across all commits, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return []Record{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, commit_id, runner, size, digest, path, received_at
FROM results
ORDER BY received_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Payload reads the stored payload for commitID.
func (s *Store) Payload(ctx context.Context, commitID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.payloadPath(commitID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("commit %q: %w", commitID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read result for commit %q: %w", commitID, err)
	}
	return b, nil
}

func (s *Store) payloadPath(commitID string) (string, error) {
	if err := ValidateCommitID(commitID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, commitID), nil
}

// ValidateCommitID rejects ids that would escape the results directory.
func ValidateCommitID(commitID string) error {
	if commitID == "" || strings.TrimSpace(commitID) != commitID {
		return fmt.Errorf("%w: %q", ErrInvalidCommitID, commitID)
	}
	if commitID == "." || commitID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidCommitID, commitID)
	}
	if strings.ContainsAny(commitID, `/\`) || strings.ContainsRune(commitID, 0) {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidCommitID, commitID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		runner     sql.NullString
		receivedAt string
	)
	if err := row.Scan(&rec.ID, &rec.CommitID, &runner, &rec.Size, &rec.Digest, &rec.Path, &receivedAt); err != nil {
		return Record{}, err
	}
	rec.Runner = runner.String
	if t, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
		rec.ReceivedAt = t
	}
	return rec, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
