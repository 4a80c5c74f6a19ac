package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ductile-ci/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(root, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(filepath.Join(root, "test_results"), db)
	require.NoError(t, err)
	return s
}

func TestSaveWritesPayloadVerbatim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Save(ctx, "abc123", "localhost:9001", []byte("ok:1:2\n"))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(s.Dir(), "abc123"))
	require.NoError(t, err)
	assert.Equal(t, "ok:1:2\n", string(b))

	assert.Equal(t, "abc123", rec.CommitID)
	assert.Equal(t, "localhost:9001", rec.Runner)
	assert.EqualValues(t, 7, rec.Size)
	assert.Contains(t, rec.Digest, "blake3:")
	assert.NotEmpty(t, rec.ID)
}

func TestSaveOverwritesAndLatestTracksNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }
	first, err := s.Save(ctx, "abc123", "", []byte("first"))
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(time.Minute) }
	second, err := s.Save(ctx, "abc123", "localhost:9002", []byte("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, second.Digest)

	latest, err := s.Latest(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "localhost:9002", latest.Runner)
	assert.True(t, latest.ReceivedAt.Equal(base.Add(time.Minute)))

	payload, err := s.Payload(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "second", string(payload))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Empty(t, recent[1].Runner)
}

func TestSaveEmptyPayload(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Save(context.Background(), "empty", "", nil)
	require.NoError(t, err)
	assert.Zero(t, rec.Size)

	b, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestLatestUnknownCommit(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Latest(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Payload(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsUnsafeCommitIDs(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", ".", "..", "../escape", `a\b`, "a/b", " padded"} {
		_, err := s.Save(context.Background(), id, "", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidCommitID, id)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Dir()), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreWithoutIndex(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "abc123", "", []byte("x"))
	require.NoError(t, err)

	_, err = s.Latest(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrNotFound)

	recent, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewRejectsEmptyDir(t *testing.T) {
	_, err := New("  ", nil)
	assert.Error(t, err)
}
