package chunks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	return s
}

func writeChunk(t *testing.T, s *FileStore, id string, index int, data string) {
	t.Helper()
	n, err := s.Write(context.Background(), id, index, strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}

func TestFileStore_WriteAndExists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.Exists(ctx, "11-abc", 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	writeChunk(t, s, "11-abc", 1, "abc")

	ok, err = s.Exists(ctx, "11-abc", 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// size must match
	ok, err = s.Exists(ctx, "11-abc", 1, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "11-abc", 1, -1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_WriteOverwrites(t *testing.T) {
	s := newStore(t)

	writeChunk(t, s, "6-x", 1, "old")
	writeChunk(t, s, "6-x", 1, "newer")

	b, err := os.ReadFile(filepath.Join(s.Root(), "6-x", "part_00001"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(b))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "6-x"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_InvalidIdentifier(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, id := range []string{"", "..", "../etc", "a/b", `a\b`, "sp ace"} {
		_, err := s.Write(ctx, id, 1, strings.NewReader("x"))
		if !errors.Is(err, common.ErrInvalidPath) {
			t.Fatalf("Write(%q) err = %v, want ErrInvalidPath", id, err)
		}
	}

	_, err := s.Write(ctx, "ok", 0, strings.NewReader("x"))
	assert.ErrorIs(t, err, common.ErrInvalidDescriptor)
}

func TestFileStore_AllPresent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeChunk(t, s, "9-f", 1, "aaa")
	writeChunk(t, s, "9-f", 3, "ccc")

	ok, err := s.AllPresent(ctx, "9-f", 3, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	writeChunk(t, s, "9-f", 2, "bb")

	ok, err = s.AllPresent(ctx, "9-f", 3, 9)
	require.NoError(t, err)
	assert.False(t, ok, "sizes add up to 8, not 9")

	writeChunk(t, s, "9-f", 2, "bbb")

	ok, err = s.AllPresent(ctx, "9-f", 3, 9)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AllPresent(ctx, "9-f", 3, 0)
	require.NoError(t, err)
	assert.True(t, ok, "zero total size skips the sum check")
}

func TestFileStore_ReadInOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// written out of order
	writeChunk(t, s, "9-f", 3, "ccc")
	writeChunk(t, s, "9-f", 1, "aaa")
	writeChunk(t, s, "9-f", 2, "bbb")

	rc, err := s.ReadInOrder(ctx, "9-f", 3)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "aaabbbccc", string(b))
}

func TestFileStore_ReadInOrder_MissingChunk(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeChunk(t, s, "9-f", 1, "aaa")

	rc, err := s.ReadInOrder(ctx, "9-f", 2)
	require.NoError(t, err)
	defer rc.Close()

	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileStore_ListAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	got, err := s.List(ctx, "4-z")
	require.NoError(t, err)
	assert.Empty(t, got)

	writeChunk(t, s, "4-z", 2, "b")
	writeChunk(t, s, "4-z", 10, "j")
	writeChunk(t, s, "4-z", 1, "a")
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "4-z", ".part_00003.x.tmp"), []byte("t"), 0o600))

	got, err = s.List(ctx, "4-z")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, got)

	require.NoError(t, s.Purge(ctx, "4-z"))
	_, err = os.Stat(filepath.Join(s.Root(), "4-z"))
	assert.True(t, os.IsNotExist(err))

	// absent is fine
	require.NoError(t, s.Purge(ctx, "4-z"))
}

func TestFileStore_PurgeStale(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	writeChunk(t, s, "1-old", 1, "o")
	writeChunk(t, s, "1-new", 1, "n")

	old := now.Add(-48 * time.Hour)
	for _, p := range []string{
		filepath.Join(s.Root(), "1-old", "part_00001"),
		filepath.Join(s.Root(), "1-old"),
	} {
		require.NoError(t, os.Chtimes(p, old, old))
	}
	fresh := now.Add(-time.Minute)
	for _, p := range []string{
		filepath.Join(s.Root(), "1-new", "part_00001"),
		filepath.Join(s.Root(), "1-new"),
	} {
		require.NoError(t, os.Chtimes(p, fresh, fresh))
	}

	n, err := s.PurgeStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(s.Root(), "1-old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Root(), "1-new"))
	assert.NoError(t, err)
}
