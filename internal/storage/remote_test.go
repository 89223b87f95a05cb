package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ah-its-andy/bookconv/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	remoteRoot := t.TempDir()
	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(remoteRoot, "Author/Book (1)"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(remoteRoot, "Author/Book (1)/Book.epub"), []byte("epub"), 0o644))

	r := NewDirRemote(remoteRoot, logger.Discard())
	require.NoError(t, r.Fetch(context.Background(), "Author/Book (1)", "Book.epub", local))
	assert.FileExists(t, filepath.Join(local, "Book.epub"))

	err := r.Fetch(context.Background(), "Author/Book (1)", "cover.jpg", local)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteNotFound))
}

func TestPush(t *testing.T) {
	remoteRoot := t.TempDir()
	localRoot := t.TempDir()
	bookDir := filepath.Join(localRoot, "Author/Book (1)")
	require.NoError(t, os.MkdirAll(bookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bookDir, "Book.mobi"), []byte("mobi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(bookDir, "sub"), 0o755))

	r := NewDirRemote(remoteRoot, logger.Discard())
	require.NoError(t, r.Push(context.Background(), localRoot, "Author/Book (1)"))

	raw, err := os.ReadFile(filepath.Join(remoteRoot, "Author/Book (1)/Book.mobi"))
	require.NoError(t, err)
	assert.Equal(t, "mobi", string(raw))
	assert.NoDirExists(t, filepath.Join(remoteRoot, "Author/Book (1)/sub"))

	assert.Error(t, r.Push(context.Background(), localRoot, "missing"))
}
