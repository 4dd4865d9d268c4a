// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/storage/local"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "raw")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		path := "raw/tcg/base-set/4f2a.html"
		data := []byte("<html>Charizard</html>")
		uri, err := store.PutObject(ctx, path, "text/html", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("Overwrite", func(t *testing.T) {
		path := "tcg/images/base-set/4.png"
		_, err := store.PutObject(ctx, path, "image/png", bytes.NewReader([]byte("v1")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, path, "image/png", bytes.NewReader([]byte("v2")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, "v2", string(readData))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.ErrorIs(t, err, local.ErrPathEscapes)
	})

	t.Run("ReaderFailureLeavesNoObject", func(t *testing.T) {
		_, err := store.PutObject(ctx, "broken/object.html", "text/html", failingReader{})
		require.Error(t, err)
		entries, err := os.ReadDir(filepath.Join(tempDir, "broken"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "late.html", "text/html", bytes.NewReader(nil))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
