package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/srg/beltctl/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"file": func(t *testing.T) Backend {
			return NewFileBackend(filepath.Join(t.TempDir(), "nested", "belts.yaml"))
		},
		"keyring": func(t *testing.T) Backend { return NewKeyringBackend(keyring.NewArrayKeyring(nil)) },
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			b := newBackend(t)

			_, err := b.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound, "unknown key MUST report ErrNotFound")

			require.NoError(t, b.Set("k", []byte("v1")))
			require.NoError(t, b.Set("other", []byte("x")))
			require.NoError(t, b.Set("k", []byte("v2")))

			v, err := b.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(v), "last write MUST win")

			v, err = b.Get("other")
			require.NoError(t, err)
			assert.Equal(t, "x", string(v), "keys MUST be independent")
		})
	}
}

func TestFileBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "belts.yaml")

	h := NewHistory(NewFileBackend(path))
	require.NoError(t, h.Add("AA:BB"))
	require.NoError(t, h.Add("CC:DD"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	ids, err := NewHistory(NewFileBackend(path)).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"CC:DD", "AA:BB"}, ids, "a new backend MUST read what the previous one wrote")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files MUST not be left behind")
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "belts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("[unterminated"), 0o600))

	_, err := NewFileBackend(path).Get(HistoryKey)
	assert.ErrorContains(t, err, "failed to parse store")
}

func TestOpen(t *testing.T) {
	b, err := Open(config.StoreConfig{Backend: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	path := filepath.Join(t.TempDir(), "belts.yaml")
	b, err = Open(config.StoreConfig{Backend: config.StoreFile, Path: path})
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, b)
	assert.Equal(t, path, b.(*FileBackend).Path())

	_, err = Open(config.StoreConfig{Backend: "cloud"})
	assert.ErrorContains(t, err, "unknown store backend")
}
