package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/adapters/fs"
	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/adapters/sqlite"
)

func TestInit(t *testing.T) {
	t.Run("AutoInit=true Creates Directory and Git Repo", func(t *testing.T) {
		if !fs.IsGitInstalled() {
			t.Skip("git not installed")
		}
		path := filepath.Join(t.TempDir(), "places")

		store, err := platform.Init(path, platform.WithAutoInit(true), platform.WithForceTemp(true))
		require.NoError(t, err)

		fsStore, ok := store.(*fs.Store)
		require.True(t, ok, "expected fs store")
		assert.Equal(t, path, fsStore.Path)
		assert.DirExists(t, filepath.Join(path, ".git"))
		assert.False(t, fsStore.State().(fs.StoreState).Gitless)
	})

	t.Run("AutoInit=false Fails if Directory Missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing")
		_, err := platform.Init(path, platform.WithMustExist(true), platform.WithForceTemp(true))
		assert.Error(t, err)
	})

	t.Run("Versioning=false Does Not Initialize Git", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gitless")

		store, err := platform.Init(path,
			platform.WithAutoInit(true),
			platform.WithVersioning(false),
			platform.WithSystemDir(".pins"),
			platform.WithFormat("json"),
			platform.WithForceTemp(true))
		require.NoError(t, err)

		state := store.(*fs.Store).State().(fs.StoreState)
		assert.True(t, state.Gitless)
		assert.Equal(t, ".pins", state.SystemDir)
		assert.Equal(t, "json", state.Format)
		assert.DirExists(t, filepath.Join(path, ".pins"))
		_, err = os.Stat(filepath.Join(path, ".git"))
		assert.True(t, os.IsNotExist(err), ".git must not exist in gitless mode")
	})

	t.Run("Invalid Serializer", func(t *testing.T) {
		_, err := platform.Init(t.TempDir(),
			platform.WithVersioning(false),
			platform.WithSerializer(".toml", "not a serializer"))
		assert.ErrorContains(t, err, "must implement fs.Serializer")
	})
}

func TestInit_Adapters(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		store, err := platform.Init("", platform.WithAdapter(platform.AdapterMemory))
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("SQLite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "places.db")
		store, err := platform.Init(path, platform.WithAdapter(platform.AdapterSQLite))
		require.NoError(t, err)
		sq, ok := store.(*sqlite.Store)
		require.True(t, ok)
		defer sq.Close()
		assert.FileExists(t, path)

		keys, err := sq.Keys(context.Background())
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Injected Store Wins", func(t *testing.T) {
		injected := memory.NewStore()
		store, err := platform.Init("ignored", platform.WithAdapter("nope"), platform.WithStore(injected))
		require.NoError(t, err)
		assert.Same(t, injected, store)
	})

	t.Run("Unknown Adapter", func(t *testing.T) {
		_, err := platform.Init("", platform.WithAdapter("postgres"))
		assert.ErrorContains(t, err, "unknown adapter")
	})
}
