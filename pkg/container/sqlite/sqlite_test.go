package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friflo/fliox.go/internal/containertest"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/container/sqlite"
	"github.com/friflo/fliox.go/pkg/models"
)

func TestContract(t *testing.T) {
	containertest.Run(t, func(t *testing.T) container.Backend {
		backend, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		return backend
	})
}

func TestContract_inMemory(t *testing.T) {
	containertest.Run(t, func(t *testing.T) container.Backend {
		backend, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		return backend
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	backend, err := sqlite.Open(path)
	require.NoError(t, err)
	c, err := backend.Open(ctx, "jobs")
	require.NoError(t, err)
	require.NoError(t, c.Create(ctx, models.IntKey(2), models.Document{"title": "b"}))
	require.NoError(t, c.Create(ctx, models.IntKey(1), models.Document{"title": "a"}))
	require.NoError(t, backend.Close())

	// reopening runs the idempotent prepare step against the existing table
	backend, err = sqlite.Open(path)
	require.NoError(t, err)
	defer backend.Close()
	c, err = backend.Open(ctx, "jobs")
	require.NoError(t, err)

	entries, err := c.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.IntKey(2), entries[0].Key)
	assert.Equal(t, models.IntKey(1), entries[1].Key)
}
