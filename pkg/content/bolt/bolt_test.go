package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
	contenttesting "github.com/marmos91/siafuse/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, path string) *BoltContentStore {
	t.Helper()
	store, err := NewBoltContentStore(context.Background(), BoltContentStoreConfig{Path: path, ChunkSize: 8192})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return newTestStore(t, filepath.Join(t.TempDir(), "content.db"))
		},
	}

	suite.Run(t)
}

func TestBoltContentStore_RequiresPath(t *testing.T) {
	_, err := NewBoltContentStore(context.Background(), BoltContentStoreConfig{})
	require.Error(t, err)
}

func TestBoltContentStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "content.db")

	store, err := NewBoltContentStore(ctx, BoltContentStoreConfig{Path: path})
	require.NoError(t, err)

	id, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = store.WriteAt(ctx, id, []byte("persisted"), 100)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := newTestStore(t, path)

	data, err := reopened.ReadAt(ctx, id, 100, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}
