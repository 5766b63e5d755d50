package testing

import (
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes create, read and destroy tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Create_Empty", suite.testCreateEmpty)
	t.Run("Create_UniqueIDs", suite.testCreateUnique)
	t.Run("ReadAt_NotFound", suite.testReadNotFound)
	t.Run("ReadAt_PastEnd", suite.testReadPastEnd)
	t.Run("ReadAt_ShortAtEnd", suite.testReadShortAtEnd)
	t.Run("ReadAt_NegativeOffset", suite.testReadNegativeOffset)
	t.Run("Destroy_Success", suite.testDestroySuccess)
	t.Run("Destroy_Idempotent", suite.testDestroyIdempotent)
}

func (suite *StoreTestSuite) testCreateEmpty(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	data := mustReadAt(t, store, id, 0, 16)
	assert.Empty(t, data, "New content should be empty")
}

func (suite *StoreTestSuite) testCreateUnique(t *testing.T) {
	store := suite.NewStore(t)

	seen := make(map[content.ID]bool)
	for range 16 {
		id := mustCreate(t, store)
		assert.False(t, seen[id], "Create returned a duplicate ID %s", id)
		seen[id] = true
	}
}

func (suite *StoreTestSuite) testReadNotFound(t *testing.T) {
	store := suite.NewStore(t)
	assertNotFound(t, store, content.ID("does-not-exist"))
}

func (suite *StoreTestSuite) testReadPastEnd(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)
	mustWriteAt(t, store, id, []byte("hello"), 0)

	data := mustReadAt(t, store, id, 5, 10)
	assert.Empty(t, data, "Read at end should return no data")

	data = mustReadAt(t, store, id, 100, 10)
	assert.Empty(t, data, "Read past end should return no data")
}

func (suite *StoreTestSuite) testReadShortAtEnd(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)
	mustWriteAt(t, store, id, []byte("hello world"), 0)

	data := mustReadAt(t, store, id, 6, 100)
	assert.Equal(t, []byte("world"), data)
}

func (suite *StoreTestSuite) testReadNegativeOffset(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	_, err := store.ReadAt(testContext(), id, -1, 10)
	AssertErrorIs(t, content.ErrInvalidOffset, err)
}

func (suite *StoreTestSuite) testDestroySuccess(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)
	mustWriteAt(t, store, id, []byte("to be removed"), 0)

	mustDestroy(t, store, id)
	assertNotFound(t, store, id)
}

func (suite *StoreTestSuite) testDestroyIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustDestroy(t, store, id)
	err := store.Destroy(testContext(), id)
	require.NoError(t, err, "Destroying twice should not fail")
}
