package testing

import (
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes WriteAt and Truncate tests.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("WriteAt_Basic", suite.testWriteAtBasic)
	t.Run("WriteAt_Overwrite", suite.testWriteAtOverwrite)
	t.Run("WriteAt_Sparse", suite.testWriteAtSparse)
	t.Run("WriteAt_Append", suite.testWriteAtAppend)
	t.Run("WriteAt_Large", suite.testWriteAtLarge)
	t.Run("WriteAt_NotFound", suite.testWriteAtNotFound)
	t.Run("WriteAt_NegativeOffset", suite.testWriteAtNegativeOffset)
	t.Run("Truncate_Shrink", suite.testTruncateShrink)
	t.Run("Truncate_Grow", suite.testTruncateGrow)
	t.Run("Truncate_ShrinkThenGrow", suite.testTruncateShrinkThenGrow)
	t.Run("Truncate_NotFound", suite.testTruncateNotFound)
}

func (suite *StoreTestSuite) testWriteAtBasic(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("Hello, World!"), 0)
	assertContentEquals(t, store, id, []byte("Hello, World!"))
}

func (suite *StoreTestSuite) testWriteAtOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("Hello, World!"), 0)
	mustWriteAt(t, store, id, []byte("Gophers"), 7)
	assertContentEquals(t, store, id, []byte("Hello, Gophers"))
}

func (suite *StoreTestSuite) testWriteAtSparse(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("end"), 10)

	expected := make([]byte, 13)
	copy(expected[10:], "end")
	assertContentEquals(t, store, id, expected)
}

func (suite *StoreTestSuite) testWriteAtAppend(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("abc"), 0)
	mustWriteAt(t, store, id, []byte("def"), 3)
	mustWriteAt(t, store, id, []byte("ghi"), 6)
	assertContentEquals(t, store, id, []byte("abcdefghi"))
}

// testWriteAtLarge crosses several chunk boundaries of the chunked backends.
func (suite *StoreTestSuite) testWriteAtLarge(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	data := patterned(300*1024, 7)
	mustWriteAt(t, store, id, data, 1000)

	got := mustReadAt(t, store, id, 1000, len(data))
	require.Equal(t, len(data), len(got))
	assert.Equal(t, data, got)

	head := mustReadAt(t, store, id, 0, 1000)
	assert.Equal(t, make([]byte, 1000), head, "Gap before the write should be zero-filled")

	mid := mustReadAt(t, store, id, 70000, 100000)
	assert.Equal(t, data[69000:169000], mid)
}

func (suite *StoreTestSuite) testWriteAtNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.WriteAt(testContext(), content.ID("missing"), []byte("x"), 0)
	AssertErrorIs(t, content.ErrNotFound, err)
}

func (suite *StoreTestSuite) testWriteAtNegativeOffset(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	_, err := store.WriteAt(testContext(), id, []byte("x"), -5)
	AssertErrorIs(t, content.ErrInvalidOffset, err)
}

func (suite *StoreTestSuite) testTruncateShrink(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("Hello, World!"), 0)
	mustTruncate(t, store, id, 5)
	assertContentEquals(t, store, id, []byte("Hello"))
}

func (suite *StoreTestSuite) testTruncateGrow(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	mustWriteAt(t, store, id, []byte("Hi"), 0)
	mustTruncate(t, store, id, 6)
	assertContentEquals(t, store, id, []byte{'H', 'i', 0, 0, 0, 0})
}

// testTruncateShrinkThenGrow checks that truncated bytes do not reappear
// when the blob is extended again.
func (suite *StoreTestSuite) testTruncateShrinkThenGrow(t *testing.T) {
	store := suite.NewStore(t)
	id := mustCreate(t, store)

	data := patterned(200*1024, 1)
	mustWriteAt(t, store, id, data, 0)
	mustTruncate(t, store, id, 10)
	mustTruncate(t, store, id, 200*1024)

	got := mustReadAt(t, store, id, 0, 200*1024)
	require.Len(t, got, 200*1024)
	assert.Equal(t, data[:10], got[:10])
	assert.Equal(t, make([]byte, 200*1024-10), got[10:])
}

func (suite *StoreTestSuite) testTruncateNotFound(t *testing.T) {
	store := suite.NewStore(t)

	err := store.Truncate(testContext(), content.ID("missing"), 10)
	AssertErrorIs(t, content.ErrNotFound, err)
}
