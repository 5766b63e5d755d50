package testing

import (
	"errors"
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustCreate allocates a blob and fails the test if it errors.
func mustCreate(t *testing.T, store content.Store) content.ID {
	t.Helper()
	id, err := store.Create(testContext())
	require.NoError(t, err, "Create should succeed")
	require.NotEmpty(t, id, "Create should return a non-empty ID")
	return id
}

// mustWriteAt writes data at offset and fails the test if it errors.
func mustWriteAt(t *testing.T, store content.Store, id content.ID, data []byte, offset int64) {
	t.Helper()
	n, err := store.WriteAt(testContext(), id, data, offset)
	require.NoError(t, err, "WriteAt should succeed")
	require.Equal(t, len(data), n, "WriteAt should write every byte")
}

// mustReadAt reads a range and fails the test if it errors.
func mustReadAt(t *testing.T, store content.Store, id content.ID, offset int64, length int) []byte {
	t.Helper()
	data, err := store.ReadAt(testContext(), id, offset, length)
	require.NoError(t, err, "ReadAt should succeed")
	return data
}

// mustTruncate truncates a blob and fails the test if it errors.
func mustTruncate(t *testing.T, store content.Store, id content.ID, size uint64) {
	t.Helper()
	err := store.Truncate(testContext(), id, size)
	require.NoError(t, err, "Truncate should succeed")
}

// mustDestroy destroys a blob and fails the test if it errors.
func mustDestroy(t *testing.T, store content.Store, id content.ID) {
	t.Helper()
	err := store.Destroy(testContext(), id)
	require.NoError(t, err, "Destroy should succeed")
}

// assertContentEquals reads the whole blob (up to a generous bound) and
// compares it with expected.
func assertContentEquals(t *testing.T, store content.Store, id content.ID, expected []byte) {
	t.Helper()
	data := mustReadAt(t, store, id, 0, len(expected)+4096)
	assert.Equal(t, expected, data, "Content mismatch")
}

// assertNotFound checks that the blob is gone.
func assertNotFound(t *testing.T, store content.Store, id content.ID) {
	t.Helper()
	_, err := store.ReadAt(testContext(), id, 0, 1)
	AssertErrorIs(t, content.ErrNotFound, err)
}

// patterned returns n bytes of a repeating, position-dependent pattern so
// misplaced ranges are easy to spot.
func patterned(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i%251)
	}
	return buf
}
