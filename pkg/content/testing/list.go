package testing

import (
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunListTests executes content.Lister tests.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("List_All", suite.testListAll)
	t.Run("List_AfterDestroy", suite.testListAfterDestroy)
}

// RunStatsTests executes content.StatsReporter tests.
func (suite *StoreTestSuite) RunStatsTests(t *testing.T) {
	t.Run("Stats_Counts", suite.testStatsCounts)
}

func (suite *StoreTestSuite) testListAll(t *testing.T) {
	store := suite.NewStore(t)
	lister, ok := store.(content.Lister)
	if !ok {
		t.Skip("Store does not implement content.Lister")
	}

	a := mustCreate(t, store)
	b := mustCreate(t, store)
	mustWriteAt(t, store, b, []byte("payload"), 0)

	ids, err := lister.List(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.ID{a, b}, ids)
}

func (suite *StoreTestSuite) testListAfterDestroy(t *testing.T) {
	store := suite.NewStore(t)
	lister, ok := store.(content.Lister)
	if !ok {
		t.Skip("Store does not implement content.Lister")
	}

	a := mustCreate(t, store)
	b := mustCreate(t, store)
	mustDestroy(t, store, a)

	ids, err := lister.List(testContext())
	require.NoError(t, err)
	assert.Equal(t, []content.ID{b}, ids)
}

func (suite *StoreTestSuite) testStatsCounts(t *testing.T) {
	store := suite.NewStore(t)
	reporter, ok := store.(content.StatsReporter)
	if !ok {
		t.Skip("Store does not implement content.StatsReporter")
	}

	a := mustCreate(t, store)
	b := mustCreate(t, store)
	mustWriteAt(t, store, a, []byte("12345"), 0)
	mustWriteAt(t, store, b, []byte("123"), 0)

	stats, err := reporter.Stats(testContext())
	require.NoError(t, err)
	assert.NotEmpty(t, stats.Backend)
	assert.Equal(t, uint64(2), stats.ContentCount)
	assert.Equal(t, uint64(8), stats.UsedSize)
}
