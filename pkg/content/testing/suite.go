package testing

import (
	"context"
	"testing"

	"github.com/marmos91/siafuse/pkg/content"
)

// StoreTestSuite is a conformance suite for content.Store implementations.
// It tests the interface contract, not implementation details, so every
// backend (memory, filesystem, badger, bolt, S3) runs the same cases.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return mystore.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. Stores that hold
	// resources should register their cleanup with t.Cleanup.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("Listing", suite.RunListTests)
	t.Run("Statistics", suite.RunStatsTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
