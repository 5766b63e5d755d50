package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFSMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVFSMetricsWith(reg).(*vfsMetrics)

	m.RecordOperation("lookup", time.Millisecond, "")
	m.RecordOperation("lookup", time.Millisecond, "NotFound")
	m.RecordOperation("mkdir", time.Millisecond, "")
	m.RecordBytes("read", 100)
	m.RecordBytes("read", 28)
	m.SetInodes(7)
	m.SetOpenHandles(3)
	m.RecordReclaim()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("lookup", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("lookup", "error", "NotFound")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("read")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.inodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.openHandles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reclaimsTotal))

	count, err := testutil.GatherAndCount(reg, "siafuse_vfs_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one histogram per operation label")
}

func TestContentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewContentMetricsWith(reg, "memory").(*contentMetrics)

	m.ObserveOperation("write", time.Millisecond, nil)
	m.ObserveOperation("write", time.Millisecond, errors.New("boom"))
	m.RecordBytes("write", 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("memory", "write", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("memory", "write", "error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("memory", "write")))
}

func TestFUSEMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFUSEMetricsWith(reg).(*fuseMetrics)

	m.RecordRequestStart("read")
	m.RecordRequestStart("read")
	m.RecordRequestEnd("read")
	m.RecordRequest("read", time.Millisecond, 0)
	m.RecordRequest("lookup", time.Millisecond, 2)
	m.RecordThrottled()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("lookup", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttledTotal))
}

func TestConstructors_DisabledReturnNoop(t *testing.T) {
	// The global registry is never initialized in this package's tests.
	assert.NotPanics(t, func() {
		NewVFSMetrics().RecordOperation("lookup", time.Millisecond, "")
		NewContentMetrics("memory").RecordBytes("read", 1)
		NewFUSEMetrics().RecordThrottled()
	})
}
