package metrics

import "time"

// VFSMetrics provides observability for the filesystem engine.
//
// The dispatcher records one operation per call. This interface is optional -
// if not provided to the dispatcher, a no-op implementation is used.
type VFSMetrics interface {
	// RecordOperation records a completed dispatcher operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "lookup", "read", "mkdir")
	//   - duration: Time taken, including lock waits and content I/O
	//   - errorCode: Empty on success, else the error code name ("NotFound")
	RecordOperation(operation string, duration time.Duration, errorCode string)

	// RecordBytes records bytes read or written through handles.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytes(direction string, bytes int)

	// SetInodes updates the number of live inodes.
	SetInodes(count int)

	// SetOpenHandles updates the number of open handles.
	SetOpenHandles(count int)

	// RecordReclaim counts an inode whose storage was reclaimed.
	RecordReclaim()
}

// NewNoopVFSMetrics returns a VFSMetrics that discards everything.
func NewNoopVFSMetrics() VFSMetrics {
	return noopVFSMetrics{}
}

// noopVFSMetrics is a no-op implementation of VFSMetrics with zero overhead.
type noopVFSMetrics struct{}

func (noopVFSMetrics) RecordOperation(string, time.Duration, string) {}
func (noopVFSMetrics) RecordBytes(string, int)                       {}
func (noopVFSMetrics) SetInodes(int)                                 {}
func (noopVFSMetrics) SetOpenHandles(int)                            {}
func (noopVFSMetrics) RecordReclaim()                                {}
