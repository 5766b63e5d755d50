package content

import (
	"context"
)

// ID is an opaque identifier of one content blob.
//
// The format is backend-specific (a UUID for memory and filesystem stores,
// an object key suffix for S3, a key prefix for the KV stores). Callers must
// treat it as opaque.
type ID string

// ============================================================================
// Store Interface
// ============================================================================

// Store is the content storage interface consumed by the inode store.
//
// A Store manages only raw file bytes. It knows nothing about names,
// directories, attributes or handles; the vfs package keeps the inode to
// content mapping and decides when a blob is created or destroyed.
//
// Semantics every implementation must honor:
//   - WriteAt past the current end zero-fills the gap
//   - ReadAt returns fewer bytes than requested only at end of content,
//     and an empty slice (not an error) at or past the end
//   - Truncate both shrinks and extends (extension zero-fills)
//   - Destroy is idempotent: destroying a missing blob is not an error
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writes to the
// same ID are serialized by the caller (the inode content lock), so backends
// only need to protect their own bookkeeping.
type Store interface {
	// Create allocates a new empty blob and returns its identifier.
	Create(ctx context.Context) (ID, error)

	// ReadAt reads up to length bytes starting at offset.
	//
	// Returns:
	//   - []byte: The data read. Short only at end of content.
	//   - error: ErrNotFound if the blob does not exist, ErrInvalidOffset
	//     for negative offsets, or backend errors
	ReadAt(ctx context.Context, id ID, offset int64, length int) ([]byte, error)

	// WriteAt writes data at offset, growing the blob as needed.
	//
	// Returns:
	//   - int: Number of bytes written (len(data) on success)
	//   - error: ErrNotFound if the blob does not exist, ErrInvalidOffset
	//     for negative offsets, or backend errors
	WriteAt(ctx context.Context, id ID, data []byte, offset int64) (int, error)

	// Truncate sets the blob length to size.
	Truncate(ctx context.Context, id ID, size uint64) error

	// Destroy removes the blob and releases its storage.
	Destroy(ctx context.Context, id ID) error
}

// Lister is implemented by stores that can enumerate their blobs.
//
// The orphan collector uses it to find content no inode references anymore,
// which happens with persistent backends after a restart because the
// namespace itself lives in memory only.
type Lister interface {
	List(ctx context.Context) ([]ID, error)
}

// StatsReporter is implemented by stores that can report usage.
type StatsReporter interface {
	Stats(ctx context.Context) (*Stats, error)
}

// Stats describes the storage usage of a Store.
type Stats struct {
	// Backend is a short backend name ("memory", "filesystem", ...).
	Backend string

	// UsedSize is the number of content bytes currently stored.
	UsedSize uint64

	// ContentCount is the number of blobs currently stored.
	ContentCount uint64
}

// ValidateOffset returns ErrInvalidOffset for negative offsets.
func ValidateOffset(id ID, offset int64) error {
	if offset < 0 {
		return &OffsetError{ID: id, Offset: offset}
	}
	return nil
}
