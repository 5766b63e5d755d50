package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/siafuse/pkg/content"
)

// MemoryContentStore implements content.Store with one byte buffer per blob.
//
// This is the default backend. It is designed for:
//   - Testing and development
//   - Ephemeral mounts where nothing must survive the process
//
// Characteristics:
//   - Fast: All operations are memory-speed and never block
//   - Volatile: Data lost on unmount
//   - Memory-bound: Limited by available RAM
//   - Thread-safe: Protected by RWMutex
//
// Implemented Interfaces:
//   - content.Store
//   - content.Lister
//   - content.StatsReporter
type MemoryContentStore struct {
	// data stores the blob bytes keyed by ID
	data map[content.ID][]byte

	// maxSize bounds a single blob; larger writes fail with content.ErrTooLarge
	maxSize uint64

	// mu protects concurrent access to data map
	mu sync.RWMutex
}

// DefaultMaxBlobSize bounds a single blob unless SetMaxBlobSize says otherwise.
const DefaultMaxBlobSize uint64 = 4 << 30

// NewMemoryContentStore creates a new, empty in-memory content store.
//
// Returns:
//   - *MemoryContentStore: Initialized store
//   - error: Only returns error if context is cancelled
func NewMemoryContentStore(ctx context.Context) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data:    make(map[content.ID][]byte),
		maxSize: DefaultMaxBlobSize,
	}, nil
}

// SetMaxBlobSize changes the largest blob the store accepts. Zero restores
// the default.
func (s *MemoryContentStore) SetMaxBlobSize(size uint64) {
	if size == 0 {
		size = DefaultMaxBlobSize
	}
	s.mu.Lock()
	s.maxSize = size
	s.mu.Unlock()
}

// ============================================================================
// content.Store Implementation
// ============================================================================

// Create allocates a new empty blob under a random UUID.
func (s *MemoryContentStore) Create(ctx context.Context) (content.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := content.ID(uuid.NewString())

	s.mu.Lock()
	s.data[id] = []byte{}
	s.mu.Unlock()

	return id, nil
}

// ReadAt returns a copy of up to length bytes starting at offset.
//
// The copy prevents data races with later writes to the same blob.
func (s *MemoryContentStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	// ========================================================================
	// Step 1: Check context and validate arguments
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := content.ValidateOffset(id, offset); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Copy the requested range
	// ========================================================================

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[id]
	if !exists {
		return nil, content.NotFound(id)
	}

	size := int64(len(data))
	if offset >= size || length <= 0 {
		return []byte{}, nil
	}

	end := min(offset+int64(length), size)

	result := make([]byte, end-offset)
	copy(result, data[offset:end])

	return result, nil
}

// WriteAt writes data at the specified offset.
//
// Sparse semantics:
//   - If offset > current size: the gap is zero-filled
//   - If offset < current size: existing bytes are overwritten
func (s *MemoryContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) (int, error) {
	// ========================================================================
	// Step 1: Check context and validate arguments
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := content.ValidateOffset(id, offset); err != nil {
		return 0, err
	}

	// ========================================================================
	// Step 2: Grow the buffer if needed and copy the data in
	// ========================================================================

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[id]
	if !exists {
		return 0, content.NotFound(id)
	}

	end := offset + int64(len(data))
	if uint64(end) > s.maxSize {
		return 0, content.TooLarge(id, uint64(end))
	}
	if end > int64(len(existing)) {
		// Gap between old size and offset is already zeros (from make())
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}

	copy(existing[offset:], data)
	s.data[id] = existing

	return len(data), nil
}

// Truncate changes the size of the blob.
//
// Truncate Semantics:
//   - If size < current size: trailing data is removed
//   - If size > current size: the blob is extended with zeros
//   - If size == current size: no-op
func (s *MemoryContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[id]
	if !exists {
		return content.NotFound(id)
	}

	current := uint64(len(existing))
	if size == current {
		return nil
	}
	if size > s.maxSize {
		return content.TooLarge(id, size)
	}

	// Always copy so a shrunk blob does not pin the old backing array and
	// a later grow cannot resurrect truncated bytes.
	resized := make([]byte, size)
	copy(resized, existing)
	s.data[id] = resized

	return nil
}

// Destroy removes the blob. Destroying a missing blob is a no-op.
func (s *MemoryContentStore) Destroy(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()

	return nil
}

// ============================================================================
// Optional Interfaces
// ============================================================================

// List returns the IDs of every stored blob, in no particular order.
func (s *MemoryContentStore) List(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]content.ID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}

	return ids, nil
}

// Stats returns usage statistics calculated from the current state.
func (s *MemoryContentStore) Stats(ctx context.Context) (*content.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var used uint64
	for _, data := range s.data {
		used += uint64(len(data))
	}

	return &content.Stats{
		Backend:      "memory",
		UsedSize:     used,
		ContentCount: uint64(len(s.data)),
	}, nil
}
