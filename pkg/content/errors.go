package content

import (
	"errors"
	"fmt"
)

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content store implementations. The vfs layer checks for them with
// errors.Is and maps everything else to an I/O failure.
//
// Implementations wrap them with context:
//
//	if !ok {
//	    return fmt.Errorf("content %s: %w", id, content.ErrNotFound)
//	}

var (
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("content not found")

	// ErrInvalidOffset indicates a negative or overflowing offset.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrTooLarge indicates a write or truncate past the largest blob the
	// store can hold.
	ErrTooLarge = errors.New("content too large")

	// ErrNotSupported indicates the store does not implement an optional
	// interface (Lister, StatsReporter).
	ErrNotSupported = errors.New("operation not supported")
)

// OffsetError reports an invalid offset for a blob.
type OffsetError struct {
	ID     ID
	Offset int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("content %s: offset %d: %v", e.ID, e.Offset, ErrInvalidOffset)
}

func (e *OffsetError) Unwrap() error {
	return ErrInvalidOffset
}

// TooLarge wraps ErrTooLarge with the blob id and the requested size.
func TooLarge(id ID, size uint64) error {
	return fmt.Errorf("content %s: size %d: %w", id, size, ErrTooLarge)
}

// NotFound wraps ErrNotFound with the blob id.
func NotFound(id ID) error {
	return fmt.Errorf("content %s: %w", id, ErrNotFound)
}
