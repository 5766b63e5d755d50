// Package chunk implements sparse, fixed-size chunking of blobs for the
// key-value content backends (badger and bolt).
//
// A blob of size S is stored as chunks 0..ceil(S/Size)-1. Missing chunks and
// the tail of a short chunk read as zeros, so writes far past the end cost
// only the chunks they touch.
package chunk

import "fmt"

// DefaultSize is the chunk size used by the KV backends.
const DefaultSize = 64 * 1024

// Txn is the per-blob view of a key-value transaction.
//
// Get returns (nil, nil) for a missing chunk. Returned slices must stay valid
// until the end of the calling function, so implementations backed by
// transaction-scoped memory must copy.
type Txn interface {
	Get(index uint64) ([]byte, error)
	Put(index uint64, data []byte) error
	Delete(index uint64) error
}

// Span is the part of one chunk covered by a byte range.
type Span struct {
	Index uint64 // chunk index
	Start int    // first byte inside the chunk
	End   int    // one past the last byte inside the chunk
	Pos   int    // position of Start inside the caller's buffer
}

// Spans splits [offset, offset+length) into per-chunk spans.
func Spans(offset uint64, length int, size int) []Span {
	if length <= 0 {
		return nil
	}

	spans := make([]Span, 0, length/size+2)
	pos := 0
	for pos < length {
		abs := offset + uint64(pos)
		index := abs / uint64(size)
		start := int(abs % uint64(size))
		end := min(size, start+(length-pos))

		spans = append(spans, Span{Index: index, Start: start, End: end, Pos: pos})
		pos += end - start
	}

	return spans
}

// Count returns the number of chunks a blob of the given size spans.
func Count(blobSize uint64, size int) uint64 {
	return (blobSize + uint64(size) - 1) / uint64(size)
}

// Read reads up to length bytes at offset from a blob of blobSize bytes.
func Read(tx Txn, blobSize uint64, offset uint64, length int, size int) ([]byte, error) {
	if offset >= blobSize || length <= 0 {
		return []byte{}, nil
	}

	length = int(min(uint64(length), blobSize-offset))
	buf := make([]byte, length)

	for _, span := range Spans(offset, length, size) {
		data, err := tx.Get(span.Index)
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", span.Index, err)
		}
		if span.Start < len(data) {
			copy(buf[span.Pos:span.Pos+span.End-span.Start], data[span.Start:min(span.End, len(data))])
		}
	}

	return buf, nil
}

// Write writes data at offset and returns the new blob size.
func Write(tx Txn, blobSize uint64, data []byte, offset uint64, size int) (uint64, error) {
	for _, span := range Spans(offset, len(data), size) {
		existing, err := tx.Get(span.Index)
		if err != nil {
			return blobSize, fmt.Errorf("read chunk %d: %w", span.Index, err)
		}

		chunk := existing
		if len(chunk) < span.End {
			grown := make([]byte, span.End)
			copy(grown, existing)
			chunk = grown
		} else {
			chunk = append([]byte(nil), existing...)
		}

		copy(chunk[span.Start:span.End], data[span.Pos:span.Pos+span.End-span.Start])

		if err := tx.Put(span.Index, chunk); err != nil {
			return blobSize, fmt.Errorf("write chunk %d: %w", span.Index, err)
		}
	}

	return max(blobSize, offset+uint64(len(data))), nil
}

// Truncate shrinks a blob from blobSize to newSize, deleting whole chunks
// past the end and trimming the new last chunk so a later extension reads
// zeros. Growing needs no chunk changes.
func Truncate(tx Txn, blobSize, newSize uint64, size int) error {
	if newSize >= blobSize {
		return nil
	}

	keep := Count(newSize, size)
	for index := keep; index < Count(blobSize, size); index++ {
		if err := tx.Delete(index); err != nil {
			return fmt.Errorf("delete chunk %d: %w", index, err)
		}
	}

	tail := int(newSize % uint64(size))
	if tail == 0 {
		return nil
	}

	last := keep - 1
	data, err := tx.Get(last)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", last, err)
	}
	if len(data) <= tail {
		return nil
	}

	if err := tx.Put(last, append([]byte(nil), data[:tail]...)); err != nil {
		return fmt.Errorf("write chunk %d: %w", last, err)
	}

	return nil
}
