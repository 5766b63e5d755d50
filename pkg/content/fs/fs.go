// Package fs implements content.Store on a local directory, one file per blob.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/siafuse/pkg/content"
)

const defaultFDCacheSize = 512

// FSContentStore implements content.Store using the local filesystem.
//
// Each blob is a regular file under basePath whose name is the hex encoding
// of its ID. Hex encoding keeps arbitrary IDs filesystem-safe.
//
// The namespace lives in memory, so blobs left behind by a previous run are
// orphans. They are listed by List and reclaimed by the orphan collector.
//
// Thread Safety:
// Safe for concurrent use. Writes to the same blob are serialized by the
// caller; ReadAt/WriteAt on *os.File are positional and need no seek lock.
type FSContentStore struct {
	basePath string
	fds      *fdCache
}

// NewFSContentStore creates a filesystem-backed content store rooted at
// basePath, creating the directory if needed.
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if basePath == "" {
		return nil, errors.New("filesystem content store: path is required")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{
		basePath: basePath,
		fds:      newFDCache(defaultFDCacheSize),
	}, nil
}

// getFilePath returns the on-disk path of a blob.
func (r *FSContentStore) getFilePath(id content.ID) string {
	return filepath.Join(r.basePath, hex.EncodeToString([]byte(id)))
}

// withFile runs fn with an open read-write file for id.
func (r *FSContentStore) withFile(id content.ID, fn func(*os.File) error) error {
	file, err := r.fds.acquire(id, func() (*os.File, error) {
		f, err := os.OpenFile(r.getFilePath(id), os.O_RDWR, 0)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, content.NotFound(id)
			}
			return nil, fmt.Errorf("failed to open content: %w", err)
		}
		return f, nil
	})
	if err != nil {
		return err
	}
	defer r.fds.release(id)

	return fn(file)
}

// Create allocates a new empty blob under a random UUID.
func (r *FSContentStore) Create(ctx context.Context) (content.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := content.ID(uuid.NewString())

	file, err := os.OpenFile(r.getFilePath(id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create content: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close content: %w", err)
	}

	return id, nil
}

// ReadAt reads up to length bytes at offset. Short reads happen only at the
// end of the file.
func (r *FSContentStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := content.ValidateOffset(id, offset); err != nil {
		return nil, err
	}

	var result []byte
	err := r.withFile(id, func(f *os.File) error {
		if length <= 0 {
			result = []byte{}
			return nil
		}

		buf := make([]byte, length)
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read content: %w", err)
		}
		result = buf[:n]
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// WriteAt writes data at offset. The OS zero-fills any gap past the
// previous end of file.
func (r *FSContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := content.ValidateOffset(id, offset); err != nil {
		return 0, err
	}

	var written int
	err := r.withFile(id, func(f *os.File) error {
		n, err := f.WriteAt(data, offset)
		written = n
		if err != nil {
			return fmt.Errorf("failed to write content: %w", err)
		}
		return nil
	})

	return written, err
}

// Truncate changes the size of the blob file.
func (r *FSContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.withFile(id, func(f *os.File) error {
		if err := f.Truncate(int64(size)); err != nil {
			return fmt.Errorf("failed to truncate content: %w", err)
		}
		return nil
	})
}

// Destroy removes the blob file. Removing a missing blob is a no-op.
func (r *FSContentStore) Destroy(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.fds.remove(id)

	if err := os.Remove(r.getFilePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove content: %w", err)
	}

	return nil
}

// List returns the IDs of every blob file under basePath. Entries whose
// names are not valid hex (foreign files) are skipped.
func (r *FSContentStore) List(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}

	ids := make([]content.ID, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, content.ID(raw))
	}

	return ids, nil
}

// Stats sums the sizes of every blob file.
func (r *FSContentStore) Stats(ctx context.Context) (*content.Stats, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &content.Stats{Backend: "filesystem"}
	for _, id := range ids {
		info, err := os.Stat(r.getFilePath(id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat content: %w", err)
		}
		stats.UsedSize += uint64(info.Size())
		stats.ContentCount++
	}

	return stats, nil
}

// Close releases every cached file descriptor.
func (r *FSContentStore) Close() error {
	return r.fds.close()
}
