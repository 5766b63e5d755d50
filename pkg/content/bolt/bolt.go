// Package bolt implements content.Store on top of a bbolt database file.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/content/internal/chunk"
	bolt "go.etcd.io/bbolt"
)

var (
	// sizesBucket maps blob id -> size (8 bytes, big endian).
	sizesBucket = []byte("sizes")

	// chunksBucket holds one nested bucket per blob, keyed by chunk index.
	chunksBucket = []byte("chunks")
)

// BoltContentStoreConfig configures a BoltContentStore.
type BoltContentStoreConfig struct {
	// Path is the database file. Its parent directory must exist.
	Path string

	// Timeout bounds how long Open waits for the file lock (default: 1s).
	Timeout time.Duration

	// ChunkSize is the chunk size in bytes (default: chunk.DefaultSize)
	ChunkSize int
}

// BoltContentStore stores blobs as fixed-size chunks in a bbolt file.
//
// bbolt allows a single writer at a time, which matches how the inode
// content lock already serializes writes per blob.
type BoltContentStore struct {
	db        *bolt.DB
	chunkSize int
}

// NewBoltContentStore opens (or creates) a bbolt-backed content store.
func NewBoltContentStore(ctx context.Context, config BoltContentStoreConfig) (*BoltContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.Path == "" {
		return nil, errors.New("bolt content store: path is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sizesBucket, chunksBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}

	return &BoltContentStore{db: db, chunkSize: chunkSize}, nil
}

func i2b(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// getSize returns the blob size or content.ErrNotFound.
func getSize(tx *bolt.Tx, id content.ID) (uint64, error) {
	v := tx.Bucket(sizesBucket).Get([]byte(id))
	if v == nil {
		return 0, content.NotFound(id)
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("content %s: corrupt size record", id)
	}
	return binary.BigEndian.Uint64(v), nil
}

func putSize(tx *bolt.Tx, id content.ID, size uint64) error {
	return tx.Bucket(sizesBucket).Put([]byte(id), i2b(size))
}

// chunkTxn adapts a bbolt transaction to chunk.Txn for one blob. The
// nested bucket is created lazily on the first Put.
type chunkTxn struct {
	tx *bolt.Tx
	id content.ID
}

func (c chunkTxn) bucket() *bolt.Bucket {
	return c.tx.Bucket(chunksBucket).Bucket([]byte(c.id))
}

func (c chunkTxn) Get(index uint64) ([]byte, error) {
	b := c.bucket()
	if b == nil {
		return nil, nil
	}

	v := b.Get(i2b(index))
	if v == nil {
		return nil, nil
	}

	// Values are only valid for the life of the transaction.
	data := make([]byte, len(v))
	copy(data, v)
	return data, nil
}

func (c chunkTxn) Put(index uint64, data []byte) error {
	b, err := c.tx.Bucket(chunksBucket).CreateBucketIfNotExists([]byte(c.id))
	if err != nil {
		return err
	}
	return b.Put(i2b(index), data)
}

func (c chunkTxn) Delete(index uint64) error {
	b := c.bucket()
	if b == nil {
		return nil
	}
	return b.Delete(i2b(index))
}

// Create allocates a new empty blob under a random UUID.
func (s *BoltContentStore) Create(ctx context.Context) (content.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := content.ID(uuid.NewString())
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putSize(tx, id, 0)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create content: %w", err)
	}

	return id, nil
}

// ReadAt reads up to length bytes at offset.
func (s *BoltContentStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return nil, err
	}

	var result []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		size, err := getSize(tx, id)
		if err != nil {
			return err
		}

		result, err = chunk.Read(chunkTxn{tx: tx, id: id}, size, uint64(offset), length, s.chunkSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// WriteAt writes data at offset.
func (s *BoltContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return 0, err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		size, err := getSize(tx, id)
		if err != nil {
			return err
		}

		newSize, err := chunk.Write(chunkTxn{tx: tx, id: id}, size, data, uint64(offset), s.chunkSize)
		if err != nil {
			return err
		}

		return putSize(tx, id, newSize)
	})
	if err != nil {
		return 0, err
	}

	return len(data), nil
}

// Truncate changes the blob size, dropping chunks past the new end.
func (s *BoltContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		current, err := getSize(tx, id)
		if err != nil {
			return err
		}

		if err := chunk.Truncate(chunkTxn{tx: tx, id: id}, current, size, s.chunkSize); err != nil {
			return err
		}

		return putSize(tx, id, size)
	})
}

// Destroy deletes the size record and the blob's chunk bucket.
func (s *BoltContentStore) Destroy(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sizesBucket).Delete([]byte(id)); err != nil {
			return err
		}

		err := tx.Bucket(chunksBucket).DeleteBucket([]byte(id))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
}

// List returns the IDs of every stored blob.
func (s *BoltContentStore) List(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []content.ID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sizesBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, content.ID(k))
			return nil
		})
	})

	return ids, err
}

// Stats sums the logical sizes of every blob.
func (s *BoltContentStore) Stats(ctx context.Context) (*content.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &content.Stats{Backend: "bolt"}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sizesBucket).ForEach(func(_, v []byte) error {
			if len(v) == 8 {
				stats.UsedSize += binary.BigEndian.Uint64(v)
			}
			stats.ContentCount++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Close closes the database file.
func (s *BoltContentStore) Close() error {
	return s.db.Close()
}
