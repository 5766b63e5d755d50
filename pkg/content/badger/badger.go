// Package badger implements content.Store on top of BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/content/internal/chunk"
)

// Key layout:
//
//	s:<id>            -> blob size (8 bytes, big endian)
//	c:<id>:<index>    -> chunk bytes (index is 8 bytes, big endian)
const (
	sizePrefix  = "s:"
	chunkPrefix = "c:"
)

// BadgerContentStoreConfig configures a BadgerContentStore.
type BadgerContentStoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory (tests, scratch mounts).
	InMemory bool

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64

	// ChunkSize is the chunk size in bytes (default: chunk.DefaultSize)
	ChunkSize int
}

// BadgerContentStore stores each blob as a size record plus fixed-size
// chunks in BadgerDB. Each operation runs in a single transaction, so a
// write or truncate is atomic with respect to its size record.
//
// Implemented Interfaces:
//   - content.Store
//   - content.Lister
//   - content.StatsReporter
//   - io.Closer
type BadgerContentStore struct {
	db        *badgerdb.DB
	chunkSize int
}

// NewBadgerContentStore opens (or creates) a BadgerDB-backed content store.
func NewBadgerContentStore(ctx context.Context, config BadgerContentStoreConfig) (*BadgerContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	if config.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("badger content store: path is required")
		}
		opts = badgerdb.DefaultOptions(config.Path)
	}

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING).WithBlockCacheSize(blockCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}

	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}

	return &BadgerContentStore{db: db, chunkSize: chunkSize}, nil
}

// ============================================================================
// Keys
// ============================================================================

func sizeKey(id content.ID) []byte {
	return []byte(sizePrefix + string(id))
}

func chunkKeyPrefix(id content.ID) []byte {
	return []byte(chunkPrefix + string(id) + ":")
}

func chunkKey(id content.ID, index uint64) []byte {
	return binary.BigEndian.AppendUint64(chunkKeyPrefix(id), index)
}

// getSize returns the blob size or content.ErrNotFound.
func getSize(txn *badgerdb.Txn, id content.ID) (uint64, error) {
	item, err := txn.Get(sizeKey(id))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return 0, content.NotFound(id)
		}
		return 0, err
	}

	var size uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("content %s: corrupt size record", id)
		}
		size = binary.BigEndian.Uint64(val)
		return nil
	})

	return size, err
}

func putSize(txn *badgerdb.Txn, id content.ID, size uint64) error {
	return txn.Set(sizeKey(id), binary.BigEndian.AppendUint64(nil, size))
}

// chunkTxn adapts a Badger transaction to chunk.Txn for one blob.
type chunkTxn struct {
	txn *badgerdb.Txn
	id  content.ID
}

func (c chunkTxn) Get(index uint64) ([]byte, error) {
	item, err := c.txn.Get(chunkKey(c.id, index))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (c chunkTxn) Put(index uint64, data []byte) error {
	return c.txn.Set(chunkKey(c.id, index), data)
}

func (c chunkTxn) Delete(index uint64) error {
	return c.txn.Delete(chunkKey(c.id, index))
}

// ============================================================================
// content.Store Implementation
// ============================================================================

// Create allocates a new empty blob under a random UUID.
func (s *BadgerContentStore) Create(ctx context.Context) (content.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := content.ID(uuid.NewString())
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return putSize(txn, id, 0)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create content: %w", err)
	}

	return id, nil
}

// ReadAt reads up to length bytes at offset.
func (s *BadgerContentStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return nil, err
	}

	var result []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		size, err := getSize(txn, id)
		if err != nil {
			return err
		}

		result, err = chunk.Read(chunkTxn{txn: txn, id: id}, size, uint64(offset), length, s.chunkSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// WriteAt writes data at offset. Untouched chunks inside a gap are never
// stored and read back as zeros.
func (s *BadgerContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return 0, err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		size, err := getSize(txn, id)
		if err != nil {
			return err
		}

		newSize, err := chunk.Write(chunkTxn{txn: txn, id: id}, size, data, uint64(offset), s.chunkSize)
		if err != nil {
			return err
		}

		return putSize(txn, id, newSize)
	})
	if err != nil {
		return 0, err
	}

	return len(data), nil
}

// Truncate changes the blob size, dropping chunks past the new end.
func (s *BadgerContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		current, err := getSize(txn, id)
		if err != nil {
			return err
		}

		if err := chunk.Truncate(chunkTxn{txn: txn, id: id}, current, size, s.chunkSize); err != nil {
			return err
		}

		return putSize(txn, id, size)
	})
}

// Destroy deletes the size record and every chunk of the blob.
func (s *BadgerContentStore) Destroy(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(sizeKey(id)); err != nil {
			return err
		}

		prefix := chunkKeyPrefix(id)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Optional Interfaces
// ============================================================================

// forEachSize calls fn for every size record.
func (s *BadgerContentStore) forEachSize(fn func(id content.ID, size uint64)) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(sizePrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := content.ID(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					fn(id, binary.BigEndian.Uint64(val))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the IDs of every stored blob.
func (s *BadgerContentStore) List(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []content.ID
	err := s.forEachSize(func(id content.ID, _ uint64) {
		ids = append(ids, id)
	})

	return ids, err
}

// Stats sums the logical sizes of every blob.
func (s *BadgerContentStore) Stats(ctx context.Context) (*content.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &content.Stats{Backend: "badger"}
	err := s.forEachSize(func(_ content.ID, size uint64) {
		stats.UsedSize += size
		stats.ContentCount++
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Close closes the underlying database.
func (s *BadgerContentStore) Close() error {
	return s.db.Close()
}
