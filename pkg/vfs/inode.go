package vfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/metrics"
)

// inode is one filesystem object.
//
// attr, content and refs are guarded by InodeStore.mu. io serializes content
// I/O on this inode: readers share it, writers and truncation hold it
// exclusively. io is never acquired while a table lock is held.
type inode struct {
	attr    Attributes
	content content.ID
	refs    int64

	io sync.RWMutex
}

// InodeStore is the arena of inodes addressed by InodeID.
//
// It owns reference counting: an inode is reclaimed (its record dropped and its
// content destroyed) once it has no references and no directory entry.
//
// Thread Safety:
// All public methods are safe for concurrent use. The *Locked variants expect
// the caller to hold mu and are composed by the Dispatcher.
type InodeStore struct {
	mu     sync.RWMutex
	inodes map[InodeID]*inode
	nextID InodeID

	content     content.Store
	metrics     metrics.VFSMetrics
	clock       func() time.Time
	maxFileSize uint64
}

// DefaultMaxFileSize bounds regular files when no limit is configured.
const DefaultMaxFileSize uint64 = 1 << 40

// NewInodeStore creates a store holding only the root directory.
func NewInodeStore(store content.Store, root Attributes, m metrics.VFSMetrics, clock func() time.Time) *InodeStore {
	if m == nil {
		m = metrics.NewNoopVFSMetrics()
	}
	if clock == nil {
		clock = time.Now
	}

	root.Ino = RootInodeID
	root.Kind = KindDirectory
	root.Nlink = linkedNlink(KindDirectory)

	s := &InodeStore{
		inodes:      make(map[InodeID]*inode),
		nextID:      RootInodeID + 1,
		content:     store,
		metrics:     m,
		clock:       clock,
		maxFileSize: DefaultMaxFileSize,
	}

	// The root's reference is never released.
	s.inodes[RootInodeID] = &inode{attr: root, refs: 1}
	return s
}

// ============================================================================
// Allocation
// ============================================================================

// Allocate creates an unlinked inode with link count zero. It is reclaimed on
// the first Release that leaves it unreferenced. For regular files the backing
// content is created first, outside the lock.
func (s *InodeStore) Allocate(ctx context.Context, kind FileKind, mode, uid, gid uint32) (InodeID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var cid content.ID
	if kind == KindRegular {
		id, err := s.content.Create(ctx)
		if err != nil {
			return 0, ioError("create content", err)
		}
		cid = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(kind, mode, uid, gid, cid), nil
}

func (s *InodeStore) allocateLocked(kind FileKind, mode, uid, gid uint32, cid content.ID) InodeID {
	ino := s.nextID
	s.nextID++

	s.inodes[ino] = &inode{
		attr:    newAttributes(ino, kind, mode, uid, gid, s.clock()),
		content: cid,
	}
	s.metrics.SetInodes(len(s.inodes))
	return ino
}

// ============================================================================
// Attributes
// ============================================================================

// GetAttributes returns a copy of the inode's attributes.
func (s *InodeStore) GetAttributes(ino InodeID) (Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.getLocked(ino)
	if err != nil {
		return Attributes{}, err
	}
	return n.attr, nil
}

func (s *InodeStore) getLocked(ino InodeID) (*inode, error) {
	n, ok := s.inodes[ino]
	if !ok {
		return nil, newError(ErrNotFound, "inode not found", "")
	}
	return n, nil
}

// SetAttributes applies a partial update. A size change truncates or extends
// the content and is rejected on directories.
func (s *InodeStore) SetAttributes(ctx context.Context, ino InodeID, req *SetAttrRequest) (Attributes, error) {
	if err := ctx.Err(); err != nil {
		return Attributes{}, err
	}

	if req.Size != nil {
		if err := s.Truncate(ctx, ino, *req.Size); err != nil {
			return Attributes{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.getLocked(ino)
	if err != nil {
		return Attributes{}, err
	}
	applySetAttr(&n.attr, req, s.clock())
	return n.attr, nil
}

// Len returns the number of live inodes, root included.
func (s *InodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inodes)
}

// ContentIDs returns every content id referenced by a live inode.
func (s *InodeStore) ContentIDs() map[content.ID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[content.ID]struct{}, len(s.inodes))
	for _, n := range s.inodes {
		if n.content != "" {
			ids[n.content] = struct{}{}
		}
	}
	return ids
}

// usedBytes sums the size of every regular file.
func (s *InodeStore) usedBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, n := range s.inodes {
		if n.attr.Kind == KindRegular {
			total += n.attr.Size
		}
	}
	return total
}

// ============================================================================
// Reference counting
// ============================================================================

// Retain adds a reference to the inode.
func (s *InodeStore) Retain(ino InodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retainLocked(ino)
}

func (s *InodeStore) retainLocked(ino InodeID) error {
	n, err := s.getLocked(ino)
	if err != nil {
		return err
	}
	n.refs++
	return nil
}

// Release drops a reference and reclaims the inode if it was the last one and
// the inode is no longer linked.
func (s *InodeStore) Release(ctx context.Context, ino InodeID) error {
	s.mu.Lock()
	orphan, err := s.releaseLocked(ino)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.destroy(ctx, orphan)
	return nil
}

// releaseLocked drops a reference. When the inode is reclaimed it returns the
// content id the caller must destroy once every lock is dropped.
func (s *InodeStore) releaseLocked(ino InodeID) (content.ID, error) {
	n, err := s.getLocked(ino)
	if err != nil {
		return "", err
	}

	if n.refs > 0 {
		n.refs--
	}
	return s.maybeReclaimLocked(ino, n), nil
}

func (s *InodeStore) maybeReclaimLocked(ino InodeID, n *inode) content.ID {
	if ino == RootInodeID || n.refs > 0 || n.attr.Nlink > 0 {
		return ""
	}

	delete(s.inodes, ino)
	s.metrics.SetInodes(len(s.inodes))
	s.metrics.RecordReclaim()
	logger.Debug("Reclaimed inode %d (content=%q)", ino, n.content)
	return n.content
}

// destroy deletes orphaned content. Failures are logged only: the inode is
// already gone and the collector picks up whatever is left behind.
func (s *InodeStore) destroy(ctx context.Context, ids ...content.ID) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := s.content.Destroy(context.WithoutCancel(ctx), id); err != nil {
			logger.Warn("Failed to destroy content %s: %v", id, err)
		}
	}
}

// ============================================================================
// Content I/O
// ============================================================================

// pin retains a regular file for content I/O and returns it.
func (s *InodeStore) pin(ino InodeID) (*inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.getLocked(ino)
	if err != nil {
		return nil, err
	}
	if n.attr.Kind == KindDirectory {
		return nil, newError(ErrIsDirectory, "is a directory", "")
	}
	n.refs++
	return n, nil
}

// unpin drops the I/O reference taken by pin.
func (s *InodeStore) unpin(ctx context.Context, ino InodeID) {
	s.mu.Lock()
	orphan, _ := s.releaseLocked(ino)
	s.mu.Unlock()
	s.destroy(ctx, orphan)
}

// ReadContent reads up to length bytes at offset. The request is clamped to
// the inode size and any range the backend did not return is zero-filled, so
// the result is short only at end of file.
func (s *InodeStore) ReadContent(ctx context.Context, ino InodeID, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, newError(ErrInvalidArgument, "negative offset or length", "")
	}

	n, err := s.pin(ino)
	if err != nil {
		return nil, err
	}
	defer s.unpin(ctx, ino)

	n.io.RLock()
	defer n.io.RUnlock()

	s.mu.RLock()
	size := n.attr.Size
	s.mu.RUnlock()

	if uint64(offset) >= size || length == 0 {
		return []byte{}, nil
	}
	if remaining := size - uint64(offset); uint64(length) > remaining {
		length = int(remaining)
	}

	data, err := s.content.ReadAt(ctx, n.content, offset, length)
	if err != nil {
		return nil, ioError("read content", err)
	}

	if len(data) < length {
		buf := make([]byte, length)
		copy(buf, data)
		data = buf
	} else if len(data) > length {
		data = data[:length]
	}

	s.mu.Lock()
	n.attr.Atime = s.clock()
	s.mu.Unlock()

	return data, nil
}

// WriteContent writes data at offset, zero-filling any gap past the current
// size.
func (s *InodeStore) WriteContent(ctx context.Context, ino InodeID, offset int64, data []byte) (int, error) {
	written, _, err := s.writeContent(ctx, ino, offset, data, false)
	return written, err
}

// writeContent writes data at offset, or at the current size when appending.
// It returns the bytes written and the offset following the last byte.
func (s *InodeStore) writeContent(ctx context.Context, ino InodeID, offset int64, data []byte, appending bool) (int, int64, error) {
	if offset < 0 {
		return 0, 0, newError(ErrInvalidArgument, "negative offset", "")
	}

	n, err := s.pin(ino)
	if err != nil {
		return 0, 0, err
	}
	defer s.unpin(ctx, ino)

	n.io.Lock()
	defer n.io.Unlock()

	if appending {
		s.mu.RLock()
		offset = int64(n.attr.Size)
		s.mu.RUnlock()
	}

	if len(data) == 0 {
		return 0, offset, nil
	}
	if end := uint64(offset) + uint64(len(data)); end > s.maxFileSize {
		return 0, 0, newError(ErrFileTooLarge, fmt.Sprintf("write would grow file to %d bytes", end), "")
	}

	written, err := s.content.WriteAt(ctx, n.content, data, offset)
	if err != nil {
		return 0, 0, ioError("write content", err)
	}

	end := offset + int64(written)

	s.mu.Lock()
	if uint64(end) > n.attr.Size {
		n.attr.Size = uint64(end)
	}
	touchModified(&n.attr, s.clock())
	s.mu.Unlock()

	return written, end, nil
}

// Truncate sets the content length to size, shrinking or zero-extending it.
func (s *InodeStore) Truncate(ctx context.Context, ino InodeID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.pin(ino)
	if err != nil {
		return err
	}
	defer s.unpin(ctx, ino)

	if size > s.maxFileSize {
		return newError(ErrFileTooLarge, fmt.Sprintf("size %d exceeds the %d byte limit", size, s.maxFileSize), "")
	}

	n.io.Lock()
	defer n.io.Unlock()

	if err := s.content.Truncate(ctx, n.content, size); err != nil {
		return ioError("truncate content", err)
	}

	s.mu.Lock()
	n.attr.Size = size
	touchModified(&n.attr, s.clock())
	s.mu.Unlock()

	return nil
}
