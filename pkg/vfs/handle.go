package vfs

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/marmos91/siafuse/pkg/content"
)

// HandleID identifies an open file or directory.
type HandleID uint64

// OpenFlags describe how a file handle was opened.
type OpenFlags uint32

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
	FlagAppend
	FlagTruncate

	FlagReadWrite = FlagRead | FlagWrite
)

// CanRead reports whether the handle permits reads.
func (f OpenFlags) CanRead() bool { return f&FlagRead != 0 }

// CanWrite reports whether the handle permits writes.
func (f OpenFlags) CanWrite() bool { return f&FlagWrite != 0 }

// DirCursor is the iteration state of a directory handle. Dots counts the
// synthesized "." and ".." entries already returned; After is the sequence
// number of the last real entry returned.
type DirCursor struct {
	Dots  int
	After uint64
}

// HandleInfo is a snapshot of an open handle.
type HandleInfo struct {
	ID     HandleID
	Ino    InodeID
	Kind   FileKind
	Flags  OpenFlags
	Offset int64
	Cursor DirCursor
}

// handle is one open handle. op serializes the calls made through it, so
// reads, writes and listings on the same handle are linearized. users counts
// the calls that hold or wait for op; the id of a closed handle returns to
// the free list only once users drops to zero.
type handle struct {
	info   HandleInfo
	op     sync.Mutex
	users  int
	closed bool
}

// HandleTable tracks open handles. Every handle holds one reference on its
// inode for as long as it is open.
//
// Lock order: the public methods take InodeStore.mu before HandleTable.mu.
// A handle's op lock is taken with no table lock held.
type HandleTable struct {
	mu      sync.Mutex
	handles map[HandleID]*handle
	free    *btree.BTreeG[HandleID]
	next    HandleID

	inodes *InodeStore
}

// NewHandleTable creates an empty table whose handles pin inodes in inodes.
func NewHandleTable(inodes *InodeStore) *HandleTable {
	return &HandleTable{
		handles: make(map[HandleID]*handle),
		free:    btree.NewG(btreeDegree, func(a, b HandleID) bool { return a < b }),
		next:    1,
		inodes:  inodes,
	}
}

// Open opens a regular file.
func (t *HandleTable) Open(ino InodeID, flags OpenFlags) (HandleID, error) {
	t.inodes.mu.Lock()
	defer t.inodes.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked(ino, KindRegular, flags)
}

// OpenDir opens a directory for iteration.
func (t *HandleTable) OpenDir(ino InodeID) (HandleID, error) {
	t.inodes.mu.Lock()
	defer t.inodes.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked(ino, KindDirectory, FlagRead)
}

// openLocked expects both InodeStore.mu and t.mu held.
func (t *HandleTable) openLocked(ino InodeID, kind FileKind, flags OpenFlags) (HandleID, error) {
	n, err := t.inodes.getLocked(ino)
	if err != nil {
		return 0, err
	}
	switch {
	case kind == KindRegular && n.attr.Kind == KindDirectory:
		return 0, newError(ErrIsDirectory, "is a directory", "")
	case kind == KindDirectory && n.attr.Kind != KindDirectory:
		return 0, newError(ErrNotDirectory, "not a directory", "")
	}

	n.refs++

	id := t.allocateIDLocked()
	t.handles[id] = &handle{info: HandleInfo{ID: id, Ino: ino, Kind: kind, Flags: flags}}
	t.inodes.metrics.SetOpenHandles(len(t.handles))
	return id, nil
}

func (t *HandleTable) allocateIDLocked() HandleID {
	if id, ok := t.free.DeleteMin(); ok {
		return id
	}
	id := t.next
	t.next++
	return id
}

// Close closes a handle and releases its inode reference.
func (t *HandleTable) Close(ctx context.Context, id HandleID) error {
	t.inodes.mu.Lock()
	t.mu.Lock()
	orphan, err := t.closeLocked(id)
	t.mu.Unlock()
	t.inodes.mu.Unlock()

	if err != nil {
		return err
	}
	t.inodes.destroy(ctx, orphan)
	return nil
}

// closeLocked expects both locks held. It returns the content to destroy if
// the inode was reclaimed.
func (t *HandleTable) closeLocked(id HandleID) (content.ID, error) {
	h, ok := t.handles[id]
	if !ok {
		return "", newError(ErrNotFound, "handle not open", "")
	}

	delete(t.handles, id)
	h.closed = true
	if h.users == 0 {
		t.free.ReplaceOrInsert(id)
	}
	t.inodes.metrics.SetOpenHandles(len(t.handles))

	return t.inodes.releaseLocked(h.info.Ino)
}

// CloseAll force-closes every handle and returns how many were open.
func (t *HandleTable) CloseAll(ctx context.Context) int {
	t.inodes.mu.Lock()
	t.mu.Lock()

	count := len(t.handles)
	var orphans []content.ID
	for id := range t.handles {
		if orphan, err := t.closeLocked(id); err == nil && orphan != "" {
			orphans = append(orphans, orphan)
		}
	}

	t.mu.Unlock()
	t.inodes.mu.Unlock()

	t.inodes.destroy(ctx, orphans...)
	return count
}

// Get returns a snapshot of the handle.
func (t *HandleTable) Get(id HandleID) (HandleInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(id)
}

func (t *HandleTable) getLocked(id HandleID) (HandleInfo, error) {
	h, ok := t.handles[id]
	if !ok {
		return HandleInfo{}, newError(ErrNotFound, "handle not open", "")
	}
	return h.info, nil
}

// acquire reserves an open handle for one call and takes its op lock. A
// handle closed while the call waited for the lock is reported as not open.
// Every successful acquire must be paired with done.
func (t *HandleTable) acquire(id HandleID) (*handle, error) {
	t.mu.Lock()
	h, ok := t.handles[id]
	if !ok {
		t.mu.Unlock()
		return nil, newError(ErrNotFound, "handle not open", "")
	}
	h.users++
	t.mu.Unlock()

	h.op.Lock()

	t.mu.Lock()
	closed := h.closed
	t.mu.Unlock()
	if closed {
		t.done(h)
		return nil, newError(ErrNotFound, "handle not open", "")
	}
	return h, nil
}

// done ends a call started by acquire.
func (t *HandleTable) done(h *handle) {
	h.op.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	h.users--
	if h.closed && h.users == 0 {
		t.free.ReplaceOrInsert(h.info.ID)
	}
}

// Advance moves a file handle's offset by delta.
func (t *HandleTable) Advance(id HandleID, delta int64) error {
	h, err := t.acquire(id)
	if err != nil {
		return err
	}
	defer t.done(h)

	t.seek(h, h.info.Offset+delta)
	return nil
}

// seek stores a file handle's offset. The caller holds h.op.
func (t *HandleTable) seek(h *handle, offset int64) {
	t.mu.Lock()
	h.info.Offset = offset
	t.mu.Unlock()
}

// setCursor stores a directory handle's iteration state. The caller holds
// h.op.
func (t *HandleTable) setCursor(h *handle, cursor DirCursor) {
	t.mu.Lock()
	h.info.Cursor = cursor
	t.mu.Unlock()
}

// Len returns the number of open handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
