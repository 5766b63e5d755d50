package vfs

import (
	"strings"
	"sync"

	"github.com/google/btree"
)

// DefaultMaxNameLength is the longest entry name accepted when no limit is
// configured. It matches NAME_MAX on Linux.
const DefaultMaxNameLength = 255

// btreeDegree is the fan-out of the per-directory ordering tree.
const btreeDegree = 16

// DirEntry is one name in a directory.
type DirEntry struct {
	Name string
	Ino  InodeID
	Kind FileKind

	// Seq increases strictly with insertion order within the parent. Readdir
	// cursors are expressed in Seq values.
	Seq uint64
}

// dirEntries is the entry set of one directory, indexed by name and ordered by
// insertion.
type dirEntries struct {
	byName  map[string]*DirEntry
	order   *btree.BTreeG[*DirEntry]
	nextSeq uint64
}

func newDirEntries() *dirEntries {
	return &dirEntries{
		byName: make(map[string]*DirEntry),
		order: btree.NewG(btreeDegree, func(a, b *DirEntry) bool {
			return a.Seq < b.Seq
		}),
		nextSeq: 1,
	}
}

func (d *dirEntries) insert(name string, child InodeID, kind FileKind) *DirEntry {
	e := &DirEntry{Name: name, Ino: child, Kind: kind, Seq: d.nextSeq}
	d.nextSeq++
	d.byName[name] = e
	d.order.ReplaceOrInsert(e)
	return e
}

func (d *dirEntries) remove(name string) *DirEntry {
	e, ok := d.byName[name]
	if !ok {
		return nil
	}
	delete(d.byName, name)
	d.order.Delete(e)
	return e
}

// location is where a linked inode lives.
type location struct {
	parent InodeID
	name   string
}

// DirectoryTable holds every directory's entries plus child → parent
// back-links used for "..".
//
// The table does not own inodes: it stores ids and kinds only. Reference
// counts and link counts are maintained by the Dispatcher.
type DirectoryTable struct {
	mu      sync.RWMutex
	dirs    map[InodeID]*dirEntries
	links   map[InodeID]location
	maxName int
}

// NewDirectoryTable creates a table containing only the empty root directory.
func NewDirectoryTable(maxNameLength int) *DirectoryTable {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}

	return &DirectoryTable{
		dirs:    map[InodeID]*dirEntries{RootInodeID: newDirEntries()},
		links:   make(map[InodeID]location),
		maxName: maxNameLength,
	}
}

// ValidateName checks a single path component.
func (t *DirectoryTable) ValidateName(name string) error {
	switch {
	case name == "":
		return newError(ErrInvalidArgument, "empty name", name)
	case name == "." || name == "..":
		return newError(ErrInvalidArgument, "reserved name", name)
	case strings.ContainsRune(name, '/'):
		return newError(ErrInvalidArgument, "name contains '/'", name)
	case strings.ContainsRune(name, 0):
		return newError(ErrInvalidArgument, "name contains NUL", name)
	case len(name) > t.maxName:
		return newError(ErrNameTooLong, "name too long", name)
	}
	return nil
}

// dirLocked returns the entry set of a directory. A known regular file yields
// NotADirectory, anything else missingCode.
func (t *DirectoryTable) dirLocked(ino InodeID, missingCode ErrorCode) (*dirEntries, error) {
	if d, ok := t.dirs[ino]; ok {
		return d, nil
	}
	if loc, ok := t.links[ino]; ok {
		if e := t.dirs[loc.parent].byName[loc.name]; e != nil && e.Kind != KindDirectory {
			return nil, newError(ErrNotDirectory, "not a directory", loc.name)
		}
	}
	if missingCode == ErrParentNotFound {
		return nil, newError(ErrParentNotFound, "parent directory not found", "")
	}
	return nil, newError(missingCode, "directory not found", "")
}

// ============================================================================
// Mutations
// ============================================================================

// Link adds name → child in parent. Linking a directory also creates its
// (empty) entry set.
func (t *DirectoryTable) Link(parent InodeID, name string, child InodeID, kind FileKind) (DirEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linkLocked(parent, name, child, kind)
}

func (t *DirectoryTable) linkLocked(parent InodeID, name string, child InodeID, kind FileKind) (DirEntry, error) {
	if err := t.ValidateName(name); err != nil {
		return DirEntry{}, err
	}

	d, err := t.dirLocked(parent, ErrParentNotFound)
	if err != nil {
		return DirEntry{}, err
	}
	if _, exists := d.byName[name]; exists {
		return DirEntry{}, newError(ErrAlreadyExists, "entry already exists", name)
	}
	if _, linked := t.links[child]; linked || child == RootInodeID {
		return DirEntry{}, newError(ErrAlreadyExists, "inode already linked", name)
	}

	e := d.insert(name, child, kind)
	t.links[child] = location{parent: parent, name: name}
	if kind == KindDirectory {
		if _, ok := t.dirs[child]; !ok {
			t.dirs[child] = newDirEntries()
		}
	}
	return *e, nil
}

// Unlink removes name from parent and returns the removed entry. A directory
// entry can only be removed once its own entry set is empty.
func (t *DirectoryTable) Unlink(parent InodeID, name string) (DirEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlinkLocked(parent, name)
}

func (t *DirectoryTable) unlinkLocked(parent InodeID, name string) (DirEntry, error) {
	d, err := t.dirLocked(parent, ErrNotFound)
	if err != nil {
		return DirEntry{}, err
	}

	e, ok := d.byName[name]
	if !ok {
		return DirEntry{}, newError(ErrNotFound, "no such entry", name)
	}
	if e.Kind == KindDirectory {
		if sub := t.dirs[e.Ino]; sub != nil && len(sub.byName) > 0 {
			return DirEntry{}, newError(ErrNotEmpty, "directory not empty", name)
		}
		delete(t.dirs, e.Ino)
	}

	d.remove(name)
	delete(t.links, e.Ino)
	return *e, nil
}

// moveLocked re-links an existing entry under a new parent and name. The
// destination must be free and the source directory must not be moved into
// itself; the Dispatcher checks both beforehand. The moved entry gets a new
// sequence number in its destination.
func (t *DirectoryTable) moveLocked(oldParent InodeID, oldName string, newParent InodeID, newName string) (DirEntry, error) {
	src, err := t.dirLocked(oldParent, ErrNotFound)
	if err != nil {
		return DirEntry{}, err
	}
	dst, err := t.dirLocked(newParent, ErrNotFound)
	if err != nil {
		return DirEntry{}, err
	}
	if _, exists := dst.byName[newName]; exists {
		return DirEntry{}, newError(ErrAlreadyExists, "entry already exists", newName)
	}

	e := src.remove(oldName)
	if e == nil {
		return DirEntry{}, newError(ErrNotFound, "no such entry", oldName)
	}

	moved := dst.insert(newName, e.Ino, e.Kind)
	t.links[e.Ino] = location{parent: newParent, name: newName}
	return *moved, nil
}

// ============================================================================
// Queries
// ============================================================================

// Lookup returns the entry called name in parent.
func (t *DirectoryTable) Lookup(parent InodeID, name string) (DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookupLocked(parent, name)
}

func (t *DirectoryTable) lookupLocked(parent InodeID, name string) (DirEntry, error) {
	d, err := t.dirLocked(parent, ErrNotFound)
	if err != nil {
		return DirEntry{}, err
	}
	e, ok := d.byName[name]
	if !ok {
		return DirEntry{}, newError(ErrNotFound, "no such entry", name)
	}
	return *e, nil
}

// List returns every entry of parent in insertion order.
func (t *DirectoryTable) List(parent InodeID) ([]DirEntry, error) {
	return t.ListFrom(parent, 0, 0)
}

// ListFrom returns up to limit entries (all when limit <= 0) whose sequence number
// is greater than afterSeq, in insertion order.
func (t *DirectoryTable) ListFrom(parent InodeID, afterSeq uint64, limit int) ([]DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listFromLocked(parent, afterSeq, limit)
}

func (t *DirectoryTable) listFromLocked(parent InodeID, afterSeq uint64, limit int) ([]DirEntry, error) {
	d, err := t.dirLocked(parent, ErrNotFound)
	if err != nil {
		return nil, err
	}

	capacity := d.order.Len()
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	out := make([]DirEntry, 0, capacity)

	d.order.AscendGreaterOrEqual(&DirEntry{Seq: afterSeq + 1}, func(e *DirEntry) bool {
		out = append(out, *e)
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

// Parent returns the directory holding child. The root is its own parent.
func (t *DirectoryTable) Parent(child InodeID) (InodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.parentLocked(child)
}

func (t *DirectoryTable) parentLocked(child InodeID) (InodeID, error) {
	if child == RootInodeID {
		return RootInodeID, nil
	}
	loc, ok := t.links[child]
	if !ok {
		return 0, newError(ErrNotFound, "inode not linked", "")
	}
	return loc.parent, nil
}

// Len returns the number of entries in dir, or 0 if dir is not a directory.
func (t *DirectoryTable) Len(dir InodeID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked(dir)
}

func (t *DirectoryTable) lenLocked(dir InodeID) int {
	if d, ok := t.dirs[dir]; ok {
		return len(d.byName)
	}
	return 0
}

// IsDir reports whether ino is a known directory.
func (t *DirectoryTable) IsDir(ino InodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.dirs[ino]
	return ok
}

// isAncestorLocked reports whether ancestor is dir or one of its ancestors.
func (t *DirectoryTable) isAncestorLocked(ancestor, dir InodeID) bool {
	for cur := dir; ; {
		if cur == ancestor {
			return true
		}
		if cur == RootInodeID {
			return false
		}
		loc, ok := t.links[cur]
		if !ok {
			return false
		}
		cur = loc.parent
	}
}
