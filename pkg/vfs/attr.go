package vfs

import "time"

// InodeID identifies an inode. IDs are allocated from a monotonically
// increasing counter and never reused within a process.
type InodeID uint64

// RootInodeID is the identity of the root directory. It matches the FUSE
// root node id so transports need no translation.
const RootInodeID InodeID = 1

// FileKind is the type of a filesystem object.
type FileKind uint8

const (
	KindRegular FileKind = iota + 1
	KindDirectory
)

func (k FileKind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

const (
	// BlockSize is the preferred I/O size reported to the kernel.
	BlockSize = 4096

	// permMask keeps permission bits plus setuid, setgid and sticky.
	permMask = 0o7777
)

// Attributes is the metadata of one inode.
type Attributes struct {
	Ino   InodeID
	Kind  FileKind
	Size  uint64
	Mode  uint32 // permission bits only, no file type
	Nlink uint32
	UID   uint32
	GID   uint32

	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time
}

// Blocks returns the number of 512-byte blocks, as stat(2) reports them.
func (a *Attributes) Blocks() uint64 {
	return (a.Size + 511) / 512
}

// IsDir reports whether the inode is a directory.
func (a *Attributes) IsDir() bool {
	return a.Kind == KindDirectory
}

// SetAttrRequest is a partial attribute update. Nil fields are left alone.
type SetAttrRequest struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// linkedNlink is the link count of an inode with one directory entry: a
// directory also counts its own ".".
func linkedNlink(kind FileKind) uint32 {
	if kind == KindDirectory {
		return 2
	}
	return 1
}

// IsEmpty reports whether the request changes nothing.
func (r *SetAttrRequest) IsEmpty() bool {
	return r.Mode == nil && r.UID == nil && r.GID == nil && r.Size == nil && r.Atime == nil && r.Mtime == nil
}

// newAttributes returns the attributes of a freshly allocated inode. The link
// count stays zero until the inode gets a directory entry.
func newAttributes(ino InodeID, kind FileKind, mode, uid, gid uint32, now time.Time) Attributes {
	return Attributes{
		Ino:    ino,
		Kind:   kind,
		Mode:   mode & permMask,
		UID:    uid,
		GID:    gid,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
}

// applySetAttr applies every field of req except Size, which needs content
// I/O and is handled by the inode store.
func applySetAttr(a *Attributes, req *SetAttrRequest, now time.Time) {
	if req.Mode != nil {
		a.Mode = *req.Mode & permMask
	}
	if req.UID != nil {
		a.UID = *req.UID
	}
	if req.GID != nil {
		a.GID = *req.GID
	}
	if req.Atime != nil {
		a.Atime = *req.Atime
	}
	if req.Mtime != nil {
		a.Mtime = *req.Mtime
	}
	a.Ctime = now
}

// touchModified marks a content or entry-set change.
func touchModified(a *Attributes, now time.Time) {
	a.Mtime = now
	a.Ctime = now
}
