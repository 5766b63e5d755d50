package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/internal/ratelimiter"
	"github.com/marmos91/siafuse/pkg/metrics"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// Capacity advertised by STATFS. The engine has no fixed size, so free space
// is reported as a large constant on top of what is used.
const (
	statfsFreeBlocks = 1 << 28
	statfsFreeFiles  = 1 << 24
)

// fileSystem is the state shared by every node of one mount.
type fileSystem struct {
	d            *vfs.Dispatcher
	limiter      *ratelimiter.Limiter
	metrics      metrics.FUSEMetrics
	attrTimeout  time.Duration
	entryTimeout time.Duration
}

// admit waits for the rate limiter and marks op as in flight.
func (f *fileSystem) admit(ctx context.Context, op string) syscall.Errno {
	throttled, err := f.limiter.Wait(ctx)
	if throttled {
		f.metrics.RecordThrottled()
	}
	if err != nil {
		logger.Debug("FUSE %s: abandoned while throttled: %v", op, err)
		return toErrno(err)
	}
	f.metrics.RecordRequestStart(op)
	return fs.OK
}

// observe records the outcome of an admitted request. Use with defer.
func (f *fileSystem) observe(op string, start time.Time, errno *syscall.Errno) {
	f.metrics.RecordRequestEnd(op)
	f.metrics.RecordRequest(op, time.Since(start), uint32(*errno))
}

// node is a kernel-visible inode. It carries no state of its own beyond the
// engine inode number: every callback is one dispatcher call.
type node struct {
	fs.Inode

	fs  *fileSystem
	ino vfs.InodeID
}

var (
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeStatfser  = (*node)(nil)
)

// entry fills an ENTRY reply and returns the child inode for attr.
func (n *node) entry(ctx context.Context, attr *vfs.Attributes, out *gofuse.EntryOut) *fs.Inode {
	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(n.fs.entryTimeout)
	out.SetAttrTimeout(n.fs.attrTimeout)

	child := &node{fs: n.fs, ino: attr.Ino}
	return n.NewInode(ctx, child, fs.StableAttr{
		Mode: fileType(attr.Kind),
		Ino:  uint64(attr.Ino),
	})
}

func (n *node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (child *fs.Inode, errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "lookup"); errno != 0 {
		return nil, errno
	}
	defer n.fs.observe("lookup", time.Now(), &errno)

	attr, err := n.fs.d.Lookup(ctx, n.ino, name)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.entry(ctx, attr, out), fs.OK
}

func (n *node) Getattr(ctx context.Context, _ fs.FileHandle, out *gofuse.AttrOut) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "getattr"); errno != 0 {
		return errno
	}
	defer n.fs.observe("getattr", time.Now(), &errno)

	attr, err := n.fs.d.GetAttr(ctx, n.ino)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetTimeout(n.fs.attrTimeout)
	return fs.OK
}

func (n *node) Setattr(ctx context.Context, _ fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "setattr"); errno != 0 {
		return errno
	}
	defer n.fs.observe("setattr", time.Now(), &errno)

	attr, err := n.fs.d.SetAttr(ctx, n.ino, setAttrRequest(in))
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetTimeout(n.fs.attrTimeout)
	return fs.OK
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (child *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "create"); errno != 0 {
		return nil, nil, 0, errno
	}
	defer n.fs.observe("create", time.Now(), &errno)

	uid, gid := callerOwner(ctx, uint32(os.Getuid()), uint32(os.Getgid()))
	attr, handle, err := n.fs.d.Create(ctx, &vfs.CreateRequest{
		Parent: n.ino,
		Name:   name,
		Mode:   mode,
		UID:    uid,
		GID:    gid,
		Flags:  openFlags(flags) &^ vfs.FlagTruncate,
	})
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	return n.entry(ctx, attr, out), &fileHandle{fs: n.fs, fh: handle}, 0, fs.OK
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (child *fs.Inode, errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "mkdir"); errno != 0 {
		return nil, errno
	}
	defer n.fs.observe("mkdir", time.Now(), &errno)

	uid, gid := callerOwner(ctx, uint32(os.Getuid()), uint32(os.Getgid()))
	attr, err := n.fs.d.Mkdir(ctx, &vfs.MkdirRequest{
		Parent: n.ino,
		Name:   name,
		Mode:   mode,
		UID:    uid,
		GID:    gid,
	})
	if err != nil {
		return nil, toErrno(err)
	}
	return n.entry(ctx, attr, out), fs.OK
}

func (n *node) Unlink(ctx context.Context, name string) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "unlink"); errno != 0 {
		return errno
	}
	defer n.fs.observe("unlink", time.Now(), &errno)

	return toErrno(n.fs.d.Unlink(ctx, n.ino, name))
}

func (n *node) Rmdir(ctx context.Context, name string) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "rmdir"); errno != 0 {
		return errno
	}
	defer n.fs.observe("rmdir", time.Now(), &errno)

	return toErrno(n.fs.d.Rmdir(ctx, n.ino, name))
}

// Rename supports plain renames and RENAME_NOREPLACE. RENAME_EXCHANGE has no
// engine counterpart and is refused.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "rename"); errno != 0 {
		return errno
	}
	defer n.fs.observe("rename", time.Now(), &errno)

	target, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}

	switch {
	case flags&renameExchange != 0:
		return syscall.EINVAL
	case flags&renameNoReplace != 0:
		// Best effort: a concurrent create of newName can still be replaced.
		if _, err := n.fs.d.Lookup(ctx, target.ino, newName); err == nil {
			return syscall.EEXIST
		} else if !vfs.IsCode(err, vfs.ErrNotFound) {
			return toErrno(err)
		}
	}

	return toErrno(n.fs.d.Rename(ctx, &vfs.RenameRequest{
		OldParent: n.ino,
		OldName:   name,
		NewParent: target.ino,
		NewName:   newName,
	}))
}

// renameat2(2) flags.
const (
	renameNoReplace = 0x1
	renameExchange  = 0x2
)

func (n *node) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "open"); errno != 0 {
		return nil, 0, errno
	}
	defer n.fs.observe("open", time.Now(), &errno)

	handle, err := n.fs.d.Open(ctx, n.ino, openFlags(flags))
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{fs: n.fs, fh: handle}, 0, fs.OK
}

func (n *node) Readdir(ctx context.Context) (stream fs.DirStream, errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "readdir"); errno != 0 {
		return nil, errno
	}
	defer n.fs.observe("readdir", time.Now(), &errno)

	handle, err := n.fs.d.OpenDir(ctx, n.ino)
	if err != nil {
		return nil, toErrno(err)
	}
	return newDirStream(n.fs.d, handle), fs.OK
}

func (n *node) Statfs(ctx context.Context, out *gofuse.StatfsOut) (errno syscall.Errno) {
	if errno = n.fs.admit(ctx, "statfs"); errno != 0 {
		return errno
	}
	defer n.fs.observe("statfs", time.Now(), &errno)

	st, err := n.fs.d.StatFS(ctx)
	if err != nil {
		return toErrno(err)
	}

	used := (st.UsedBytes + uint64(st.BlockSize) - 1) / uint64(st.BlockSize)
	out.Bsize = st.BlockSize
	out.Frsize = st.BlockSize
	out.Blocks = used + statfsFreeBlocks
	out.Bfree = statfsFreeBlocks
	out.Bavail = statfsFreeBlocks
	out.Files = uint64(st.Inodes) + statfsFreeFiles
	out.Ffree = statfsFreeFiles
	out.NameLen = uint32(st.MaxNameLength)
	return fs.OK
}
