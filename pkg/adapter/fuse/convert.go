package fuse

import (
	"context"
	"errors"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/siafuse/pkg/vfs"
)

// toErrno maps engine errors to the errno returned to the kernel.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	case errors.Is(err, context.DeadlineExceeded):
		return syscall.ETIMEDOUT
	}

	code, ok := vfs.CodeOf(err)
	if !ok {
		return syscall.EIO
	}

	switch code {
	case vfs.ErrNotFound, vfs.ErrParentNotFound:
		return syscall.ENOENT
	case vfs.ErrAlreadyExists:
		return syscall.EEXIST
	case vfs.ErrNotDirectory:
		return syscall.ENOTDIR
	case vfs.ErrIsDirectory:
		return syscall.EISDIR
	case vfs.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case vfs.ErrBadHandle:
		return syscall.EBADF
	case vfs.ErrInvalidArgument:
		return syscall.EINVAL
	case vfs.ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case vfs.ErrFileTooLarge:
		return syscall.EFBIG
	default:
		return syscall.EIO
	}
}

// fileType returns the S_IFMT bits for kind.
func fileType(kind vfs.FileKind) uint32 {
	if kind == vfs.KindDirectory {
		return gofuse.S_IFDIR
	}
	return gofuse.S_IFREG
}

// fillAttr copies engine attributes into a kernel attribute reply.
func fillAttr(out *gofuse.Attr, a *vfs.Attributes) {
	out.Ino = uint64(a.Ino)
	out.Size = a.Size
	out.Blocks = a.Blocks()
	out.Blksize = vfs.BlockSize
	out.Mode = fileType(a.Kind) | a.Mode
	out.Nlink = a.Nlink
	out.Uid = a.UID
	out.Gid = a.GID
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

// setAttrRequest converts the fields marked valid in a SETATTR request.
func setAttrRequest(in *gofuse.SetAttrIn) *vfs.SetAttrRequest {
	req := &vfs.SetAttrRequest{}

	if mode, ok := in.GetMode(); ok {
		mode &= 0o7777
		req.Mode = &mode
	}
	if uid, ok := in.GetUID(); ok {
		req.UID = &uid
	}
	if gid, ok := in.GetGID(); ok {
		req.GID = &gid
	}
	if size, ok := in.GetSize(); ok {
		req.Size = &size
	}
	if atime, ok := in.GetATime(); ok {
		req.Atime = &atime
	}
	if mtime, ok := in.GetMTime(); ok {
		req.Mtime = &mtime
	}

	return req
}

// openFlags translates open(2) flags into handle flags.
func openFlags(flags uint32) vfs.OpenFlags {
	var out vfs.OpenFlags

	switch int(flags) & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		out = vfs.FlagRead
	case syscall.O_WRONLY:
		out = vfs.FlagWrite
	default:
		out = vfs.FlagReadWrite
	}

	if int(flags)&syscall.O_APPEND != 0 {
		out |= vfs.FlagAppend
	}
	if int(flags)&syscall.O_TRUNC != 0 {
		out |= vfs.FlagTruncate
	}
	return out
}

// callerOwner returns the uid/gid of the process that issued the request.
// Requests without caller information fall back to the given owner.
func callerOwner(ctx context.Context, uid, gid uint32) (uint32, uint32) {
	if caller, ok := gofuse.FromContext(ctx); ok && caller != nil {
		return caller.Uid, caller.Gid
	}
	return uid, gid
}
