package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/siafuse/pkg/vfs"
)

// fileHandle wraps an engine handle opened by OPEN or CREATE.
type fileHandle struct {
	fs *fileSystem
	fh vfs.HandleID
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileFsyncer  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (res gofuse.ReadResult, errno syscall.Errno) {
	if errno = h.fs.admit(ctx, "read"); errno != 0 {
		return nil, errno
	}
	defer h.fs.observe("read", time.Now(), &errno)

	data, err := h.fs.d.ReadAt(ctx, h.fh, off, len(dest))
	if err != nil {
		return nil, toErrno(err)
	}
	return gofuse.ReadResultData(data), fs.OK
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if errno = h.fs.admit(ctx, "write"); errno != 0 {
		return 0, errno
	}
	defer h.fs.observe("write", time.Now(), &errno)

	n, err := h.fs.d.WriteAt(ctx, h.fh, off, data)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(n), fs.OK
}

// Flush is called on every close(2) of a descriptor. Writes go straight to
// the content store, so there is nothing to flush.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return fs.OK
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return fs.OK
}

// Release is not throttled: the kernel does not retry it, and a dropped
// release would leak the handle.
func (h *fileHandle) Release(ctx context.Context) (errno syscall.Errno) {
	h.fs.metrics.RecordRequestStart("release")
	defer h.fs.observe("release", time.Now(), &errno)

	return toErrno(h.fs.d.Release(ctx, h.fh))
}

// readdirBatch is the number of entries fetched per engine ReadDir call.
const readdirBatch = 128

// dirStream pages through an engine directory handle. The engine's "." and
// ".." entries are dropped because go-fuse synthesizes its own.
type dirStream struct {
	d      *vfs.Dispatcher
	fh     vfs.HandleID
	buf    []vfs.DirEntry
	done   bool
	err    syscall.Errno
	closed bool
}

var _ fs.DirStream = (*dirStream)(nil)

func newDirStream(d *vfs.Dispatcher, fh vfs.HandleID) *dirStream {
	return &dirStream{d: d, fh: fh}
}

// fill fetches the next batch once the buffer is drained.
func (s *dirStream) fill() {
	for len(s.buf) == 0 && !s.done {
		entries, err := s.d.ReadDir(context.Background(), s.fh, readdirBatch)
		if err != nil {
			s.err = toErrno(err)
			s.done = true
			return
		}
		if len(entries) < readdirBatch {
			s.done = true
		}
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			s.buf = append(s.buf, e)
		}
	}
}

func (s *dirStream) HasNext() bool {
	s.fill()
	return len(s.buf) > 0 || s.err != 0
}

func (s *dirStream) Next() (gofuse.DirEntry, syscall.Errno) {
	s.fill()
	if len(s.buf) == 0 {
		errno := s.err
		s.err = 0
		if errno == 0 {
			errno = syscall.ENOENT
		}
		return gofuse.DirEntry{}, errno
	}

	e := s.buf[0]
	s.buf = s.buf[1:]
	return gofuse.DirEntry{
		Name: e.Name,
		Ino:  uint64(e.Ino),
		Mode: fileType(e.Kind),
	}, fs.OK
}

func (s *dirStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.d.ReleaseDir(context.Background(), s.fh)
}
