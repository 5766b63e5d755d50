package vfs

import (
	"context"
	"time"

	"github.com/marmos91/siafuse/internal/logger"
)

// Open opens a regular file. FlagTruncate on a writable handle empties the
// file.
func (d *Dispatcher) Open(ctx context.Context, ino InodeID, flags OpenFlags) (fh HandleID, err error) {
	defer d.observe("open", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	logger.Debug("OPEN: ino=%d flags=%#x", ino, flags)

	fh, err = d.handles.Open(ino, flags)
	if err != nil {
		return 0, err
	}

	if flags&FlagTruncate != 0 && flags.CanWrite() {
		if err := d.inodes.Truncate(ctx, ino, 0); err != nil {
			_ = d.handles.Close(ctx, fh)
			return 0, err
		}
	}
	return fh, nil
}

// OpenDir opens a directory for ReadDir.
func (d *Dispatcher) OpenDir(ctx context.Context, ino InodeID) (fh HandleID, err error) {
	defer d.observe("opendir", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	logger.Debug("OPENDIR: ino=%d", ino)

	return d.handles.OpenDir(ino)
}

// fileHandle acquires an open regular-file handle. The caller must release it
// with d.handles.done.
func (d *Dispatcher) fileHandle(fh HandleID) (*handle, error) {
	h, err := d.handles.acquire(fh)
	if err != nil {
		return nil, badHandle(err)
	}
	if h.info.Kind == KindDirectory {
		d.handles.done(h)
		return nil, newError(ErrIsDirectory, "is a directory", "")
	}
	return h, nil
}

// Read reads up to size bytes at the handle's offset and advances it.
func (d *Dispatcher) Read(ctx context.Context, fh HandleID, size int) ([]byte, error) {
	h, err := d.fileHandle(fh)
	if err != nil {
		d.observe("read", time.Now(), &err)
		return nil, err
	}
	defer d.handles.done(h)
	return d.read(ctx, h, h.info.Offset, size)
}

// ReadAt reads up to size bytes at offset and leaves the handle positioned
// after the last byte returned.
func (d *Dispatcher) ReadAt(ctx context.Context, fh HandleID, offset int64, size int) ([]byte, error) {
	h, err := d.fileHandle(fh)
	if err != nil {
		d.observe("read", time.Now(), &err)
		return nil, err
	}
	defer d.handles.done(h)
	return d.read(ctx, h, offset, size)
}

// read expects h acquired.
func (d *Dispatcher) read(ctx context.Context, h *handle, offset int64, size int) (data []byte, err error) {
	defer d.observe("read", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("READ: handle=%d ino=%d offset=%d size=%d", h.info.ID, h.info.Ino, offset, size)

	if !h.info.Flags.CanRead() {
		return nil, newError(ErrBadHandle, "handle not open for reading", "")
	}

	data, err = d.inodes.ReadContent(ctx, h.info.Ino, offset, size)
	if err != nil {
		return nil, err
	}

	d.handles.seek(h, offset+int64(len(data)))
	d.metrics.RecordBytes("read", len(data))
	return data, nil
}

// Write writes data at the handle's offset (at end of file for append
// handles) and advances it.
func (d *Dispatcher) Write(ctx context.Context, fh HandleID, data []byte) (int, error) {
	h, err := d.fileHandle(fh)
	if err != nil {
		d.observe("write", time.Now(), &err)
		return 0, err
	}
	defer d.handles.done(h)
	return d.write(ctx, h, h.info.Offset, data)
}

// WriteAt writes data at offset. Append handles always write at end of file.
func (d *Dispatcher) WriteAt(ctx context.Context, fh HandleID, offset int64, data []byte) (int, error) {
	h, err := d.fileHandle(fh)
	if err != nil {
		d.observe("write", time.Now(), &err)
		return 0, err
	}
	defer d.handles.done(h)
	return d.write(ctx, h, offset, data)
}

// write expects h acquired.
func (d *Dispatcher) write(ctx context.Context, h *handle, offset int64, data []byte) (written int, err error) {
	defer d.observe("write", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	logger.Debug("WRITE: handle=%d ino=%d offset=%d size=%d", h.info.ID, h.info.Ino, offset, len(data))

	if !h.info.Flags.CanWrite() {
		return 0, newError(ErrBadHandle, "handle not open for writing", "")
	}

	written, end, err := d.inodes.writeContent(ctx, h.info.Ino, offset, data, h.info.Flags&FlagAppend != 0)
	if err != nil {
		return 0, err
	}

	d.handles.seek(h, end)
	d.metrics.RecordBytes("write", written)
	return written, nil
}

// ReadDir returns up to count entries (all remaining when count <= 0). The first
// two entries of a listing are always "." and "..". Entries added while the
// listing is in progress may or may not appear; entries present throughout
// appear exactly once.
func (d *Dispatcher) ReadDir(ctx context.Context, fh HandleID, count int) (entries []DirEntry, err error) {
	defer d.observe("readdir", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := d.handles.acquire(fh)
	if err != nil {
		return nil, badHandle(err)
	}
	defer d.handles.done(h)
	if h.info.Kind != KindDirectory {
		return nil, newError(ErrNotDirectory, "not a directory", "")
	}

	ino := h.info.Ino
	cursor := h.info.Cursor
	logger.Debug("READDIR: handle=%d ino=%d cursor=%+v count=%d", fh, ino, cursor, count)

	room := func() bool { return count <= 0 || len(entries) < count }

	d.dirs.mu.RLock()

	if cursor.Dots == 0 && room() {
		entries = append(entries, DirEntry{Name: ".", Ino: ino, Kind: KindDirectory})
		cursor.Dots = 1
	}
	if cursor.Dots == 1 && room() {
		parent, err := d.dirs.parentLocked(ino)
		if err != nil {
			// Removed while open: ".." falls back to the directory itself.
			parent = ino
		}
		entries = append(entries, DirEntry{Name: "..", Ino: parent, Kind: KindDirectory})
		cursor.Dots = 2
	}

	if room() {
		limit := 0
		if count > 0 {
			limit = count - len(entries)
		}
		// A directory removed while open lists as empty.
		if rest, err := d.dirs.listFromLocked(ino, cursor.After, limit); err == nil {
			entries = append(entries, rest...)
			if len(rest) > 0 {
				cursor.After = rest[len(rest)-1].Seq
			}
		}
	}

	d.dirs.mu.RUnlock()

	d.handles.setCursor(h, cursor)
	return entries, nil
}

// Release closes a file handle.
func (d *Dispatcher) Release(ctx context.Context, fh HandleID) (err error) {
	defer d.observe("release", time.Now(), &err)
	return d.release(ctx, fh, KindRegular)
}

// ReleaseDir closes a directory handle.
func (d *Dispatcher) ReleaseDir(ctx context.Context, fh HandleID) (err error) {
	defer d.observe("releasedir", time.Now(), &err)
	return d.release(ctx, fh, KindDirectory)
}

// release ignores ctx cancellation: a handle the kernel forgets about must
// still be closed.
func (d *Dispatcher) release(ctx context.Context, fh HandleID, kind FileKind) error {
	logger.Debug("RELEASE: handle=%d", fh)

	h, err := d.handles.Get(fh)
	if err != nil {
		return badHandle(err)
	}
	if h.Kind != kind {
		return newError(ErrBadHandle, "handle kind mismatch", "")
	}
	return badHandle(d.handles.Close(ctx, fh))
}
