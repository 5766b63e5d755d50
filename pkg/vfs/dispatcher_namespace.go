package vfs

import (
	"context"
	"time"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/content"
)

// MkdirRequest creates a directory.
type MkdirRequest struct {
	Parent InodeID
	Name   string
	Mode   uint32
	UID    uint32
	GID    uint32
}

// CreateRequest creates and opens a regular file.
type CreateRequest struct {
	Parent InodeID
	Name   string
	Mode   uint32
	UID    uint32
	GID    uint32

	// Flags of the returned handle. Zero means read-write.
	Flags OpenFlags
}

// RenameRequest moves an entry, replacing a compatible destination.
type RenameRequest struct {
	OldParent InodeID
	OldName   string
	NewParent InodeID
	NewName   string
}

// Mkdir creates an empty directory.
//
// Returns AlreadyExists if name is taken, ParentNotFound if the parent does not
// exist and NotADirectory if the parent is a file.
func (d *Dispatcher) Mkdir(ctx context.Context, req *MkdirRequest) (attr *Attributes, err error) {
	defer d.observe("mkdir", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("MKDIR: parent=%d name=%q mode=%o", req.Parent, req.Name, req.Mode)

	if err := d.dirs.ValidateName(req.Name); err != nil {
		return nil, err
	}

	d.dirs.mu.Lock()
	defer d.dirs.mu.Unlock()
	d.inodes.mu.Lock()
	defer d.inodes.mu.Unlock()

	// ========================================================================
	// Step 1: Validate parent and name
	// ========================================================================

	parent, err := d.dirInodeLocked(req.Parent, ErrParentNotFound)
	if err != nil {
		return nil, err
	}
	if _, err := d.dirs.lookupLocked(req.Parent, req.Name); err == nil {
		return nil, newError(ErrAlreadyExists, "entry already exists", req.Name)
	}

	// ========================================================================
	// Step 2: Allocate and link
	// ========================================================================

	ino := d.inodes.allocateLocked(KindDirectory, req.Mode, req.UID, req.GID, "")
	if _, err := d.dirs.linkLocked(req.Parent, req.Name, ino, KindDirectory); err != nil {
		delete(d.inodes.inodes, ino)
		return nil, err
	}

	child := d.inodes.inodes[ino]
	child.refs++
	child.attr.Nlink = linkedNlink(KindDirectory)

	parent.attr.Nlink++
	touchModified(&parent.attr, d.clock())

	logger.Debug("MKDIR successful: parent=%d name=%q ino=%d", req.Parent, req.Name, ino)

	a := child.attr
	return &a, nil
}

// Create creates a regular file and opens it.
//
// The backing content is created before any lock is taken and destroyed again
// if validation fails.
func (d *Dispatcher) Create(ctx context.Context, req *CreateRequest) (attr *Attributes, fh HandleID, err error) {
	defer d.observe("create", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	logger.Debug("CREATE: parent=%d name=%q mode=%o flags=%#x", req.Parent, req.Name, req.Mode, req.Flags)

	if err := d.dirs.ValidateName(req.Name); err != nil {
		return nil, 0, err
	}

	cid, err := d.content.Create(ctx)
	if err != nil {
		return nil, 0, ioError("create content", err)
	}

	a, fh, err := d.createLocked(req, cid)
	if err != nil {
		d.inodes.destroy(ctx, cid)
		return nil, 0, err
	}

	logger.Debug("CREATE successful: parent=%d name=%q ino=%d handle=%d", req.Parent, req.Name, a.Ino, fh)
	return a, fh, nil
}

func (d *Dispatcher) createLocked(req *CreateRequest, cid content.ID) (*Attributes, HandleID, error) {
	d.dirs.mu.Lock()
	defer d.dirs.mu.Unlock()
	d.inodes.mu.Lock()
	defer d.inodes.mu.Unlock()
	d.handles.mu.Lock()
	defer d.handles.mu.Unlock()

	parent, err := d.dirInodeLocked(req.Parent, ErrParentNotFound)
	if err != nil {
		return nil, 0, err
	}
	if _, err := d.dirs.lookupLocked(req.Parent, req.Name); err == nil {
		return nil, 0, newError(ErrAlreadyExists, "entry already exists", req.Name)
	}

	ino := d.inodes.allocateLocked(KindRegular, req.Mode, req.UID, req.GID, cid)
	if _, err := d.dirs.linkLocked(req.Parent, req.Name, ino, KindRegular); err != nil {
		delete(d.inodes.inodes, ino)
		return nil, 0, err
	}

	child := d.inodes.inodes[ino]
	child.refs++
	child.attr.Nlink = linkedNlink(KindRegular)
	touchModified(&parent.attr, d.clock())

	flags := req.Flags
	if flags&FlagReadWrite == 0 {
		flags |= FlagReadWrite
	}

	fh, err := d.handles.openLocked(ino, KindRegular, flags)
	if err != nil {
		// Unreachable for a freshly allocated regular file.
		return nil, 0, err
	}

	a := child.attr
	return &a, fh, nil
}

// Unlink removes a regular file's entry. The inode survives while handles to
// it remain open.
func (d *Dispatcher) Unlink(ctx context.Context, parent InodeID, name string) (err error) {
	defer d.observe("unlink", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("UNLINK: parent=%d name=%q", parent, name)

	orphan, err := d.removeEntry(parent, name, KindRegular)
	if err != nil {
		return err
	}
	d.inodes.destroy(ctx, orphan)
	return nil
}

// Rmdir removes an empty directory.
func (d *Dispatcher) Rmdir(ctx context.Context, parent InodeID, name string) (err error) {
	defer d.observe("rmdir", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("RMDIR: parent=%d name=%q", parent, name)

	_, err = d.removeEntry(parent, name, KindDirectory)
	return err
}

// removeEntry implements Unlink and Rmdir. It returns content to destroy
// when the removed inode was reclaimed.
func (d *Dispatcher) removeEntry(parentIno InodeID, name string, kind FileKind) (content.ID, error) {
	if name == "." || name == ".." {
		return "", newError(ErrInvalidArgument, "reserved name", name)
	}

	d.dirs.mu.Lock()
	defer d.dirs.mu.Unlock()
	d.inodes.mu.Lock()
	defer d.inodes.mu.Unlock()

	parent, err := d.dirInodeLocked(parentIno, ErrNotFound)
	if err != nil {
		return "", err
	}

	e, err := d.dirs.lookupLocked(parentIno, name)
	if err != nil {
		return "", err
	}

	switch {
	case kind == KindRegular && e.Kind == KindDirectory:
		return "", newError(ErrIsDirectory, "is a directory", name)
	case kind == KindDirectory && e.Kind != KindDirectory:
		return "", newError(ErrNotDirectory, "not a directory", name)
	case kind == KindDirectory && d.dirs.lenLocked(e.Ino) > 0:
		return "", newError(ErrNotEmpty, "directory not empty", name)
	}

	if _, err := d.dirs.unlinkLocked(parentIno, name); err != nil {
		return "", err
	}

	now := d.clock()
	if child, ok := d.inodes.inodes[e.Ino]; ok {
		child.attr.Nlink = 0
		child.attr.Ctime = now
	}
	if kind == KindDirectory && parent.attr.Nlink > 2 {
		parent.attr.Nlink--
	}
	touchModified(&parent.attr, now)

	return d.inodes.releaseLocked(e.Ino)
}

// Rename moves OldParent/OldName to NewParent/NewName.
//
// An existing destination is replaced when compatible: a file by a file, an
// empty directory by a directory. Moving a directory into itself or one of its
// descendants fails with InvalidArgument.
func (d *Dispatcher) Rename(ctx context.Context, req *RenameRequest) (err error) {
	defer d.observe("rename", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("RENAME: %d/%q -> %d/%q", req.OldParent, req.OldName, req.NewParent, req.NewName)

	if req.OldName == "." || req.OldName == ".." {
		return newError(ErrInvalidArgument, "reserved name", req.OldName)
	}
	if err := d.dirs.ValidateName(req.NewName); err != nil {
		return err
	}

	orphan, err := d.renameLocked(req)
	if err != nil {
		return err
	}
	d.inodes.destroy(ctx, orphan)
	return nil
}

func (d *Dispatcher) renameLocked(req *RenameRequest) (content.ID, error) {
	d.dirs.mu.Lock()
	defer d.dirs.mu.Unlock()
	d.inodes.mu.Lock()
	defer d.inodes.mu.Unlock()

	// ========================================================================
	// Step 1: Validate both parents and the source
	// ========================================================================

	oldParent, err := d.dirInodeLocked(req.OldParent, ErrNotFound)
	if err != nil {
		return "", err
	}
	newParent, err := d.dirInodeLocked(req.NewParent, ErrNotFound)
	if err != nil {
		return "", err
	}

	src, err := d.dirs.lookupLocked(req.OldParent, req.OldName)
	if err != nil {
		return "", err
	}

	if req.OldParent == req.NewParent && req.OldName == req.NewName {
		return "", nil
	}

	if src.Kind == KindDirectory && d.dirs.isAncestorLocked(src.Ino, req.NewParent) {
		return "", newError(ErrInvalidArgument, "cannot move a directory into itself", req.NewName)
	}

	// ========================================================================
	// Step 2: Validate the destination, if any
	// ========================================================================

	dst, err := d.dirs.lookupLocked(req.NewParent, req.NewName)
	replacing := err == nil
	if err != nil && !IsCode(err, ErrNotFound) {
		return "", err
	}

	if replacing {
		switch {
		case dst.Ino == src.Ino:
			return "", nil
		case src.Kind == KindDirectory && dst.Kind != KindDirectory:
			return "", newError(ErrNotDirectory, "not a directory", req.NewName)
		case src.Kind != KindDirectory && dst.Kind == KindDirectory:
			return "", newError(ErrIsDirectory, "is a directory", req.NewName)
		case dst.Kind == KindDirectory && d.dirs.lenLocked(dst.Ino) > 0:
			return "", newError(ErrNotEmpty, "directory not empty", req.NewName)
		}
	}

	// ========================================================================
	// Step 3: Mutate
	// ========================================================================

	now := d.clock()
	var orphan content.ID

	if replacing {
		if _, err := d.dirs.unlinkLocked(req.NewParent, req.NewName); err != nil {
			return "", err
		}
		if victim, ok := d.inodes.inodes[dst.Ino]; ok {
			victim.attr.Nlink = 0
			victim.attr.Ctime = now
		}
		if dst.Kind == KindDirectory && newParent.attr.Nlink > 2 {
			newParent.attr.Nlink--
		}
		if orphan, err = d.inodes.releaseLocked(dst.Ino); err != nil {
			return "", err
		}
	}

	if _, err := d.dirs.moveLocked(req.OldParent, req.OldName, req.NewParent, req.NewName); err != nil {
		return orphan, err
	}

	if src.Kind == KindDirectory && req.OldParent != req.NewParent {
		if oldParent.attr.Nlink > 2 {
			oldParent.attr.Nlink--
		}
		newParent.attr.Nlink++
	}

	touchModified(&oldParent.attr, now)
	touchModified(&newParent.attr, now)
	if moved, ok := d.inodes.inodes[src.Ino]; ok {
		moved.attr.Ctime = now
	}

	return orphan, nil
}
