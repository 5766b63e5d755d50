package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	// Content stores file data. Required.
	Content content.Store

	// RootMode is the permission of the root directory (default 0755).
	RootMode uint32

	// RootUID and RootGID own the root directory. Nil means the process
	// uid/gid.
	RootUID *uint32
	RootGID *uint32

	// MaxNameLength bounds entry names (default 255).
	MaxNameLength int

	// MaxFileSize bounds regular files (default DefaultMaxFileSize).
	MaxFileSize uint64

	// Metrics records per-operation observations. Optional.
	Metrics metrics.VFSMetrics

	// Clock supplies timestamps. Defaults to time.Now; tests pin it.
	Clock func() time.Time
}

// Dispatcher executes filesystem operations against the inode store, the
// directory table and the handle table.
//
// Every method is safe for concurrent use and runs as one logically atomic
// step: preconditions are validated before the first mutation, so a failed
// operation leaves every table unchanged.
//
// Lock order is DirectoryTable → InodeStore → HandleTable. Content I/O happens
// with no table lock held.
type Dispatcher struct {
	dirs     *DirectoryTable
	inodes   *InodeStore
	handles  *HandleTable
	resolver *Resolver

	content content.Store
	metrics metrics.VFSMetrics
	clock   func() time.Time
}

// New builds a Dispatcher holding an empty root directory.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Content == nil {
		return nil, fmt.Errorf("vfs: content store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopVFSMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.RootMode == 0 {
		cfg.RootMode = 0o755
	}

	uid := uint32(os.Getuid())
	if cfg.RootUID != nil {
		uid = *cfg.RootUID
	}
	gid := uint32(os.Getgid())
	if cfg.RootGID != nil {
		gid = *cfg.RootGID
	}

	root := newAttributes(RootInodeID, KindDirectory, cfg.RootMode, uid, gid, cfg.Clock())
	inodes := NewInodeStore(cfg.Content, root, cfg.Metrics, cfg.Clock)
	if cfg.MaxFileSize > 0 {
		inodes.maxFileSize = cfg.MaxFileSize
	}
	dirs := NewDirectoryTable(cfg.MaxNameLength)

	cfg.Metrics.SetInodes(1)
	cfg.Metrics.SetOpenHandles(0)

	return &Dispatcher{
		dirs:     dirs,
		inodes:   inodes,
		handles:  NewHandleTable(inodes),
		resolver: NewResolver(dirs),
		content:  cfg.Content,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
	}, nil
}

// ============================================================================
// Helpers
// ============================================================================

// observe records one finished operation. Use it as
//
//	defer d.observe("lookup", time.Now(), &err)
func (d *Dispatcher) observe(op string, start time.Time, errp *error) {
	var code string
	if err := *errp; err != nil {
		code = errorLabel(err)
		logger.Debug("%s failed: %v", op, err)
	}
	d.metrics.RecordOperation(op, time.Since(start), code)
}

// errorLabel names an error for metrics.
func errorLabel(err error) string {
	if c, ok := CodeOf(err); ok {
		return c.String()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	default:
		return "Other"
	}
}

// badHandle turns a handle lookup miss into BadHandle.
func badHandle(err error) error {
	if IsCode(err, ErrNotFound) {
		return newError(ErrBadHandle, "bad file handle", "")
	}
	return err
}

// dirInodeLocked returns the inode of a directory. missingCode is reported
// when ino does not exist. Expects InodeStore.mu held.
func (d *Dispatcher) dirInodeLocked(ino InodeID, missingCode ErrorCode) (*inode, error) {
	n, ok := d.inodes.inodes[ino]
	if !ok {
		if missingCode == ErrParentNotFound {
			return nil, newError(ErrParentNotFound, "parent directory not found", "")
		}
		return nil, newError(missingCode, "directory not found", "")
	}
	if n.attr.Kind != KindDirectory {
		return nil, newError(ErrNotDirectory, "not a directory", "")
	}
	return n, nil
}

// ============================================================================
// Attribute operations
// ============================================================================

// Lookup returns the attributes of name in parent.
func (d *Dispatcher) Lookup(ctx context.Context, parent InodeID, name string) (attr *Attributes, err error) {
	defer d.observe("lookup", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("LOOKUP: parent=%d name=%q", parent, name)

	d.dirs.mu.RLock()
	defer d.dirs.mu.RUnlock()
	d.inodes.mu.RLock()
	defer d.inodes.mu.RUnlock()

	if _, err := d.dirInodeLocked(parent, ErrNotFound); err != nil {
		return nil, err
	}

	e, err := d.dirs.lookupLocked(parent, name)
	if err != nil {
		return nil, err
	}

	n, err := d.inodes.getLocked(e.Ino)
	if err != nil {
		return nil, err
	}

	a := n.attr
	return &a, nil
}

// GetAttr returns the attributes of ino.
func (d *Dispatcher) GetAttr(ctx context.Context, ino InodeID) (attr *Attributes, err error) {
	defer d.observe("getattr", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("GETATTR: ino=%d", ino)

	a, err := d.inodes.GetAttributes(ino)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAttr applies a partial attribute update. A size change truncates or
// extends the file and fails with IsADirectory on directories.
func (d *Dispatcher) SetAttr(ctx context.Context, ino InodeID, req *SetAttrRequest) (attr *Attributes, err error) {
	defer d.observe("setattr", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		req = &SetAttrRequest{}
	}

	logger.Debug("SETATTR: ino=%d mode=%v uid=%v gid=%v size=%v",
		ino, ptrString(req.Mode), ptrString(req.UID), ptrString(req.GID), ptrString(req.Size))

	a, err := d.inodes.SetAttributes(ctx, ino, req)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Resolve returns the attributes of the object at an absolute path.
func (d *Dispatcher) Resolve(ctx context.Context, path string) (attr *Attributes, err error) {
	defer d.observe("resolve", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("RESOLVE: path=%q", path)

	d.dirs.mu.RLock()
	defer d.dirs.mu.RUnlock()
	d.inodes.mu.RLock()
	defer d.inodes.mu.RUnlock()

	ino, err := d.resolver.resolveLocked(path)
	if err != nil {
		return nil, err
	}

	n, err := d.inodes.getLocked(ino)
	if err != nil {
		return nil, err
	}

	a := n.attr
	return &a, nil
}

// ResolveParent returns the directory that would contain path and the final
// path component.
func (d *Dispatcher) ResolveParent(ctx context.Context, path string) (parent InodeID, name string, err error) {
	defer d.observe("resolve", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	return d.resolver.ResolveParent(path)
}

// ============================================================================
// Filesystem-wide operations
// ============================================================================

// StatFS describes the filesystem as a whole.
type StatFS struct {
	Inodes        int
	Handles       int
	UsedBytes     uint64
	BlockSize     uint32
	MaxNameLength int
}

// StatFS reports inode count, open handles and bytes used by regular files.
func (d *Dispatcher) StatFS(ctx context.Context) (stat *StatFS, err error) {
	defer d.observe("statfs", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &StatFS{
		Inodes:        d.inodes.Len(),
		Handles:       d.handles.Len(),
		UsedBytes:     d.inodes.usedBytes(),
		BlockSize:     BlockSize,
		MaxNameLength: d.dirs.maxName,
	}, nil
}

// ContentIDs returns the content referenced by live inodes.
func (d *Dispatcher) ContentIDs() map[content.ID]struct{} {
	return d.inodes.ContentIDs()
}

// Shutdown force-closes every open handle. Unlinked inodes whose last
// reference was a handle are reclaimed.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	closed := d.handles.CloseAll(ctx)
	if closed > 0 {
		logger.Info("VFS shutdown: force-closed %d open handles", closed)
	} else {
		logger.Debug("VFS shutdown: no open handles")
	}
	return nil
}

func ptrString[T any](p *T) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}
