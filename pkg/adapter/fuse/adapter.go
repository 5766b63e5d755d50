// Package fuse serves the filesystem engine to the local kernel through
// FUSE, using the go-fuse node API.
package fuse

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/internal/ratelimiter"
	"github.com/marmos91/siafuse/pkg/metrics"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// FUSEAdapter implements adapter.Adapter for a kernel FUSE mount.
//
// Serve mounts the filesystem and blocks until the context is cancelled,
// Stop is called, or the mount goes away underneath it (fusermount -u).
// Each kernel request is handled on its own goroutine by go-fuse and turns
// into exactly one dispatcher call.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. The mount is detached (fails with EBUSY while files are in use)
//  3. Serve waits for the go-fuse server loop to exit
//
// Open handles left behind by the kernel are force-closed afterwards by
// Dispatcher.Shutdown.
type FUSEAdapter struct {
	config  FUSEConfig
	metrics metrics.FUSEMetrics

	dispatcher *vfs.Dispatcher

	mu     sync.Mutex
	server *gofuse.Server

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// unmounted is closed once the server loop has exited.
	unmounted chan struct{}
}

// New creates a FUSE adapter. Defaults are applied to zero config values.
// A nil metrics uses the no-op implementation.
func New(config FUSEConfig, m metrics.FUSEMetrics) *FUSEAdapter {
	config.applyDefaults()
	if m == nil {
		m = metrics.NewNoopFUSEMetrics()
	}

	return &FUSEAdapter{
		config:    config,
		metrics:   m,
		shutdown:  make(chan struct{}),
		unmounted: make(chan struct{}),
	}
}

// SetDispatcher injects the filesystem engine. Called once before Serve.
func (a *FUSEAdapter) SetDispatcher(d *vfs.Dispatcher) {
	a.dispatcher = d
}

// mountOptions builds the go-fuse options for this adapter.
func (a *FUSEAdapter) mountOptions() *fs.Options {
	attrTimeout := a.config.AttrTimeout
	entryTimeout := a.config.EntryTimeout

	return &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:     a.config.FSName,
			Name:       "siafuse",
			AllowOther: a.config.AllowOther,
			Debug:      a.config.Debug,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
}

// root builds the root node and the state shared by all nodes.
func (a *FUSEAdapter) root() *node {
	var limiter *ratelimiter.Limiter
	if a.config.RateLimit.Enabled {
		limiter = ratelimiter.New(a.config.RateLimit.RequestsPerSecond, a.config.RateLimit.Burst)
	}

	return &node{
		fs: &fileSystem{
			d:            a.dispatcher,
			limiter:      limiter,
			metrics:      a.metrics,
			attrTimeout:  a.config.AttrTimeout,
			entryTimeout: a.config.EntryTimeout,
		},
		ino: vfs.RootInodeID,
	}
}

// Serve mounts the filesystem and blocks until shutdown.
//
// Returns:
//   - context.Canceled (or the ctx error) after ctx cancellation
//   - nil after Stop or an external unmount
//   - error if the mount fails
func (a *FUSEAdapter) Serve(ctx context.Context) error {
	if a.dispatcher == nil {
		return fmt.Errorf("fuse adapter: dispatcher not set")
	}
	if err := a.config.validate(); err != nil {
		return fmt.Errorf("fuse adapter: %w", err)
	}

	select {
	case <-a.shutdown:
		return nil
	default:
	}

	if err := os.MkdirAll(a.config.Mountpoint, 0o755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", a.config.Mountpoint, err)
	}

	server, err := fs.Mount(a.config.Mountpoint, a.root(), a.mountOptions())
	if err != nil {
		return fmt.Errorf("mount %s: %w", a.config.Mountpoint, err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	logger.Info("FUSE filesystem mounted at %s (fsname=%s, allow_other=%v, rate_limit=%v)",
		a.config.Mountpoint, a.config.FSName, a.config.AllowOther, a.config.RateLimit.Enabled)

	go func() {
		server.Wait()
		close(a.unmounted)
	}()

	select {
	case <-ctx.Done():
		logger.Info("FUSE shutdown requested: %v", ctx.Err())
		if err := a.unmount(); err != nil {
			return err
		}
		<-a.unmounted
		return ctx.Err()

	case <-a.shutdown:
		// Stop may have run before the server was published
		if err := a.unmount(); err != nil {
			return err
		}
		<-a.unmounted
		return nil

	case <-a.unmounted:
		logger.Warn("FUSE filesystem at %s was unmounted externally", a.config.Mountpoint)
		return nil
	}
}

// unmount detaches the mount. Safe to call more than once.
func (a *FUSEAdapter) unmount() error {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}

	select {
	case <-a.unmounted:
		return nil
	default:
	}

	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", a.config.Mountpoint, err)
	}
	logger.Info("FUSE filesystem unmounted from %s", a.config.Mountpoint)
	return nil
}

// Stop unmounts the filesystem and waits for the server loop to exit, up
// to the context deadline. Safe to call multiple times and before Serve.
// A failed unmount (EBUSY) leaves the adapter serving so Stop can be retried.
func (a *FUSEAdapter) Stop(ctx context.Context) error {
	if err := a.unmount(); err != nil {
		return err
	}
	a.shutdownOnce.Do(func() { close(a.shutdown) })

	a.mu.Lock()
	mounted := a.server != nil
	a.mu.Unlock()
	if !mounted {
		return nil
	}

	select {
	case <-a.unmounted:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fuse adapter stop: %w", ctx.Err())
	}
}

// Protocol returns "FUSE".
func (a *FUSEAdapter) Protocol() string {
	return "FUSE"
}

// Endpoint returns the mountpoint.
func (a *FUSEAdapter) Endpoint() string {
	return a.config.Mountpoint
}
