// Package gc removes orphaned content from persistent content stores.
//
// The namespace lives in memory only, so after a restart (or a crash between
// creating a blob and linking its inode) a persistent store can hold blobs no
// inode references. The collector lists the store, compares it with the
// content referenced by the engine and destroys the difference.
//
// A blob is only destroyed once it has been seen orphaned by two consecutive
// sweeps. Create allocates the blob before the inode referencing it is
// inserted, so a single sweep could observe that window.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/content"
)

// sweepTimeout bounds a periodic sweep.
const sweepTimeout = 10 * time.Minute

// ReferenceSource reports the content currently referenced by live inodes.
// *vfs.Dispatcher implements it.
type ReferenceSource interface {
	ContentIDs() map[content.ID]struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration

	// DryRun logs what would be deleted without actually deleting
	DryRun bool
}

// Stats accumulates counters over the lifetime of a Collector.
type Stats struct {
	Runs         uint64 // Completed sweeps
	OrphansFound uint64 // Orphans observed, counted once per sweep
	Destroyed    uint64 // Blobs successfully destroyed
	Errors       uint64 // Failed sweeps and failed destroys
}

// Collector performs periodic garbage collection on a content store.
//
// Thread Safety: Safe for concurrent use. Sweeps are serialized.
type Collector struct {
	refs   ReferenceSource
	store  content.Store
	lister content.Lister
	config Config

	// sweepMu serializes sweeps and protects suspects
	sweepMu  sync.Mutex
	suspects map[content.ID]struct{}

	statsMu sync.Mutex
	stats   Stats

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Returns an error if the store cannot enumerate its content.
func NewCollector(refs ReferenceSource, store content.Store, config Config) (*Collector, error) {
	lister, ok := store.(content.Lister)
	if !ok {
		return nil, fmt.Errorf("content store does not support listing")
	}

	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	return &Collector{
		refs:     refs,
		store:    store,
		lister:   lister,
		config:   config,
		suspects: make(map[content.ID]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins background garbage collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		c.statsMu.Lock()
		c.started = true
		c.statsMu.Unlock()

		logger.Info("Starting garbage collector: interval=%s dry_run=%v",
			c.config.Interval, c.config.DryRun)
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for an in-progress sweep to
// finish, or for ctx to expire. Safe to call multiple times, and before Start.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.statsMu.Lock()
	started := c.started
	c.statsMu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one sweep synchronously and returns the orphans destroyed by it.
func (c *Collector) RunNow(ctx context.Context) (int, error) {
	return c.sweep(ctx)
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			go func() {
				select {
				case <-c.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			destroyed, err := c.sweep(ctx)
			cancel()
			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else if destroyed > 0 {
				logger.Info("Garbage collection destroyed %d orphaned blobs", destroyed)
			}

		case <-c.stopCh:
			return
		}
	}
}

// sweep performs a single collection:
//  1. List every blob in the store
//  2. Snapshot the content referenced by live inodes
//  3. Orphans seen by the previous sweep too are destroyed, new ones become suspects
func (c *Collector) sweep(ctx context.Context) (destroyed int, err error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	defer func() {
		c.statsMu.Lock()
		defer c.statsMu.Unlock()
		if err != nil {
			c.stats.Errors++
			return
		}
		c.stats.Runs++
		c.stats.Destroyed += uint64(destroyed)
	}()

	// Listing first: a blob created after the listing is simply not seen,
	// and one linked after the snapshot is cleared by the next sweep.
	existing, err := c.lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list content: %w", err)
	}
	referenced := c.refs.ContentIDs()

	next := make(map[content.ID]struct{})
	var due []content.ID
	for _, id := range existing {
		if _, ok := referenced[id]; ok {
			continue
		}
		if _, seen := c.suspects[id]; seen {
			due = append(due, id)
		} else {
			next[id] = struct{}{}
		}
	}

	c.statsMu.Lock()
	c.stats.OrphansFound += uint64(len(due) + len(next))
	c.statsMu.Unlock()

	logger.Debug("GC: existing=%d referenced=%d suspects=%d due=%d",
		len(existing), len(referenced), len(next), len(due))

	if c.config.DryRun {
		for i, id := range due {
			if i == 10 {
				logger.Info("GC: DRY RUN ... and %d more", len(due)-10)
				break
			}
			logger.Info("GC: DRY RUN would destroy %s", id)
		}
		// Keep reporting them on every sweep
		for _, id := range due {
			next[id] = struct{}{}
		}
		c.suspects = next
		return 0, nil
	}

	for i, id := range due {
		if err := ctx.Err(); err != nil {
			// Unprocessed orphans stay suspects for the next sweep
			for _, rest := range due[i:] {
				next[rest] = struct{}{}
			}
			c.suspects = next
			return destroyed, err
		}
		// Destroy is idempotent, a blob removed concurrently is not an error
		if derr := c.store.Destroy(ctx, id); derr != nil {
			logger.Warn("GC: failed to destroy %s: %v", id, derr)
			c.statsMu.Lock()
			c.stats.Errors++
			c.statsMu.Unlock()
			next[id] = struct{}{}
			continue
		}
		destroyed++
	}

	c.suspects = next
	return destroyed, nil
}
