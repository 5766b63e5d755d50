package fs

import (
	"container/list"
	"os"
	"sync"

	"github.com/marmos91/siafuse/pkg/content"
)

// fdCache keeps recently used blob files open.
//
// Opening a file per read or write costs two syscalls the FUSE hot path does
// not need. Entries are reference counted: an entry in use is never closed by
// eviction, so the cache may temporarily exceed maxSize under heavy
// concurrency and shrinks back as users release their files.
type fdCache struct {
	maxSize int
	mu      sync.Mutex
	entries map[content.ID]*list.Element
	lru     *list.List
}

type fdEntry struct {
	id    content.ID
	file  *os.File
	users int

	// doomed is set when Remove is called while the file is in use; the
	// last release closes it.
	doomed bool
}

func newFDCache(maxSize int) *fdCache {
	if maxSize < 1 {
		maxSize = 256
	}
	return &fdCache{
		maxSize: maxSize,
		entries: make(map[content.ID]*list.Element),
		lru:     list.New(),
	}
}

// acquire returns an open file for id, calling open on a miss. The caller
// must hand the file back with release.
func (c *fdCache) acquire(id content.ID, open func() (*os.File, error)) (*os.File, error) {
	c.mu.Lock()
	if elem, ok := c.entries[id]; ok {
		entry := elem.Value.(*fdEntry)
		entry.users++
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		return entry.file, nil
	}
	c.mu.Unlock()

	file, err := open()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have opened the same blob meanwhile.
	if elem, ok := c.entries[id]; ok {
		_ = file.Close()
		entry := elem.Value.(*fdEntry)
		entry.users++
		c.lru.MoveToFront(elem)
		return entry.file, nil
	}

	c.entries[id] = c.lru.PushFront(&fdEntry{id: id, file: file, users: 1})
	c.evictLocked()

	return file, nil
}

// release hands a file obtained from acquire back to the cache.
func (c *fdCache) release(id content.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		return
	}

	entry := elem.Value.(*fdEntry)
	entry.users--
	if entry.users == 0 && entry.doomed {
		c.lru.Remove(elem)
		delete(c.entries, id)
		_ = entry.file.Close()
		return
	}

	c.evictLocked()
}

// remove drops id from the cache, closing its file once unused.
func (c *fdCache) remove(id content.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		return
	}

	entry := elem.Value.(*fdEntry)
	if entry.users > 0 {
		entry.doomed = true
		return
	}

	c.lru.Remove(elem)
	delete(c.entries, id)
	_ = entry.file.Close()
}

// close closes every cached file.
func (c *fdCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*fdEntry)
		if err := entry.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.entries = make(map[content.ID]*list.Element)
	c.lru.Init()

	return firstErr
}

// evictLocked closes least recently used idle files until the cache fits.
func (c *fdCache) evictLocked() {
	elem := c.lru.Back()
	for c.lru.Len() > c.maxSize && elem != nil {
		prev := elem.Prev()
		entry := elem.Value.(*fdEntry)
		if entry.users == 0 {
			c.lru.Remove(elem)
			delete(c.entries, entry.id)
			_ = entry.file.Close()
		}
		elem = prev
	}
}

// len returns the number of cached files.
func (c *fdCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
