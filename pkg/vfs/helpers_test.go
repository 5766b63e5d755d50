package vfs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/content/memory"
)

// fakeClock returns a strictly increasing time on every call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.MemoryContentStore) {
	t.Helper()

	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	uid, gid := uint32(1000), uint32(1000)
	d, err := New(Config{
		Content: store,
		RootUID: &uid,
		RootGID: &gid,
		Clock:   newFakeClock().Now,
	})
	require.NoError(t, err)

	return d, store
}

// gatedStore holds the next ReadAt after arm until open is called.
type gatedStore struct {
	*memory.MemoryContentStore

	armed   atomic.Bool
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedStore) arm() {
	s.entered = make(chan struct{})
	s.gate = make(chan struct{})
	s.armed.Store(true)
}

// waitEntered blocks until the armed ReadAt reached the store.
func (s *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("read never reached the content store")
	}
}

func (s *gatedStore) open() {
	close(s.gate)
}

func (s *gatedStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.gate
	}
	return s.MemoryContentStore.ReadAt(ctx, id, offset, length)
}

func newGatedDispatcher(t *testing.T) (*Dispatcher, *gatedStore) {
	t.Helper()

	mem, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)
	store := &gatedStore{MemoryContentStore: mem}

	d, err := New(Config{Content: store, Clock: newFakeClock().Now})
	require.NoError(t, err)
	return d, store
}

func mustMkdir(t *testing.T, d *Dispatcher, parent InodeID, name string) *Attributes {
	t.Helper()
	attr, err := d.Mkdir(context.Background(), &MkdirRequest{Parent: parent, Name: name, Mode: 0o755})
	require.NoError(t, err)
	return attr
}

func mustCreate(t *testing.T, d *Dispatcher, parent InodeID, name string) (*Attributes, HandleID) {
	t.Helper()
	attr, fh, err := d.Create(context.Background(), &CreateRequest{Parent: parent, Name: name, Mode: 0o644})
	require.NoError(t, err)
	return attr, fh
}

func mustWriteAt(t *testing.T, d *Dispatcher, fh HandleID, offset int64, data []byte) {
	t.Helper()
	n, err := d.WriteAt(context.Background(), fh, offset, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
}

func mustReadAt(t *testing.T, d *Dispatcher, fh HandleID, offset int64, size int) []byte {
	t.Helper()
	data, err := d.ReadAt(context.Background(), fh, offset, size)
	require.NoError(t, err)
	return data
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := CodeOf(err)
	require.True(t, ok, "expected vfs error, got %v", err)
	require.Equal(t, code, got, "unexpected code for %v", err)
}

func entryNames(entries []DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func contentCount(t *testing.T, store *memory.MemoryContentStore) int {
	t.Helper()
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	return len(ids)
}
