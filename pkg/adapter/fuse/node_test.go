package fuse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/siafuse/internal/ratelimiter"
	"github.com/marmos91/siafuse/pkg/content/memory"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// recordingMetrics captures FUSE metrics calls.
type recordingMetrics struct {
	mu        sync.Mutex
	requests  map[string]uint32
	inFlight  int
	throttled int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{requests: make(map[string]uint32)}
}

func (m *recordingMetrics) RecordRequest(op string, _ time.Duration, errno uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[op] = errno
}

func (m *recordingMetrics) RecordRequestStart(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *recordingMetrics) RecordRequestEnd(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func (m *recordingMetrics) RecordThrottled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled++
}

func newTestRoot(t *testing.T) (*node, *vfs.Dispatcher, *recordingMetrics) {
	t.Helper()

	store, err := memory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	uid, gid := uint32(1000), uint32(1000)
	d, err := vfs.New(vfs.Config{Content: store, RootUID: &uid, RootGID: &gid})
	require.NoError(t, err)

	m := newRecordingMetrics()
	root := &node{
		fs: &fileSystem{
			d:            d,
			metrics:      m,
			attrTimeout:  time.Second,
			entryTimeout: time.Second,
		},
		ino: vfs.RootInodeID,
	}
	return root, d, m
}

func (n *node) child(ino vfs.InodeID) *node {
	return &node{fs: n.fs, ino: ino}
}

func createFile(t *testing.T, d *vfs.Dispatcher, parent vfs.InodeID, name string) vfs.InodeID {
	t.Helper()
	ctx := context.Background()
	attr, fh, err := d.Create(ctx, &vfs.CreateRequest{Parent: parent, Name: name, Mode: 0o644})
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, fh))
	return attr.Ino
}

func TestNode_Getattr(t *testing.T) {
	root, _, m := newTestRoot(t)

	var out gofuse.AttrOut
	errno := root.Getattr(context.Background(), nil, &out)
	require.Equal(t, syscall.Errno(0), errno)

	assert.Equal(t, uint64(vfs.RootInodeID), out.Ino)
	assert.Equal(t, uint32(gofuse.S_IFDIR|0o755), out.Mode)
	assert.Equal(t, uint32(2), out.Nlink)
	assert.Equal(t, uint32(1000), out.Uid)
	assert.Equal(t, uint64(1), out.AttrValid)

	assert.Equal(t, uint32(0), m.requests["getattr"])
	assert.Equal(t, 0, m.inFlight)
}

func TestNode_GetattrMissing(t *testing.T) {
	root, _, m := newTestRoot(t)

	var out gofuse.AttrOut
	errno := root.child(99).Getattr(context.Background(), nil, &out)
	assert.Equal(t, syscall.ENOENT, errno)
	assert.Equal(t, uint32(syscall.ENOENT), m.requests["getattr"])
}

func TestNode_OpenReadWrite(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	ino := createFile(t, d, vfs.RootInodeID, "file")

	fh, _, errno := root.child(ino).Open(ctx, uint32(syscall.O_RDWR))
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*fileHandle)

	written, errno := h.Write(ctx, []byte("hello world"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(11), written)

	res, errno := h.Read(ctx, make([]byte, 5), 6)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(make([]byte, 5))
	require.True(t, status.Ok())
	assert.Equal(t, "world", string(data))

	assert.Equal(t, syscall.Errno(0), h.Flush(ctx))
	assert.Equal(t, syscall.Errno(0), h.Fsync(ctx, 0))
	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Equal(t, syscall.EBADF, h.Release(ctx))
}

func TestNode_OpenReadOnlyRejectsWrite(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	ino := createFile(t, d, vfs.RootInodeID, "file")

	fh, _, errno := root.child(ino).Open(ctx, uint32(syscall.O_RDONLY))
	require.Equal(t, syscall.Errno(0), errno)

	_, errno = fh.(*fileHandle).Write(ctx, []byte("x"), 0)
	assert.Equal(t, syscall.EBADF, errno)

	_, _, errno = root.Open(ctx, uint32(syscall.O_RDONLY))
	assert.Equal(t, syscall.EISDIR, errno)
}

func TestNode_Setattr(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	ino := createFile(t, d, vfs.RootInodeID, "file")

	in := &gofuse.SetAttrIn{}
	in.Valid = gofuse.FATTR_SIZE | gofuse.FATTR_MODE
	in.Size = 100
	in.Mode = 0o600

	var out gofuse.AttrOut
	errno := root.child(ino).Setattr(ctx, nil, in, &out)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint64(100), out.Size)
	assert.Equal(t, uint32(gofuse.S_IFREG|0o600), out.Mode)
}

func TestNode_UnlinkRmdir(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	createFile(t, d, vfs.RootInodeID, "file")
	dir, err := d.Mkdir(ctx, &vfs.MkdirRequest{Parent: vfs.RootInodeID, Name: "dir", Mode: 0o755})
	require.NoError(t, err)
	createFile(t, d, dir.Ino, "inner")

	assert.Equal(t, syscall.EISDIR, root.Unlink(ctx, "dir"))
	assert.Equal(t, syscall.ENOTDIR, root.Rmdir(ctx, "file"))
	assert.Equal(t, syscall.ENOTEMPTY, root.Rmdir(ctx, "dir"))

	assert.Equal(t, syscall.Errno(0), root.child(dir.Ino).Unlink(ctx, "inner"))
	assert.Equal(t, syscall.Errno(0), root.Rmdir(ctx, "dir"))
	assert.Equal(t, syscall.Errno(0), root.Unlink(ctx, "file"))
	assert.Equal(t, syscall.ENOENT, root.Unlink(ctx, "file"))
}

func TestNode_Rename(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	ino := createFile(t, d, vfs.RootInodeID, "a")
	createFile(t, d, vfs.RootInodeID, "b")
	dir, err := d.Mkdir(ctx, &vfs.MkdirRequest{Parent: vfs.RootInodeID, Name: "dir", Mode: 0o755})
	require.NoError(t, err)

	assert.Equal(t, syscall.EEXIST, root.Rename(ctx, "a", root, "b", renameNoReplace))
	assert.Equal(t, syscall.EINVAL, root.Rename(ctx, "a", root, "b", renameExchange))

	require.Equal(t, syscall.Errno(0), root.Rename(ctx, "a", root.child(dir.Ino), "moved", renameNoReplace))

	attr, err := d.Lookup(ctx, dir.Ino, "moved")
	require.NoError(t, err)
	assert.Equal(t, ino, attr.Ino)

	assert.Equal(t, syscall.EINVAL, root.Rename(ctx, "dir", root.child(dir.Ino), "self", 0))
}

func TestNode_ReaddirPagesAndSkipsDots(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()

	const count = readdirBatch*2 + 5
	want := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("f%03d", i)
		createFile(t, d, vfs.RootInodeID, name)
		want = append(want, name)
	}

	stream, errno := root.Readdir(ctx)
	require.Equal(t, syscall.Errno(0), errno)

	var got []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		assert.Equal(t, uint32(gofuse.S_IFREG), e.Mode)
		got = append(got, e.Name)
	}
	stream.Close()
	stream.Close()

	sort.Strings(got)
	assert.Equal(t, want, got)

	st, err := d.StatFS(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Handles, "directory handle released on close")
}

func TestNode_ReaddirOnFile(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ino := createFile(t, d, vfs.RootInodeID, "file")

	_, errno := root.child(ino).Readdir(context.Background())
	assert.Equal(t, syscall.ENOTDIR, errno)
}

func TestNode_Statfs(t *testing.T) {
	root, d, _ := newTestRoot(t)
	ctx := context.Background()
	ino := createFile(t, d, vfs.RootInodeID, "file")

	fh, _, errno := root.child(ino).Open(ctx, uint32(syscall.O_WRONLY))
	require.Equal(t, syscall.Errno(0), errno)
	_, errno = fh.(*fileHandle).Write(ctx, make([]byte, 5000), 0)
	require.Equal(t, syscall.Errno(0), errno)

	var out gofuse.StatfsOut
	require.Equal(t, syscall.Errno(0), root.Statfs(ctx, &out))

	assert.Equal(t, uint32(vfs.BlockSize), out.Bsize)
	assert.Equal(t, uint64(2+statfsFreeBlocks), out.Blocks)
	assert.Equal(t, uint64(statfsFreeBlocks), out.Bfree)
	assert.Equal(t, uint64(2+statfsFreeFiles), out.Files)
	assert.Equal(t, uint32(vfs.DefaultMaxNameLength), out.NameLen)
}

func TestNode_Throttled(t *testing.T) {
	root, _, m := newTestRoot(t)
	root.fs.limiter = ratelimiter.New(0.001, 1)

	var out gofuse.AttrOut
	require.Equal(t, syscall.Errno(0), root.Getattr(context.Background(), nil, &out))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, syscall.EINTR, root.Getattr(ctx, nil, &out))
	assert.Equal(t, 1, m.throttled)
	assert.Equal(t, 0, m.inFlight)
}
