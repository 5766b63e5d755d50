package vfs

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RootAttributes(t *testing.T) {
	d, _ := newTestDispatcher(t)

	attr, err := d.GetAttr(context.Background(), RootInodeID)
	require.NoError(t, err)

	assert.Equal(t, RootInodeID, attr.Ino)
	assert.True(t, attr.IsDir())
	assert.Equal(t, uint32(0o755), attr.Mode)
	assert.Equal(t, uint32(2), attr.Nlink)
	assert.Equal(t, uint32(1000), attr.UID)
	assert.Equal(t, uint32(1000), attr.GID)
}

func TestNew_RequiresContentStore(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

// ============================================================================
// Read / write
// ============================================================================

func TestDispatcher_ReadsReturnLastWrittenBytes(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, fh := mustCreate(t, d, RootInodeID, "model")

	rng := rand.New(rand.NewSource(42))
	var model []byte

	for i := 0; i < 200; i++ {
		offset := rng.Intn(3000)
		data := make([]byte, 1+rng.Intn(500))
		rng.Read(data)

		mustWriteAt(t, d, fh, int64(offset), data)

		if end := offset + len(data); end > len(model) {
			model = append(model, make([]byte, end-len(model))...)
		}
		copy(model[offset:], data)

		readOff := rng.Intn(len(model) + 1)
		readLen := rng.Intn(800)
		got := mustReadAt(t, d, fh, int64(readOff), readLen)

		want := model[readOff:min(readOff+readLen, len(model))]
		require.True(t, bytes.Equal(want, got), "iteration %d: read [%d,+%d) mismatch", i, readOff, readLen)
	}

	all := mustReadAt(t, d, fh, 0, len(model)+100)
	assert.Equal(t, model, all)
}

func TestDispatcher_WritePastEndZeroFills(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, fh := mustCreate(t, d, RootInodeID, "sparse")

	mustWriteAt(t, d, fh, 10, []byte("tail"))

	got := mustReadAt(t, d, fh, 0, 100)
	assert.Equal(t, append(make([]byte, 10), []byte("tail")...), got)

	attr, err := d.GetAttr(context.Background(), RootInodeID+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), attr.Size)
	assert.Equal(t, uint64(1), attr.Blocks())
}

func TestDispatcher_ReadAtOrPastEnd(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("hello"))

	assert.Empty(t, mustReadAt(t, d, fh, 5, 10))
	assert.Empty(t, mustReadAt(t, d, fh, 500, 10))
	assert.Equal(t, []byte("llo"), mustReadAt(t, d, fh, 2, 10))
}

func TestDispatcher_SequentialReadWriteAdvanceOffset(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "seq")

	n, err := d.Write(ctx, fh, []byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = d.Write(ctx, fh, []byte("world"))
	require.NoError(t, err)

	rh, err := d.Open(ctx, attr.Ino, FlagRead)
	require.NoError(t, err)

	first, err := d.Read(ctx, rh, 6)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(first))

	second, err := d.Read(ctx, rh, 100)
	require.NoError(t, err)
	assert.Equal(t, "world", string(second))

	eof, err := d.Read(ctx, rh, 100)
	require.NoError(t, err)
	assert.Empty(t, eof)
}

func TestDispatcher_AppendWritesAtEnd(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "log")
	mustWriteAt(t, d, fh, 0, []byte("one\n"))

	ah, err := d.Open(ctx, attr.Ino, FlagWrite|FlagAppend)
	require.NoError(t, err)

	_, err = d.WriteAt(ctx, ah, 0, []byte("two\n"))
	require.NoError(t, err)
	_, err = d.Write(ctx, ah, []byte("three\n"))
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo\nthree\n", string(mustReadAt(t, d, fh, 0, 100)))
}

func TestDispatcher_TruncateThenReadReturnsPrefix(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "trunc")

	data := bytes.Repeat([]byte("0123456789"), 10)
	mustWriteAt(t, d, fh, 0, data)

	size := uint64(37)
	updated, err := d.SetAttr(ctx, attr.Ino, &SetAttrRequest{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, size, updated.Size)

	assert.Equal(t, data[:37], mustReadAt(t, d, fh, 0, len(data)))

	// Growing again exposes zeros, not the old bytes.
	grow := uint64(50)
	_, err = d.SetAttr(ctx, attr.Ino, &SetAttrRequest{Size: &grow})
	require.NoError(t, err)

	want := append(append([]byte{}, data[:37]...), make([]byte, 13)...)
	assert.Equal(t, want, mustReadAt(t, d, fh, 0, 100))
}

func TestDispatcher_FileSizeLimit(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "huge")
	mustWriteAt(t, d, fh, 0, []byte("keep"))

	size := uint64(1) << 62
	_, err := d.SetAttr(ctx, attr.Ino, &SetAttrRequest{Size: &size})
	requireCode(t, err, ErrFileTooLarge)

	_, err = d.WriteAt(ctx, fh, int64(DefaultMaxFileSize), []byte("x"))
	requireCode(t, err, ErrFileTooLarge)

	got, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Size)
	assert.Equal(t, []byte("keep"), mustReadAt(t, d, fh, 0, 10))
}

func TestDispatcher_ContentStoreSizeLimit(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	store.SetMaxBlobSize(16)
	attr, fh := mustCreate(t, d, RootInodeID, "small")

	size := uint64(17)
	_, err := d.SetAttr(ctx, attr.Ino, &SetAttrRequest{Size: &size})
	requireCode(t, err, ErrFileTooLarge)

	_, err = d.WriteAt(ctx, fh, 10, make([]byte, 10))
	requireCode(t, err, ErrFileTooLarge)

	mustWriteAt(t, d, fh, 0, make([]byte, 16))
}

func TestDispatcher_OpenWithTruncate(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("content"))

	th, err := d.Open(ctx, attr.Ino, FlagWrite|FlagTruncate)
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, th))

	got, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Size)

	// Truncate is ignored on read-only handles.
	mustWriteAt(t, d, fh, 0, []byte("again"))
	rh, err := d.Open(ctx, attr.Ino, FlagRead|FlagTruncate)
	require.NoError(t, err)
	assert.Equal(t, "again", string(mustReadAt(t, d, rh, 0, 10)))
}

func TestDispatcher_WriteUpdatesTimestamps(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "f")

	mustWriteAt(t, d, fh, 0, []byte("x"))

	after, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	assert.True(t, after.Mtime.After(attr.Mtime))
	assert.True(t, after.Ctime.After(attr.Ctime))

	mustReadAt(t, d, fh, 0, 1)
	read, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	assert.True(t, read.Atime.After(after.Atime))
	assert.Equal(t, after.Mtime, read.Mtime)
}

// ============================================================================
// Handle misuse
// ============================================================================

func TestDispatcher_HandleErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "f")

	ro, err := d.Open(ctx, attr.Ino, FlagRead)
	require.NoError(t, err)
	_, err = d.Write(ctx, ro, []byte("nope"))
	requireCode(t, err, ErrBadHandle)

	wo, err := d.Open(ctx, attr.Ino, FlagWrite)
	require.NoError(t, err)
	_, err = d.Read(ctx, wo, 10)
	requireCode(t, err, ErrBadHandle)

	dh, err := d.OpenDir(ctx, RootInodeID)
	require.NoError(t, err)
	_, err = d.Read(ctx, dh, 10)
	requireCode(t, err, ErrIsDirectory)

	_, err = d.ReadDir(ctx, fh, 10)
	requireCode(t, err, ErrNotDirectory)

	requireCode(t, d.Release(ctx, dh), ErrBadHandle)
	requireCode(t, d.ReleaseDir(ctx, fh), ErrBadHandle)

	require.NoError(t, d.Release(ctx, fh))
	requireCode(t, d.Release(ctx, fh), ErrBadHandle)

	_, err = d.ReadAt(ctx, fh, 0, 1)
	requireCode(t, err, ErrBadHandle)

	_, err = d.Open(ctx, RootInodeID, FlagRead)
	requireCode(t, err, ErrIsDirectory)

	_, err = d.OpenDir(ctx, attr.Ino)
	requireCode(t, err, ErrNotDirectory)
}

// ============================================================================
// Namespace
// ============================================================================

func TestDispatcher_MkdirTwice(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	first := mustMkdir(t, d, RootInodeID, "a")

	_, err := d.Mkdir(ctx, &MkdirRequest{Parent: RootInodeID, Name: "a", Mode: 0o755})
	requireCode(t, err, ErrAlreadyExists)

	got, err := d.Lookup(ctx, RootInodeID, "a")
	require.NoError(t, err)
	assert.Equal(t, first.Ino, got.Ino)
	assert.True(t, got.IsDir())
	assert.Equal(t, uint32(2), got.Nlink)

	dh, err := d.OpenDir(ctx, got.Ino)
	require.NoError(t, err)
	entries, err := d.ReadDir(ctx, dh, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, entryNames(entries))
	assert.Equal(t, RootInodeID, entries[1].Ino)

	root, err := d.GetAttr(ctx, RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), root.Nlink)
}

func TestDispatcher_MkdirAndCreateErrors(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	file, _ := mustCreate(t, d, RootInodeID, "file")
	before := contentCount(t, store)

	_, err := d.Mkdir(ctx, &MkdirRequest{Parent: 999, Name: "x"})
	requireCode(t, err, ErrParentNotFound)

	_, err = d.Mkdir(ctx, &MkdirRequest{Parent: file.Ino, Name: "x"})
	requireCode(t, err, ErrNotDirectory)

	_, err = d.Mkdir(ctx, &MkdirRequest{Parent: RootInodeID, Name: ".."})
	requireCode(t, err, ErrInvalidArgument)

	_, _, err = d.Create(ctx, &CreateRequest{Parent: 999, Name: "x"})
	requireCode(t, err, ErrParentNotFound)

	_, _, err = d.Create(ctx, &CreateRequest{Parent: file.Ino, Name: "x"})
	requireCode(t, err, ErrNotDirectory)

	_, _, err = d.Create(ctx, &CreateRequest{Parent: RootInodeID, Name: "file"})
	requireCode(t, err, ErrAlreadyExists)

	// Failed creates leave no content behind.
	assert.Equal(t, before, contentCount(t, store))
}

func TestDispatcher_UnlinkWhileOpen(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("still here"))

	require.NoError(t, d.Unlink(ctx, RootInodeID, "f"))

	_, err := d.Lookup(ctx, RootInodeID, "f")
	requireCode(t, err, ErrNotFound)

	assert.Equal(t, "still here", string(mustReadAt(t, d, fh, 0, 100)))
	mustWriteAt(t, d, fh, 0, []byte("STILL"))
	assert.Equal(t, "STILL here", string(mustReadAt(t, d, fh, 0, 100)))

	orphan, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), orphan.Nlink)
	assert.Equal(t, 1, contentCount(t, store))

	require.NoError(t, d.Release(ctx, fh))

	_, err = d.GetAttr(ctx, attr.Ino)
	requireCode(t, err, ErrNotFound)
	assert.Equal(t, 0, contentCount(t, store))
}

func TestDispatcher_UnlinkErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustMkdir(t, d, RootInodeID, "dir")

	requireCode(t, d.Unlink(ctx, RootInodeID, "dir"), ErrIsDirectory)
	requireCode(t, d.Unlink(ctx, RootInodeID, "missing"), ErrNotFound)
	requireCode(t, d.Unlink(ctx, 999, "x"), ErrNotFound)
}

func TestDispatcher_RmdirNotEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	dir := mustMkdir(t, d, RootInodeID, "d")
	_, fh := mustCreate(t, d, dir.Ino, "f")
	require.NoError(t, d.Release(ctx, fh))

	requireCode(t, d.Rmdir(ctx, RootInodeID, "d"), ErrNotEmpty)

	require.NoError(t, d.Unlink(ctx, dir.Ino, "f"))
	require.NoError(t, d.Rmdir(ctx, RootInodeID, "d"))

	_, err := d.Lookup(ctx, RootInodeID, "d")
	requireCode(t, err, ErrNotFound)

	root, err := d.GetAttr(ctx, RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root.Nlink)

	_, err = d.GetAttr(ctx, dir.Ino)
	requireCode(t, err, ErrNotFound)
}

func TestDispatcher_RmdirErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	_, fh := mustCreate(t, d, RootInodeID, "f")
	require.NoError(t, d.Release(ctx, fh))

	requireCode(t, d.Rmdir(ctx, RootInodeID, "f"), ErrNotDirectory)
	requireCode(t, d.Rmdir(ctx, RootInodeID, "missing"), ErrNotFound)
	requireCode(t, d.Rmdir(ctx, RootInodeID, "."), ErrInvalidArgument)
}

func TestDispatcher_RmdirWhileOpen(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	dir := mustMkdir(t, d, RootInodeID, "d")

	dh, err := d.OpenDir(ctx, dir.Ino)
	require.NoError(t, err)
	require.NoError(t, d.Rmdir(ctx, RootInodeID, "d"))

	entries, err := d.ReadDir(ctx, dh, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, entryNames(entries))

	require.NoError(t, d.ReleaseDir(ctx, dh))
	_, err = d.GetAttr(ctx, dir.Ino)
	requireCode(t, err, ErrNotFound)
}

func TestDispatcher_ParentTimestampsOnLink(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	before, err := d.GetAttr(ctx, RootInodeID)
	require.NoError(t, err)

	mustCreate(t, d, RootInodeID, "f")

	after, err := d.GetAttr(ctx, RootInodeID)
	require.NoError(t, err)
	assert.True(t, after.Mtime.After(before.Mtime))
	assert.True(t, after.Ctime.After(before.Ctime))

	require.NoError(t, d.Unlink(ctx, RootInodeID, "f"))
	removed, err := d.GetAttr(ctx, RootInodeID)
	require.NoError(t, err)
	assert.True(t, removed.Mtime.After(after.Mtime))
}

// ============================================================================
// Readdir
// ============================================================================

func TestDispatcher_ReadDirPaginates(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, fh := mustCreate(t, d, RootInodeID, fmt.Sprintf("f%d", i))
		require.NoError(t, d.Release(ctx, fh))
	}

	dh, err := d.OpenDir(ctx, RootInodeID)
	require.NoError(t, err)

	var names []string
	for {
		batch, err := d.ReadDir(ctx, dh, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		assert.LessOrEqual(t, len(batch), 2)
		names = append(names, entryNames(batch)...)
	}

	assert.Equal(t, []string{".", "..", "f0", "f1", "f2", "f3", "f4"}, names)
}

func TestDispatcher_ReadDirStableUnderConcurrentAdds(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	const existing = 100
	for i := 0; i < existing; i++ {
		_, fh := mustCreate(t, d, RootInodeID, fmt.Sprintf("old-%03d", i))
		require.NoError(t, d.Release(ctx, fh))
	}

	dh, err := d.OpenDir(ctx, RootInodeID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, fh, err := d.Create(ctx, &CreateRequest{Parent: RootInodeID, Name: fmt.Sprintf("new-%03d", i), Mode: 0o644})
			if err == nil {
				_ = d.Release(ctx, fh)
			}
		}
	}()

	seen := make(map[string]int)
	for {
		batch, err := d.ReadDir(ctx, dh, 7)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			seen[e.Name]++
		}
	}
	wg.Wait()

	for name, count := range seen {
		assert.Equal(t, 1, count, "entry %q returned %d times", name, count)
	}
	for i := 0; i < existing; i++ {
		assert.Contains(t, seen, fmt.Sprintf("old-%03d", i))
	}
	assert.Contains(t, seen, ".")
	assert.Contains(t, seen, "..")
}

// ============================================================================
// Concurrency
// ============================================================================

func TestDispatcher_ConcurrentCreateSameName(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		exists  int
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := d.Create(ctx, &CreateRequest{Parent: RootInodeID, Name: "contended", Mode: 0o644})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case IsCode(err, ErrAlreadyExists):
				exists++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, exists)

	entries, err := d.dirs.List(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"contended"}, entryNames(entries))
	assert.Equal(t, 1, contentCount(t, store))
}

func TestDispatcher_ConcurrentWritersDistinctRanges(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, _ := mustCreate(t, d, RootInodeID, "shared")

	const writers, chunk = 8, 256
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fh, err := d.Open(ctx, attr.Ino, FlagWrite)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = d.Release(ctx, fh) }()

			_, err = d.WriteAt(ctx, fh, int64(i*chunk), bytes.Repeat([]byte{byte('a' + i)}, chunk))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rh, err := d.Open(ctx, attr.Ino, FlagRead)
	require.NoError(t, err)
	got := mustReadAt(t, d, rh, 0, writers*chunk)
	require.Len(t, got, writers*chunk)
	for i := 0; i < writers; i++ {
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, chunk), got[i*chunk:(i+1)*chunk])
	}
}

func TestDispatcher_ReleaseDuringReadDefersHandleReuse(t *testing.T) {
	d, store := newGatedDispatcher(t)
	ctx := context.Background()

	other, fh := mustCreate(t, d, RootInodeID, "other")
	require.NoError(t, d.Release(ctx, fh))

	_, fh = mustCreate(t, d, RootInodeID, "busy")
	mustWriteAt(t, d, fh, 0, []byte("0123456789"))

	store.arm()
	type result struct {
		data []byte
		err  error
	}
	inFlight := make(chan result, 1)
	go func() {
		data, err := d.ReadAt(ctx, fh, 0, 10)
		inFlight <- result{data, err}
	}()
	store.waitEntered(t)

	queued := make(chan error, 1)
	go func() {
		_, err := d.ReadAt(ctx, fh, 0, 10)
		queued <- err
	}()

	require.NoError(t, d.Release(ctx, fh))

	// The id stays reserved while a call made through it is outstanding.
	reopened, err := d.Open(ctx, other.Ino, FlagRead)
	require.NoError(t, err)
	assert.NotEqual(t, fh, reopened)

	store.open()
	res := <-inFlight
	require.NoError(t, res.err)
	assert.Equal(t, []byte("0123456789"), res.data)
	requireCode(t, <-queued, ErrBadHandle)

	info, err := d.handles.Get(reopened)
	require.NoError(t, err)
	assert.Equal(t, other.Ino, info.Ino)
	assert.Zero(t, info.Offset, "finished read must not move another handle")

	// Once drained the id is reused again.
	next, err := d.Open(ctx, other.Ino, FlagRead)
	require.NoError(t, err)
	assert.Equal(t, fh, next)
}

func TestDispatcher_SameHandleReadsAreSequential(t *testing.T) {
	d, store := newGatedDispatcher(t)
	ctx := context.Background()

	_, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("aaaabbbb"))
	require.NoError(t, d.handles.Advance(fh, -8))

	store.arm()
	results := make(chan string, 2)
	read := func() {
		data, err := d.Read(ctx, fh, 4)
		assert.NoError(t, err)
		results <- string(data)
	}
	go read()
	store.waitEntered(t)
	go read()

	store.open()
	got := []string{<-results, <-results}
	assert.ElementsMatch(t, []string{"aaaa", "bbbb"}, got)
}

func TestDispatcher_SameHandleWritesDoNotOverlap(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, fh := mustCreate(t, d, RootInodeID, "log")

	const writers, chunk = 16, 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Write(ctx, fh, bytes.Repeat([]byte{byte('a' + i)}, chunk))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := d.GetAttr(ctx, attr.Ino)
	require.NoError(t, err)
	require.Equal(t, uint64(writers*chunk), got.Size)

	data := mustReadAt(t, d, fh, 0, writers*chunk)
	seen := make(map[byte]bool)
	for i := 0; i < writers; i++ {
		block := data[i*chunk : (i+1)*chunk]
		assert.Equal(t, bytes.Repeat(block[:1], chunk), block, "block %d is torn", i)
		seen[block[0]] = true
	}
	assert.Len(t, seen, writers)
}

func TestDispatcher_SameHandleReadDirNeverRepeats(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		mustMkdir(t, d, RootInodeID, fmt.Sprintf("d%d", i))
	}

	dh, err := d.OpenDir(ctx, RootInodeID)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names []string
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := d.ReadDir(ctx, dh, 1)
			assert.NoError(t, err)
			mu.Lock()
			names = append(names, entryNames(batch)...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{".", "..", "d0", "d1", "d2", "d3", "d4", "d5"}, names)
}

// ============================================================================
// Rename
// ============================================================================

func TestDispatcher_RenameMovesEntry(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	src := mustMkdir(t, d, RootInodeID, "src")
	dst := mustMkdir(t, d, RootInodeID, "dst")
	file, fh := mustCreate(t, d, src.Ino, "f")
	mustWriteAt(t, d, fh, 0, []byte("payload"))

	err := d.Rename(ctx, &RenameRequest{OldParent: src.Ino, OldName: "f", NewParent: dst.Ino, NewName: "g"})
	require.NoError(t, err)

	_, err = d.Lookup(ctx, src.Ino, "f")
	requireCode(t, err, ErrNotFound)

	moved, err := d.Lookup(ctx, dst.Ino, "g")
	require.NoError(t, err)
	assert.Equal(t, file.Ino, moved.Ino)

	resolved, err := d.Resolve(ctx, "/dst/g")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resolved.Size)
}

func TestDispatcher_RenameDirectoryUpdatesLinkCounts(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	a := mustMkdir(t, d, RootInodeID, "a")
	b := mustMkdir(t, d, RootInodeID, "b")
	mustMkdir(t, d, a.Ino, "sub")

	require.NoError(t, d.Rename(ctx, &RenameRequest{OldParent: a.Ino, OldName: "sub", NewParent: b.Ino, NewName: "sub"}))

	gotA, err := d.GetAttr(ctx, a.Ino)
	require.NoError(t, err)
	gotB, err := d.GetAttr(ctx, b.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), gotA.Nlink)
	assert.Equal(t, uint32(3), gotB.Nlink)

	resolved, err := d.Resolve(ctx, "/b/sub/..")
	require.NoError(t, err)
	assert.Equal(t, b.Ino, resolved.Ino)
}

func TestDispatcher_RenameReplacesFile(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	_, h1 := mustCreate(t, d, RootInodeID, "old")
	mustWriteAt(t, d, h1, 0, []byte("old"))
	victim, h2 := mustCreate(t, d, RootInodeID, "new")
	require.NoError(t, d.Release(ctx, h1))
	require.NoError(t, d.Release(ctx, h2))
	require.Equal(t, 2, contentCount(t, store))

	require.NoError(t, d.Rename(ctx, &RenameRequest{OldParent: RootInodeID, OldName: "old", NewParent: RootInodeID, NewName: "new"}))

	got, err := d.Resolve(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Size)

	_, err = d.GetAttr(ctx, victim.Ino)
	requireCode(t, err, ErrNotFound)
	assert.Equal(t, 1, contentCount(t, store))
}

func TestDispatcher_RenameErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	dir := mustMkdir(t, d, RootInodeID, "dir")
	sub := mustMkdir(t, d, dir.Ino, "sub")
	full := mustMkdir(t, d, RootInodeID, "full")
	_, fh := mustCreate(t, d, full.Ino, "x")
	require.NoError(t, d.Release(ctx, fh))
	_, fh = mustCreate(t, d, RootInodeID, "file")
	require.NoError(t, d.Release(ctx, fh))

	tests := []struct {
		name string
		req  RenameRequest
		code ErrorCode
	}{
		{"missing source", RenameRequest{RootInodeID, "nope", RootInodeID, "x"}, ErrNotFound},
		{"into itself", RenameRequest{RootInodeID, "dir", dir.Ino, "dir"}, ErrInvalidArgument},
		{"into descendant", RenameRequest{RootInodeID, "dir", sub.Ino, "moved"}, ErrInvalidArgument},
		{"file over dir", RenameRequest{RootInodeID, "file", RootInodeID, "dir"}, ErrIsDirectory},
		{"dir over file", RenameRequest{RootInodeID, "dir", RootInodeID, "file"}, ErrNotDirectory},
		{"dir over non-empty dir", RenameRequest{RootInodeID, "dir", RootInodeID, "full"}, ErrNotEmpty},
		{"bad target name", RenameRequest{RootInodeID, "file", RootInodeID, "a/b"}, ErrInvalidArgument},
		{"missing target parent", RenameRequest{RootInodeID, "file", 999, "x"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			requireCode(t, d.Rename(ctx, &req), tt.code)
		})
	}

	// Nothing moved.
	entries, err := d.dirs.List(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "full", "file"}, entryNames(entries))
}

func TestDispatcher_RenameSameNameIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, _ := mustCreate(t, d, RootInodeID, "f")

	require.NoError(t, d.Rename(ctx, &RenameRequest{OldParent: RootInodeID, OldName: "f", NewParent: RootInodeID, NewName: "f"}))

	got, err := d.Lookup(ctx, RootInodeID, "f")
	require.NoError(t, err)
	assert.Equal(t, attr.Ino, got.Ino)
}

// ============================================================================
// Attributes, resolve, statfs, shutdown
// ============================================================================

func TestDispatcher_SetAttr(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	attr, _ := mustCreate(t, d, RootInodeID, "f")

	mode, uid, gid := uint32(0o100600), uint32(42), uint32(43)
	mtime := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)

	got, err := d.SetAttr(ctx, attr.Ino, &SetAttrRequest{Mode: &mode, UID: &uid, GID: &gid, Mtime: &mtime})
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), got.Mode)
	assert.Equal(t, uid, got.UID)
	assert.Equal(t, gid, got.GID)
	assert.Equal(t, mtime, got.Mtime)
	assert.True(t, got.Ctime.After(attr.Ctime))

	size := uint64(10)
	_, err = d.SetAttr(ctx, RootInodeID, &SetAttrRequest{Size: &size})
	requireCode(t, err, ErrIsDirectory)

	_, err = d.SetAttr(ctx, 999, &SetAttrRequest{Mode: &mode})
	requireCode(t, err, ErrNotFound)
}

func TestDispatcher_Resolve(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	a := mustMkdir(t, d, RootInodeID, "a")
	mustCreate(t, d, a.Ino, "f")

	got, err := d.Resolve(ctx, "/a/f")
	require.NoError(t, err)
	assert.Equal(t, KindRegular, got.Kind)

	_, err = d.Resolve(ctx, "/a/f/g")
	requireCode(t, err, ErrNotDirectory)

	_, err = d.Resolve(ctx, "/a/missing")
	requireCode(t, err, ErrNotFound)

	parent, name, err := d.ResolveParent(ctx, "/a/new")
	require.NoError(t, err)
	assert.Equal(t, a.Ino, parent)
	assert.Equal(t, "new", name)
}

func TestDispatcher_LookupErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	file, _ := mustCreate(t, d, RootInodeID, "f")

	_, err := d.Lookup(ctx, file.Ino, "x")
	requireCode(t, err, ErrNotDirectory)

	_, err = d.Lookup(ctx, 999, "x")
	requireCode(t, err, ErrNotFound)
}

func TestDispatcher_StatFS(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustMkdir(t, d, RootInodeID, "d")
	_, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, make([]byte, 1000))

	st, err := d.StatFS(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Inodes)
	assert.Equal(t, 1, st.Handles)
	assert.Equal(t, uint64(1000), st.UsedBytes)
	assert.Equal(t, uint32(BlockSize), st.BlockSize)
	assert.Equal(t, DefaultMaxNameLength, st.MaxNameLength)
}

func TestDispatcher_ShutdownClosesHandles(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	_, fh := mustCreate(t, d, RootInodeID, "f")
	_, err := d.OpenDir(ctx, RootInodeID)
	require.NoError(t, err)
	require.NoError(t, d.Unlink(ctx, RootInodeID, "f"))

	require.NoError(t, d.Shutdown(ctx))

	assert.Equal(t, 0, d.handles.Len())
	_, err = d.Read(ctx, fh, 1)
	requireCode(t, err, ErrBadHandle)
	assert.Equal(t, 0, contentCount(t, store))
}

func TestDispatcher_CancelledContext(t *testing.T) {
	d, store := newTestDispatcher(t)
	_, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("data"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Mkdir(ctx, &MkdirRequest{Parent: RootInodeID, Name: "d"})
	require.ErrorIs(t, err, context.Canceled)

	_, _, err = d.Create(ctx, &CreateRequest{Parent: RootInodeID, Name: "g"})
	require.ErrorIs(t, err, context.Canceled)

	_, err = d.WriteAt(ctx, fh, 0, []byte("XXXX"))
	require.ErrorIs(t, err, context.Canceled)

	_, err = d.Read(ctx, fh, 4)
	require.ErrorIs(t, err, context.Canceled)

	require.ErrorIs(t, d.Unlink(ctx, RootInodeID, "f"), context.Canceled)

	// Nothing changed, and the handle offset did not move.
	entries, err := d.dirs.List(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, entryNames(entries))
	assert.Equal(t, 1, contentCount(t, store))

	info, err := d.handles.Get(fh)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Offset)
	assert.Equal(t, "data", string(mustReadAt(t, d, fh, 0, 10)))
}

// recordingMetrics captures dispatcher observations.
type recordingMetrics struct {
	mu       sync.Mutex
	ops      map[string][]string
	bytes    map[string]int
	reclaims int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string][]string), bytes: make(map[string]int)}
}

func (m *recordingMetrics) RecordOperation(op string, _ time.Duration, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op] = append(m.ops[op], code)
}

func (m *recordingMetrics) RecordBytes(direction string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += n
}

func (m *recordingMetrics) SetInodes(int)      {}
func (m *recordingMetrics) SetOpenHandles(int) {}

func (m *recordingMetrics) RecordReclaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaims++
}

func TestDispatcher_RecordsMetrics(t *testing.T) {
	d, _ := newTestDispatcher(t)
	m := newRecordingMetrics()
	d.metrics = m
	d.inodes.metrics = m
	ctx := context.Background()

	_, fh := mustCreate(t, d, RootInodeID, "f")
	mustWriteAt(t, d, fh, 0, []byte("12345"))
	mustReadAt(t, d, fh, 0, 3)
	_, err := d.Lookup(ctx, RootInodeID, "missing")
	require.Error(t, err)
	require.NoError(t, d.Unlink(ctx, RootInodeID, "f"))
	require.NoError(t, d.Release(ctx, fh))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []string{""}, m.ops["create"])
	assert.Equal(t, []string{""}, m.ops["write"])
	assert.Equal(t, []string{""}, m.ops["read"])
	assert.Equal(t, []string{"NotFound"}, m.ops["lookup"])
	assert.Equal(t, 5, m.bytes["write"])
	assert.Equal(t, 3, m.bytes["read"])
	assert.Equal(t, 1, m.reclaims)
}
