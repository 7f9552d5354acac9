package handler

import (
	"bytes"
	"context"
	"os"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyStore records every call and fails the operations listed in fail.
type faultyStore struct {
	riakstore.Store
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *faultyStore) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *faultyStore) failOn(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *faultyStore) reset() {
	f.mu.Lock()
	f.calls = nil
	f.fail = map[string]error{}
	f.mu.Unlock()
}

func (f *faultyStore) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *faultyStore) FetchObject(ctx context.Context, bucket, key string) (*riakstore.Object, error) {
	if err := f.enter("fetch_object"); err != nil {
		return nil, err
	}
	return f.Store.FetchObject(ctx, bucket, key)
}

func (f *faultyStore) StoreObject(ctx context.Context, bucket, key string, obj *riakstore.Object) error {
	if err := f.enter("store_object"); err != nil {
		return err
	}
	return f.Store.StoreObject(ctx, bucket, key, obj)
}

func (f *faultyStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := f.enter("delete_object"); err != nil {
		return err
	}
	return f.Store.DeleteObject(ctx, bucket, key)
}

func (f *faultyStore) FetchSet(ctx context.Context, ref riakstore.SetRef) (*riakstore.SetValue, error) {
	if err := f.enter("fetch_set"); err != nil {
		return nil, err
	}
	return f.Store.FetchSet(ctx, ref)
}

func (f *faultyStore) UpdateSet(ctx context.Context, ref riakstore.SetRef, u riakstore.SetUpdate) error {
	if err := f.enter("update_set"); err != nil {
		return err
	}
	return f.Store.UpdateSet(ctx, ref, u)
}

var errBoom = syscall.ECONNREFUSED

type fixture struct {
	h     *Handler
	store *faultyStore
	mem   *riakstore.Memory
	local *localcache.Cache
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	mem := riakstore.NewMemory()
	fs := &faultyStore{Store: mem, fail: map[string]error{}}
	local := localcache.New(t.TempDir())
	require.NoError(t, os.MkdirAll(local.Path("/abc/images"), 0o755))
	return &fixture{h: New(opts, local, fs, zerolog.Nop()), store: fs, mem: mem, local: local}
}

// put writes data through a fresh handle and releases it.
func (fx *fixture) put(t *testing.T, path string, data []byte) error {
	t.Helper()
	ctx := context.Background()
	hd, err := fx.h.Create(ctx, path, os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	n, err := fx.h.Write(ctx, hd, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	return fx.h.Release(ctx, hd)
}

func (fx *fixture) readAll(t *testing.T, path string) []byte {
	t.Helper()
	ctx := context.Background()
	hd, err := fx.h.Open(ctx, path, os.O_RDONLY)
	require.NoError(t, err)
	defer fx.h.Release(ctx, hd)
	var out []byte
	for off := int64(0); ; {
		chunk, err := fx.h.Read(ctx, hd, 4096, off)
		require.NoError(t, err)
		if len(chunk) == 0 {
			return out
		}
		out = append(out, chunk...)
		off += int64(len(chunk))
	}
}

func (fx *fixture) listing(t *testing.T, bucket string) []string {
	t.Helper()
	keys, err := fx.h.Index().Listing(context.Background(), bucket)
	require.NoError(t, err)
	return keys
}

func TestReleaseRoundTrip(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	ctx := context.Background()
	data := bytes.Repeat([]byte("riak"), 5000)

	require.NoError(t, fx.put(t, "/abc/images/1.jpg", data))

	obj, err := fx.mem.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, obj.Value)
	assert.Equal(t, "application/octet-stream", obj.ContentType)
	assert.Equal(t, []string{"1.jpg"}, fx.listing(t, "IMGDIR_abc"))

	attr, err := fx.h.Getattr(ctx, "/abc/images/1.jpg")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), attr.Size)
	assert.Equal(t, os.FileMode(0o777), attr.Mode)
	assert.EqualValues(t, 1, attr.Nlink)

	// Drop the local copy; the next open fetches it back.
	require.NoError(t, os.Remove(fx.local.Path("/abc/images/1.jpg")))
	assert.Equal(t, data, fx.readAll(t, "/abc/images/1.jpg"))
}

func TestReleaseWithKernelOpenFlags(t *testing.T) {
	tests := []struct {
		name     string
		create   bool
		flags    int
		existing string
		off      int64
		data     string
		want     string
	}{
		{name: "create write only", create: true, flags: os.O_WRONLY, data: "payload", want: "payload"},
		{name: "create append", create: true, flags: os.O_WRONLY | os.O_APPEND, data: "payload", want: "payload"},
		{name: "create read write append", create: true, flags: os.O_RDWR | os.O_APPEND, data: "payload", want: "payload"},
		{name: "open write only", flags: os.O_WRONLY, existing: "0123456789", off: 2, data: "ab", want: "01ab456789"},
		{name: "open read write", flags: os.O_RDWR, existing: "0123456789", off: 8, data: "xyz", want: "01234567xyz"},
		{name: "open append", flags: os.O_WRONLY | os.O_APPEND, existing: "0123456789", off: 10, data: "xyz", want: "0123456789xyz"},
		{name: "open read write append", flags: os.O_RDWR | os.O_APPEND, existing: "0123", off: 4, data: "45", want: "012345"},
		{name: "open truncate", flags: os.O_WRONLY | os.O_TRUNC, existing: "0123456789", data: "new", want: "new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, func(o *Options) { o.ReadContent = true })
			ctx := context.Background()
			const p = "/abc/images/1.jpg"
			if tt.existing != "" {
				require.NoError(t, os.WriteFile(fx.local.Path(p), []byte(tt.existing), 0o644))
			}

			var hd *Handle
			var err error
			if tt.create {
				hd, err = fx.h.Create(ctx, p, tt.flags, 0o644)
			} else {
				hd, err = fx.h.Open(ctx, p, tt.flags)
			}
			require.NoError(t, err)
			n, err := fx.h.Write(ctx, hd, []byte(tt.data), tt.off)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)
			require.NoError(t, fx.h.Release(ctx, hd))

			obj, err := fx.mem.FetchObject(ctx, "IMG_abc", "1.jpg")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(obj.Value))
			assert.Equal(t, []string{"1.jpg"}, fx.listing(t, "IMGDIR_abc"))
			size, ok, err := fx.h.Index().Size(ctx, "IMGDIR_abc", "1.jpg")
			require.NoError(t, err)
			require.True(t, ok)
			assert.EqualValues(t, len(tt.want), size)
		})
	}
}

func TestReleaseConcurrentWritersLeaveOneKey(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 2 {
		hd, err := fx.h.Create(ctx, "/abc/images/a", os.O_RDWR, 0o644)
		require.NoError(t, err)
		_, err = fx.h.Write(ctx, hd, []byte{byte('0' + i)}, 0)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, fx.h.Release(ctx, hd))
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"a"}, fx.listing(t, "IMGDIR_abc"))
}

func TestReleaseFailureKeepsLocalAndCloses(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.DeleteLocal = true })
	ctx := context.Background()
	fx.store.failOn("store_object", errBoom)

	hd, err := fx.h.Create(ctx, "/abc/images/1.jpg", os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = fx.h.Write(ctx, hd, []byte("payload"), 0)
	require.NoError(t, err)

	err = fx.h.Release(ctx, hd)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, syscall.EACCES, Errno(err))
	assert.Equal(t, StateClosed, hd.State())
	assert.Nil(t, hd.File())

	got, err := fx.local.ReadFile("/abc/images/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestReleaseIndexFailureKeepsLocal(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.DeleteLocal = true })
	fx.store.failOn("update_set", errBoom)
	require.ErrorIs(t, fx.put(t, "/abc/images/1.jpg", []byte("x")), ErrAccessDenied)
	assert.True(t, fx.local.Exists("/abc/images/1.jpg"))
}

func TestReleaseDeletesLocalAfterUpload(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.DeleteLocal = true })
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
	assert.False(t, fx.local.Exists("/abc/images/1.jpg"))
	_, err := fx.mem.FetchObject(context.Background(), "IMG_abc", "1.jpg")
	require.NoError(t, err)
}

func TestReleaseWithoutDirectoryMaintenance(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.MaintainDirectory = false })
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
	assert.Equal(t, []string{"store_object"}, fx.store.called())
}

func TestReleaseUnmappedStaysLocal(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.put(t, "/abc/notes.txt", []byte("x")))
	assert.Empty(t, fx.store.called())
	assert.True(t, fx.local.Exists("/abc/notes.txt"))
}

func TestReleaseSurvivesCancelledCaller(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	hd, err := fx.h.Create(ctx, "/abc/images/1.jpg", os.O_RDWR, 0o644)
	require.NoError(t, err)
	cancel()
	require.NoError(t, fx.h.Release(ctx, hd))
	assert.Equal(t, []string{"1.jpg"}, fx.listing(t, "IMGDIR_abc"))
}

func TestUnlinkUnmappedMakesNoRemoteCalls(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/notes.txt"), []byte("x"), 0o644))
	require.NoError(t, fx.h.Unlink(context.Background(), "/abc/notes.txt"))
	assert.Empty(t, fx.store.called())
	assert.False(t, fx.local.Exists("/abc/notes.txt"))
}

func TestUnlinkMapped(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))

	require.NoError(t, fx.h.Unlink(ctx, "/abc/images/1.jpg"))
	assert.Empty(t, fx.listing(t, "IMGDIR_abc"))
	_, err := fx.mem.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.ErrorIs(t, err, riakstore.ErrNotFound)
	_, ok, err := fx.h.Index().Size(ctx, "IMGDIR_abc", "1.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, fx.local.Exists("/abc/images/1.jpg"))
}

func TestUnlinkRemoteFailureKeepsLocal(t *testing.T) {
	for _, op := range []string{"update_set", "delete_object", "fetch_set"} {
		t.Run(op, func(t *testing.T) {
			fx := newFixture(t, nil)
			require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
			fx.store.failOn(op, errBoom)

			err := fx.h.Unlink(context.Background(), "/abc/images/1.jpg")
			require.ErrorIs(t, err, ErrAccessDenied)
			assert.True(t, fx.local.Exists("/abc/images/1.jpg"))
		})
	}
}

func TestRenameAcrossBucketsNotSupported(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/loose.jpg"), []byte("y"), 0o644))
	fx.store.reset()

	for _, tc := range [][2]string{
		{"/abc/images/1.jpg", "/def/images/1.jpg"},
		{"/abc/loose.jpg", "/abc/images/loose.jpg"},
		{"/abc/images/1.jpg", "/abc/1.jpg"},
	} {
		err := fx.h.Rename(ctx, tc[0], tc[1])
		require.ErrorIs(t, err, ErrNotSupported, "%s -> %s", tc[0], tc[1])
		assert.Equal(t, syscall.ENOTSUP, Errno(err))
	}
	assert.Empty(t, fx.store.called())
	assert.True(t, fx.local.Exists("/abc/images/1.jpg"))
	assert.True(t, fx.local.Exists("/abc/loose.jpg"))
	assert.Equal(t, []string{"1.jpg"}, fx.listing(t, "IMGDIR_abc"))
}

func TestRenameWithinBucket(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("hello")))

	require.NoError(t, fx.h.Rename(ctx, "/abc/images/1.jpg", "/abc/images/2.jpg"))

	assert.Equal(t, []string{"2.jpg"}, fx.listing(t, "IMGDIR_abc"))
	obj, err := fx.mem.FetchObject(ctx, "IMG_abc", "2.jpg")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Value))
	_, err = fx.mem.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.ErrorIs(t, err, riakstore.ErrNotFound)

	size, ok, err := fx.h.Index().Size(ctx, "IMGDIR_abc", "2.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, size)
	_, ok, err = fx.h.Index().Size(ctx, "IMGDIR_abc", "1.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, fx.local.Exists("/abc/images/2.jpg"))
	assert.False(t, fx.local.Exists("/abc/images/1.jpg"))
}

func TestRenameOntoItself(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("hello")))
	fx.store.reset()

	require.NoError(t, fx.h.Rename(ctx, "/abc/images/1.jpg", "/abc/images/1.jpg"))

	assert.Empty(t, fx.store.called())
	obj, err := fx.mem.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Value))
	assert.Equal(t, []string{"1.jpg"}, fx.listing(t, "IMGDIR_abc"))
	size, ok, err := fx.h.Index().Size(ctx, "IMGDIR_abc", "1.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, size)
	assert.True(t, fx.local.Exists("/abc/images/1.jpg"))
}

func TestRenameUnmappedIsLocal(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/a.txt"), []byte("x"), 0o644))
	require.NoError(t, fx.h.Rename(context.Background(), "/abc/a.txt", "/abc/b.txt"))
	assert.Empty(t, fx.store.called())
	assert.True(t, fx.local.Exists("/abc/b.txt"))
}

func TestRenameRemoteFailureKeepsLocalName(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
	fx.store.failOn("store_object", errBoom)
	err := fx.h.Rename(context.Background(), "/abc/images/1.jpg", "/abc/images/2.jpg")
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.True(t, fx.local.Exists("/abc/images/1.jpg"))
	assert.False(t, fx.local.Exists("/abc/images/2.jpg"))
}

func TestGetattrFallsBackToLocal(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.ReadContent = true
		o.FileUID, o.FileGID = 1000, 1001
	})
	ctx := context.Background()
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/images/local.jpg"), []byte("12345"), 0o600))
	require.NoError(t, os.Mkdir(fx.local.Path("/abc/images/sub"), 0o755))

	attr, err := fx.h.Getattr(ctx, "/abc/images/local.jpg")
	require.NoError(t, err)
	assert.EqualValues(t, 5, attr.Size)
	assert.Equal(t, os.FileMode(0o777), attr.Mode)
	assert.EqualValues(t, 1000, attr.UID)
	assert.EqualValues(t, 1001, attr.GID)

	attr, err = fx.h.Getattr(ctx, "/abc/images/sub")
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir())

	_, err = fx.h.Getattr(ctx, "/abc/images/missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, syscall.ENOENT, Errno(err))
}

func TestGetattrIndexFailure(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	fx.store.failOn("fetch_set", errBoom)
	_, err := fx.h.Getattr(context.Background(), "/abc/images/1.jpg")
	require.ErrorIs(t, err, ErrAccessDenied)

	// Unmapped paths never ask the index.
	_, err = fx.h.Getattr(context.Background(), "/abc")
	require.NoError(t, err)
}

func TestOpenFetchFailureLeavesNoPartialFile(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	require.NoError(t, fx.mem.StoreObject(context.Background(), "IMG_abc", "1.jpg", &riakstore.Object{Value: []byte("remote")}))
	fx.store.failOn("fetch_object", errBoom)

	_, err := fx.h.Open(context.Background(), "/abc/images/1.jpg", os.O_RDONLY)
	require.ErrorIs(t, err, ErrAccessDenied)
	names, err := fx.local.ReadDir("/abc/images")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOpenRemoteMissing(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	ctx := context.Background()

	_, err := fx.h.Open(ctx, "/abc/images/new.jpg", os.O_RDONLY)
	require.ErrorIs(t, err, ErrNotFound)

	hd, err := fx.h.Open(ctx, "/abc/images/new.jpg", os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fx.h.Release(ctx, hd))

	require.NoError(t, os.WriteFile(fx.local.Path("/abc/images/local.jpg"), []byte("l"), 0o644))
	assert.Equal(t, "l", string(fx.readAll(t, "/abc/images/local.jpg")))
}

// gatedStore holds every FetchObject until release is closed.
type gatedStore struct {
	riakstore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) FetchObject(ctx context.Context, bucket, key string) (*riakstore.Object, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.FetchObject(ctx, bucket, key)
}

func TestOpenSharedFetchHonoursEachCallersFlags(t *testing.T) {
	opts := DefaultOptions()
	opts.ReadContent = true
	local := localcache.New(t.TempDir())
	require.NoError(t, os.MkdirAll(local.Path("/abc/images"), 0o755))
	store := &gatedStore{Store: riakstore.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	h := New(opts, local, store, zerolog.Nop())
	ctx := context.Background()
	const p = "/abc/images/new.jpg"

	plain := make(chan error, 1)
	go func() {
		hd, err := h.Open(ctx, p, os.O_RDONLY)
		if err == nil {
			_ = h.Release(ctx, hd)
		}
		plain <- err
	}()
	<-store.entered

	created := make(chan error, 1)
	go func() {
		hd, err := h.Open(ctx, p, os.O_RDWR|os.O_CREATE)
		if err == nil {
			err = h.Release(ctx, hd)
		}
		created <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	assert.ErrorIs(t, <-plain, ErrNotFound)
	assert.NoError(t, <-created)
	assert.True(t, local.Exists(p))
}

func TestOpenTruncateSkipsFetch(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/images/1.jpg"), []byte("old"), 0o644))
	fx.store.failOn("fetch_object", errBoom)

	hd, err := fx.h.Open(context.Background(), "/abc/images/1.jpg", os.O_WRONLY|os.O_TRUNC)
	require.NoError(t, err)
	assert.NotContains(t, fx.store.called(), "fetch_object")
	assert.Equal(t, StateOpen, hd.State())
}

func TestOpenRemoteReplacesStaleLocal(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/images/1.jpg"), []byte("stale"), 0o644))
	require.NoError(t, fx.mem.StoreObject(context.Background(), "IMG_abc", "1.jpg", &riakstore.Object{Value: []byte("fresh")}))
	assert.Equal(t, "fresh", string(fx.readAll(t, "/abc/images/1.jpg")))
}

func TestReaddir(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadDirectory = true })
	ctx := context.Background()
	require.NoError(t, fx.put(t, "/abc/images/b.jpg", []byte("b")))
	require.NoError(t, fx.put(t, "/abc/images/a.jpg", []byte("a")))
	require.NoError(t, os.WriteFile(fx.local.Path("/abc/images/untracked.jpg"), nil, 0o644))

	seq, err := fx.h.Readdir(ctx, "/abc/images")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "a.jpg", "b.jpg"}, slices.Collect(seq))

	seq, err = fx.h.Readdir(ctx, "/abc")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "images"}, slices.Collect(seq))

	seq, err = fx.h.Readdir(ctx, "/nowhere")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, slices.Collect(seq))
}

func TestReaddirIndexFailure(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadDirectory = true })
	fx.store.failOn("fetch_set", errBoom)
	_, err := fx.h.Readdir(context.Background(), "/abc/images")
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAccess(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	assert.NoError(t, fx.h.Access(ctx, "/abc/images/missing.jpg", 2))
	assert.ErrorIs(t, fx.h.Access(ctx, "/abc/images/missing.jpg", 4), ErrNotFound)
	assert.NoError(t, fx.h.Access(ctx, "/abc/images", 4))
}

func TestUnsupportedOperations(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, fx.h.Symlink(ctx, "/x", "/abc/l"), ErrNotSupported)
	assert.ErrorIs(t, fx.h.Link(ctx, "/x", "/abc/l"), ErrNotSupported)
	_, err := fx.h.Readlink(ctx, "/abc/images/1.jpg")
	assert.ErrorIs(t, err, ErrNotSupported)

	require.NoError(t, os.Symlink("target", fx.local.Path("/abc/link")))
	target, err := fx.h.Readlink(ctx, "/abc/link")
	require.NoError(t, err)
	assert.Equal(t, "target", target)
}

func TestChmodIgnoredWithReadContent(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.ReadContent = true })
	p := fx.local.Path("/abc/images/1.jpg")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	require.NoError(t, fx.h.Chmod(context.Background(), "/abc/images/1.jpg", 0o600))
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())
}

type denyHooks struct{ fired []string }

func (d *denyHooks) Fire(ctx context.Context, event string, payload map[string]any) {
	d.fired = append(d.fired, event)
}

func (d *denyHooks) Decide(ctx context.Context, event string, payload map[string]any) (bool, map[string]any, string) {
	return event != "object_put", payload, "read-only"
}

func TestHookDenyKeepsLocal(t *testing.T) {
	fx := newFixture(t, nil)
	hk := &denyHooks{}
	fx.h.WithHooks(hk)

	err := fx.put(t, "/abc/images/1.jpg", []byte("x"))
	require.ErrorIs(t, err, ErrHookDenied)
	require.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, syscall.EPERM, Errno(err))
	assert.Empty(t, fx.store.called())
	assert.True(t, fx.local.Exists("/abc/images/1.jpg"))

	require.NoError(t, fx.h.Unlink(context.Background(), "/abc/images/1.jpg"))
	assert.Equal(t, []string{"object_delete"}, hk.fired)
}

func TestSerializedPathsRelease(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.SerializePaths = true })
	require.NotNil(t, fx.h.Locks())
	require.NoError(t, fx.put(t, "/abc/images/1.jpg", []byte("x")))
	assert.Empty(t, fx.h.Locks().List())
}

func TestErrno(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here")
	for _, tc := range []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{ErrNotFound, syscall.ENOENT},
		{ErrAccessDenied, syscall.EACCES},
		{ErrNotPermitted, syscall.EACCES},
		{ErrHookDenied, syscall.EPERM},
		{ErrNotSupported, syscall.ENOTSUP},
		{statErr, syscall.ENOENT},
		{syscall.EEXIST, syscall.EEXIST},
		{os.ErrClosed, syscall.EBADF},
		{assert.AnError, syscall.EIO},
	} {
		assert.Equal(t, tc.want, Errno(tc.err), "%v", tc.err)
	}
}
