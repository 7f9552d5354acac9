// Package handler implements the filesystem operations of riakfs on top of a
// local source tree and a Riak-like remote store.
//
// Every operation takes the mount-relative path the kernel asked about.
// Paths of the legacy shape /<id>/images/<file> are mapped to remote buckets
// and keys; everything else behaves like a plain pass-through mount of the
// source tree. The local copy of a mapped file is the working copy between
// open and release, and release uploads it as a whole.
package handler

import (
	"context"
	"iter"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/locking"
	"github.com/bietiekay/riak-fuse/internal/namemap"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Hooks is the subset of the hook engine the handler calls.
type Hooks interface {
	Fire(ctx context.Context, event string, payload map[string]any)
	Decide(ctx context.Context, event string, payload map[string]any) (bool, map[string]any, string)
}

type Handler struct {
	opts    Options
	names   namemap.Prefixes
	local   *localcache.Cache
	store   riakstore.Store
	index   *dirindex.Index
	hooks   Hooks
	locks   *locking.Manager
	fetches singleflight.Group
	nextID  atomic.Uint64
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a Handler serving local through store.
func New(opts Options, local *localcache.Cache, store riakstore.Store, log zerolog.Logger) *Handler {
	h := &Handler{
		opts:  opts,
		names: namemap.Prefixes{Content: opts.ContentPrefix, Directory: opts.DirectoryPrefix},
		local: local,
		store: store,
		index: dirindex.New(store, opts.BucketType, opts.DirectoryKey, log),
		log:   log.With().Str("component", "handler").Logger(),
		now:   time.Now,
	}
	if opts.SerializePaths {
		h.locks = locking.NewManager()
	}
	return h
}

// WithHooks attaches a hook engine consulted around remote writes.
func (h *Handler) WithHooks(hooks Hooks) *Handler {
	h.hooks = hooks
	return h
}

// Index exposes the directory index the handler maintains.
func (h *Handler) Index() *dirindex.Index { return h.index }

// Locks returns the per-path lock manager, nil unless SerializePaths is set.
func (h *Handler) Locks() *locking.Manager { return h.locks }

// remote detaches ctx from caller cancellation and applies RemoteTimeout.
func (h *Handler) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if h.opts.RemoteTimeout > 0 {
		return context.WithTimeout(ctx, h.opts.RemoteTimeout)
	}
	return ctx, func() {}
}

func (h *Handler) lock(holder string, paths ...string) func() {
	if h.locks == nil {
		return func() {}
	}
	return h.locks.Lock(holder, paths...)
}

func (h *Handler) decide(ctx context.Context, event string, payload map[string]any) error {
	if h.hooks == nil {
		return nil
	}
	if ok, _, reason := h.hooks.Decide(ctx, event, payload); !ok {
		h.log.Info().Str("event", event).Interface("payload", payload).Str("reason", reason).Msg("operation vetoed")
		return ErrHookDenied
	}
	return nil
}

func (h *Handler) fire(ctx context.Context, event string, payload map[string]any) {
	if h.hooks != nil {
		h.hooks.Fire(ctx, event, payload)
	}
}

func logMapping(ev *zerolog.Event, m namemap.Mapping) *zerolog.Event {
	return ev.Str("path", m.Path).Str("bucket", m.ContentBucket).Str("dir_bucket", m.DirectoryBucket).Str("key", m.Key)
}

// Attr is what getattr reports for a path.
type Attr struct {
	Ino    uint64
	Mode   os.FileMode
	Nlink  uint32
	UID    uint32
	GID    uint32
	Rdev   uint32
	Size   uint64
	Blocks uint64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

func (h *Handler) synthetic(size int64) Attr {
	now := h.now()
	return Attr{
		Mode:   h.opts.FileMode.Perm(),
		Nlink:  1,
		UID:    h.opts.FileUID,
		GID:    h.opts.FileGID,
		Size:   uint64(size),
		Blocks: (uint64(size) + 511) / 512,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
}

func fromStat(st localcache.Stat) Attr {
	return Attr{
		Ino:    st.Ino,
		Mode:   st.Mode,
		Nlink:  st.Nlink,
		UID:    st.UID,
		GID:    st.GID,
		Rdev:   st.Rdev,
		Size:   uint64(st.Size),
		Blocks: uint64(st.Blocks),
		Atime:  st.Atime,
		Mtime:  st.Mtime,
		Ctime:  st.Ctime,
	}
}

// Getattr reports the attributes of path. With ReadContent, mapped files
// take their size from the remote size set.
func (h *Handler) Getattr(ctx context.Context, path string) (Attr, error) {
	m := h.names.Resolve(path)
	if !h.opts.ReadContent || !m.Mapped() {
		st, err := h.local.Lstat(path)
		if err != nil {
			return Attr{}, notFound(err)
		}
		return fromStat(st), nil
	}

	rctx, cancel := h.remote(ctx)
	size, ok, err := h.index.Size(rctx, m.DirectoryBucket, m.Key)
	cancel()
	if err != nil {
		logMapping(h.log.Error(), m).Err(err).Str("op", "getattr").Msg("size lookup failed")
		return Attr{}, ErrAccessDenied
	}
	if ok {
		return h.synthetic(size), nil
	}
	st, err := h.local.Lstat(path)
	if err != nil {
		return Attr{}, notFound(err)
	}
	if st.Regular {
		return h.synthetic(st.Size), nil
	}
	return fromStat(st), nil
}

// Readdir lists path. The listing is read before Readdir returns; the
// sequence only replays it.
func (h *Handler) Readdir(ctx context.Context, path string) (iter.Seq[string], error) {
	var names []string
	if bucket, ok := namemap.Bucket(h.opts.DirectoryPrefix, path); h.opts.ReadDirectory && ok {
		rctx, cancel := h.remote(ctx)
		keys, err := h.index.Listing(rctx, bucket)
		cancel()
		if err != nil {
			h.log.Error().Err(err).Str("op", "readdir").Str("path", path).Str("dir_bucket", bucket).Msg("listing failed")
			return nil, ErrAccessDenied
		}
		names = keys
	} else {
		entries, err := h.local.ReadDir(path)
		if err != nil && !localcache.IsNotExist(err) {
			return nil, err
		}
		names = entries
	}
	return func(yield func(string) bool) {
		if !yield(".") || !yield("..") {
			return
		}
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}, nil
}

// Access checks mode against the local entry. Write checks always pass so
// that remote-only files stay writable.
func (h *Handler) Access(ctx context.Context, path string, mode uint32) error {
	const wOK = 2
	if mode == wOK {
		return nil
	}
	if err := h.local.Access(path, mode); err != nil {
		if localcache.IsNotExist(err) {
			return notFound(err)
		}
		return ErrNotPermitted
	}
	return nil
}

func (h *Handler) Statfs(ctx context.Context, path string) (localcache.Statfs, error) {
	return h.local.Statfs(path)
}

func (h *Handler) Readlink(ctx context.Context, path string) (string, error) {
	if _, ok := namemap.Bucket(h.opts.ContentPrefix, path); ok {
		return "", ErrNotSupported
	}
	return h.local.Readlink(path)
}

// Chmod is ignored while the remote store governs reads.
func (h *Handler) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	if h.opts.ReadContent {
		h.log.Debug().Str("path", path).Str("mode", strconv.FormatUint(uint64(mode), 8)).Msg("chmod ignored")
		return nil
	}
	return h.local.Chmod(path, mode)
}

func (h *Handler) Chown(ctx context.Context, path string, uid, gid int) error {
	return h.local.Chown(path, uid, gid)
}

func (h *Handler) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return h.local.Mkdir(path, mode)
}

func (h *Handler) Rmdir(ctx context.Context, path string) error {
	return h.local.Rmdir(path)
}

// Mknod creates a node; mode carries st_mode type bits.
func (h *Handler) Mknod(ctx context.Context, path string, mode uint32, dev int) error {
	return h.local.Mknod(path, mode, dev)
}

func (h *Handler) Utimens(ctx context.Context, path string, atime, mtime time.Time) error {
	return h.local.Utimens(path, atime, mtime)
}

func (h *Handler) Symlink(ctx context.Context, target, path string) error {
	return ErrNotSupported
}

func (h *Handler) Link(ctx context.Context, target, path string) error {
	return ErrNotSupported
}
