package handler

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/bietiekay/riak-fuse/internal/hooks"
	"github.com/bietiekay/riak-fuse/internal/namemap"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/dustin/go-humanize"
)

func (h *Handler) newHandle(path string) *Handle {
	hd := &Handle{ID: h.nextID.Add(1), Path: path}
	hd.state.Store(int32(StateOpening))
	return hd
}

// Open opens path with open(2) flags. With ReadContent, a mapped file is first
// fetched from the remote store into the local tree.
func (h *Handler) Open(ctx context.Context, path string, flags int) (*Handle, error) {
	hd := h.newHandle(path)
	m := h.names.Resolve(path)
	if h.opts.ReadContent && m.Mapped() {
		if err := h.materialize(ctx, m, flags); err != nil {
			_ = hd.close()
			return nil, err
		}
	}
	f, err := h.local.Open(path, flags)
	if err != nil {
		_ = hd.close()
		return nil, notFound(err)
	}
	hd.attach(f)
	return hd, nil
}

// errNoRemote is the shared outcome of a fetch that found no object. Each
// caller then decides on its own flags whether that is fatal.
var errNoRemote = errors.New("no remote object")

// materialize makes the local copy of m match the remote object. Concurrent
// opens of one path share a single fetch.
//
// The O_TRUNC shortcut only fires for direct callers: the mount does not
// negotiate atomic O_TRUNC, so the kernel strips it from OPEN and truncates
// with a later setattr.
func (h *Handler) materialize(ctx context.Context, m namemap.Mapping, flags int) error {
	write := flags&(os.O_WRONLY|os.O_RDWR) != 0
	if write && flags&os.O_TRUNC != 0 {
		return nil
	}
	_, err, _ := h.fetches.Do(m.Path, func() (any, error) {
		rctx, cancel := h.remote(ctx)
		obj, err := h.store.FetchObject(rctx, m.ContentBucket, m.Key)
		cancel()
		switch {
		case errors.Is(err, riakstore.ErrNotFound):
			return nil, errNoRemote
		case err != nil:
			logMapping(h.log.Error(), m).Err(err).Str("op", "open").Msg("fetch failed")
			return nil, ErrAccessDenied
		}
		if err := h.local.WriteAtomic(m.Path, obj.Value); err != nil {
			logMapping(h.log.Error(), m).Err(err).Str("op", "open").Msg("writing fetched object failed")
			return nil, ErrAccessDenied
		}
		logMapping(h.log.Debug(), m).Str("size", humanize.Bytes(uint64(len(obj.Value)))).Msg("object fetched")
		h.fire(ctx, hooks.ObjectFetch, payload(m, int64(len(obj.Value))))
		return nil, nil
	})
	if errors.Is(err, errNoRemote) {
		if h.local.Exists(m.Path) || flags&os.O_CREATE != 0 {
			logMapping(h.log.Debug(), m).Msg("no remote object, using local file")
			return nil
		}
		return ErrNotFound
	}
	return err
}

// Create creates and opens path locally.
func (h *Handler) Create(ctx context.Context, path string, flags int, mode os.FileMode) (*Handle, error) {
	hd := h.newHandle(path)
	f, err := h.local.Create(path, flags, mode)
	if err != nil {
		_ = hd.close()
		return nil, err
	}
	hd.attach(f)
	return hd, nil
}

// Read reads up to size bytes at off. A short read at end of file is not an
// error.
func (h *Handler) Read(ctx context.Context, hd *Handle, size int, off int64) ([]byte, error) {
	f := hd.File()
	if f == nil {
		return nil, os.ErrClosed
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (h *Handler) Write(ctx context.Context, hd *Handle, data []byte, off int64) (int, error) {
	f := hd.File()
	if f == nil {
		return 0, os.ErrClosed
	}
	return f.WriteAt(data, off)
}

// Truncate resizes path, through hd when the caller has one open.
func (h *Handler) Truncate(ctx context.Context, path string, size int64, hd *Handle) error {
	if hd != nil {
		if f := hd.File(); f != nil {
			return f.Truncate(size)
		}
	}
	return h.local.Truncate(path, size)
}

func (h *Handler) Flush(ctx context.Context, hd *Handle) error {
	f := hd.File()
	if f == nil {
		return os.ErrClosed
	}
	return f.Sync()
}

// Fsync syncs hd, or the local file at path when no handle is given.
func (h *Handler) Fsync(ctx context.Context, path string, datasync bool, hd *Handle) error {
	if hd != nil {
		if f := hd.File(); f != nil {
			return f.Sync()
		}
	}
	f, err := h.local.Open(path, os.O_RDONLY)
	if err != nil {
		return notFound(err)
	}
	defer f.Close()
	return f.Sync()
}

// Release closes hd. For a mapped path the local content is uploaded first;
// on any remote failure the descriptor is still closed, the local file is
// kept and ErrAccessDenied is returned.
func (h *Handler) Release(ctx context.Context, hd *Handle) error {
	m := h.names.Resolve(hd.Path)
	if !m.Mapped() {
		return hd.close()
	}
	unlock := h.lock("release#"+strconv.FormatUint(hd.ID, 10), hd.Path)
	defer unlock()

	upErr := h.upload(ctx, m)
	closeErr := hd.close()
	if upErr != nil {
		return upErr
	}
	if closeErr != nil {
		return closeErr
	}
	if h.opts.DeleteLocal {
		if err := h.local.Unlink(hd.Path); err != nil && !os.IsNotExist(err) {
			logMapping(h.log.Warn(), m).Err(err).Msg("removing uploaded local file failed")
		}
	}
	return nil
}

func (h *Handler) upload(ctx context.Context, m namemap.Mapping) error {
	data, err := h.local.ReadFile(m.Path)
	if err != nil {
		logMapping(h.log.Error(), m).Err(err).Str("op", "release").Msg("reading local file failed")
		return ErrAccessDenied
	}
	size := int64(len(data))
	if err := h.decide(ctx, hooks.ObjectPut, payload(m, size)); err != nil {
		return err
	}

	rctx, cancel := h.remote(ctx)
	defer cancel()
	obj := &riakstore.Object{ContentType: h.opts.ContentType, Value: data}
	if err := h.store.StoreObject(rctx, m.ContentBucket, m.Key, obj); err != nil {
		logMapping(h.log.Error(), m).Err(err).Str("op", "release").Msg("storing object failed")
		return ErrAccessDenied
	}
	if h.opts.MaintainDirectory {
		if st, err := h.local.Lstat(m.Path); err == nil {
			size = st.Size
		}
		if err := h.index.AddKey(rctx, m.DirectoryBucket, m.Key); err != nil {
			logMapping(h.log.Error(), m).Err(err).Str("op", "release").Msg("adding key to directory failed")
			return ErrAccessDenied
		}
		if err := h.index.SetSize(rctx, m.DirectoryBucket, m.Key, size); err != nil {
			logMapping(h.log.Error(), m).Err(err).Str("op", "release").Msg("recording size failed")
			return ErrAccessDenied
		}
	}
	logMapping(h.log.Info(), m).Str("size", humanize.Bytes(uint64(size))).Msg("object stored")
	h.fire(ctx, hooks.ObjectPut, payload(m, size))
	return nil
}

func payload(m namemap.Mapping, size int64) map[string]any {
	p := map[string]any{"path": m.Path, "bucket": m.ContentBucket, "dir_bucket": m.DirectoryBucket, "key": m.Key}
	if size >= 0 {
		p["size"] = size
	}
	return p
}
