package handler

import (
	"context"
	"errors"

	"github.com/bietiekay/riak-fuse/internal/hooks"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
)

// Unlink removes path. For a mapped path the index entries and the remote
// object go first; if any of that fails the local file is left alone.
func (h *Handler) Unlink(ctx context.Context, path string) error {
	m := h.names.Resolve(path)
	if !m.Mapped() {
		return h.local.Unlink(path)
	}
	unlock := h.lock("unlink", path)
	defer unlock()

	if err := h.decide(ctx, hooks.ObjectDelete, payload(m, -1)); err != nil {
		return err
	}
	rctx, cancel := h.remote(ctx)
	defer cancel()
	if h.opts.MaintainDirectory {
		if err := h.index.DiscardKey(rctx, m.DirectoryBucket, m.Key); err != nil {
			logMapping(h.log.Error(), m).Err(err).Str("op", "unlink").Msg("discarding key failed")
			return ErrAccessDenied
		}
		if err := h.index.ClearSize(rctx, m.DirectoryBucket, m.Key); err != nil {
			logMapping(h.log.Error(), m).Err(err).Str("op", "unlink").Msg("clearing size failed")
			return ErrAccessDenied
		}
	}
	if err := h.store.DeleteObject(rctx, m.ContentBucket, m.Key); err != nil {
		logMapping(h.log.Error(), m).Err(err).Str("op", "unlink").Msg("deleting object failed")
		return ErrAccessDenied
	}
	if err := h.local.Unlink(path); err != nil && !localcache.IsNotExist(err) {
		return err
	}
	logMapping(h.log.Info(), m).Msg("object deleted")
	h.fire(ctx, hooks.ObjectDelete, payload(m, -1))
	return nil
}

// Rename moves oldPath to newPath. Mapped renames stay inside one directory
// bucket: the index is updated, the object copied to the new key and the old
// key deleted.
func (h *Handler) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	from, to := h.names.Resolve(oldPath), h.names.Resolve(newPath)
	if from.HasBucket != to.HasBucket || from.DirectoryBucket != to.DirectoryBucket {
		h.log.Warn().Str("op", "rename").Str("from", oldPath).Str("to", newPath).Msg("rename across buckets rejected")
		return ErrNotSupported
	}
	if !from.HasBucket || (!from.HasKey && !to.HasKey) {
		return h.local.Rename(oldPath, newPath)
	}
	if from.HasKey != to.HasKey {
		return ErrNotSupported
	}

	unlock := h.lock("rename", oldPath, newPath)
	defer unlock()

	event := map[string]any{
		"path": oldPath, "new_path": newPath,
		"bucket": from.ContentBucket, "dir_bucket": from.DirectoryBucket,
		"key": from.Key, "new_key": to.Key,
	}
	if err := h.decide(ctx, hooks.ObjectRename, event); err != nil {
		return err
	}
	rctx, cancel := h.remote(ctx)
	defer cancel()
	fail := func(msg string, err error) error {
		logMapping(h.log.Error(), from).Err(err).Str("op", "rename").Str("new_key", to.Key).Msg(msg)
		return ErrAccessDenied
	}

	if h.opts.MaintainDirectory {
		// Discard before add, as two separate updates.
		if err := h.index.DiscardKey(rctx, from.DirectoryBucket, from.Key); err != nil {
			return fail("discarding old key failed", err)
		}
		if err := h.index.AddKey(rctx, to.DirectoryBucket, to.Key); err != nil {
			return fail("adding new key failed", err)
		}
		size, ok, err := h.index.Size(rctx, from.DirectoryBucket, from.Key)
		if err != nil {
			return fail("reading size failed", err)
		}
		if ok {
			if err := h.index.SetSize(rctx, to.DirectoryBucket, to.Key, size); err != nil {
				return fail("moving size failed", err)
			}
			if err := h.index.ClearSize(rctx, from.DirectoryBucket, from.Key); err != nil {
				return fail("clearing old size failed", err)
			}
		}
	}

	obj, err := h.store.FetchObject(rctx, from.ContentBucket, from.Key)
	switch {
	case errors.Is(err, riakstore.ErrNotFound):
		logMapping(h.log.Debug(), from).Msg("no remote object to move")
	case err != nil:
		return fail("fetching object failed", err)
	default:
		if err := h.store.StoreObject(rctx, to.ContentBucket, to.Key, obj); err != nil {
			return fail("storing object under new key failed", err)
		}
		if err := h.store.DeleteObject(rctx, from.ContentBucket, from.Key); err != nil {
			return fail("deleting old object failed", err)
		}
	}

	if !h.opts.DeleteLocal {
		if err := h.local.Rename(oldPath, newPath); err != nil && !localcache.IsNotExist(err) {
			return err
		}
	}
	logMapping(h.log.Info(), from).Str("new_key", to.Key).Msg("object renamed")
	h.fire(ctx, hooks.ObjectRename, event)
	return nil
}
