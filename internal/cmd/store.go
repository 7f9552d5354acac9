package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/handler"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/namemap"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/rs/zerolog/log"
)

// openStore connects to the configured remote. The returned close function
// is never nil.
func openStore(cfg *config.Config) (riakstore.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		log.Warn().Msg("using in-memory store, nothing is persisted")
		return riakstore.NewMemory(), func() {}, nil
	case "riak", "":
		r, err := riakstore.Dial(cfg.RiakHost, cfg.RiakPort)
		if err != nil {
			return nil, nil, fmt.Errorf("connect riak %s:%d: %w", cfg.RiakHost, cfg.RiakPort, err)
		}
		log.Info().Str("addr", r.Addr()).Msg("connected to riak")
		return r, func() {
			if err := r.Close(); err != nil {
				log.Warn().Err(err).Msg("close riak client")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, cfg.Store)
}

func handlerOptions(cfg *config.Config) handler.Options {
	return handler.Options{
		ContentPrefix:     cfg.ContentPrefix,
		DirectoryPrefix:   cfg.DirectoryPrefix,
		BucketType:        cfg.SetBucketType,
		DirectoryKey:      cfg.DirectoryKey,
		ContentType:       cfg.ContentType,
		DeleteLocal:       cfg.DeleteLocal,
		MaintainDirectory: cfg.MaintainDirectory,
		ReadContent:       cfg.ReadContent,
		ReadDirectory:     cfg.ReadDirectory,
		FileUID:           cfg.FileUID,
		FileGID:           cfg.FileGID,
		FileMode:          os.FileMode(cfg.FileMode),
		RemoteTimeout:     cfg.RemoteTimeout,
		SerializePaths:    cfg.SerializePaths,
	}
}

func newIndex(cfg *config.Config, store riakstore.Store) *dirindex.Index {
	return dirindex.New(store, cfg.SetBucketType, cfg.DirectoryKey, log.Logger)
}

func remoteContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.RemoteTimeout > 0 {
		return context.WithTimeout(ctx, cfg.RemoteTimeout)
	}
	return context.WithCancel(ctx)
}

// imageDir is one /<id>/images directory of the source tree with the sizes
// of the regular files in it.
type imageDir struct {
	Path    string
	Mapping namemap.Mapping
	Files   map[string]int64
}

// scanSource finds every mapped directory of the source tree. Entries that
// are not regular files are skipped.
func scanSource(local *localcache.Cache, names namemap.Prefixes) ([]imageDir, error) {
	ids, err := local.ReadDir("/")
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	var dirs []imageDir
	for _, id := range ids {
		p := path.Join("/", id, "images")
		st, err := local.Lstat(p)
		if err != nil || !st.Mode.IsDir() {
			continue
		}
		files, err := local.ReadDir(p)
		if err != nil {
			return nil, err
		}
		d := imageDir{Path: p, Mapping: names.Resolve(p), Files: make(map[string]int64, len(files))}
		for _, name := range files {
			fst, err := local.Lstat(path.Join(p, name))
			if err != nil || !fst.Regular {
				continue
			}
			d.Files[name] = fst.Size
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}
