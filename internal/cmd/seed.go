package cmd

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync/atomic"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/namemap"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewSeedCmd creates and returns the seed subcommand for the riakfs CLI.
// It uploads local files that the directory index does not list yet.
func NewSeedCmd(fv *flagValues) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upload local files missing from the directory index",
		Long: `Walk every /<id>/images directory of the source tree and upload each
file whose key is not in the directory index: the content goes to the
content bucket, the key and its size to the directory bucket.

Files already listed are left alone. Uploads run in parallel (--workers).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := seed(cmd.Context(), cfg, localcache.New(cfg.Source), store, dryRun)
			verb := "Uploaded"
			if dryRun {
				verb = "Would upload"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s files (%s), %s already indexed\n", verb,
				humanize.Comma(res.Files), humanize.IBytes(uint64(res.Bytes)), humanize.Comma(res.Skipped))
			return err
		},
	}

	cmd.Flags().IntVarP(&fv.cfg.SeedWorkers, "workers", "w", fv.cfg.SeedWorkers, "Parallel uploads")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Only report what would be uploaded")

	return cmd
}

type seedResult struct {
	Files   int64
	Bytes   int64
	Skipped int64
}

func seed(ctx context.Context, cfg *config.Config, local *localcache.Cache, store riakstore.Store, dryRun bool) (seedResult, error) {
	var res seedResult
	names := namemap.Prefixes{Content: cfg.ContentPrefix, Directory: cfg.DirectoryPrefix}
	dirs, err := scanSource(local, names)
	if err != nil {
		return res, err
	}
	ix := newIndex(cfg, store)

	var files, bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.SeedWorkers, 1))

	for _, d := range dirs {
		rctx, cancel := remoteContext(gctx, cfg)
		listing, err := ix.Listing(rctx, d.Mapping.DirectoryBucket)
		cancel()
		if err != nil {
			// uploads already queued finish before the error is returned
			_ = g.Wait()
			return seedResult{Files: files.Load(), Bytes: bytes.Load(), Skipped: res.Skipped}, err
		}
		for _, name := range sortedKeys(d.Files) {
			if slices.Contains(listing, name) {
				res.Skipped++
				continue
			}
			p := path.Join(d.Path, name)
			if dryRun {
				files.Add(1)
				bytes.Add(d.Files[name])
				continue
			}
			m := names.Resolve(p)
			g.Go(func() error {
				n, err := upload(gctx, cfg, local, store, ix, m)
				if err != nil {
					log.Error().Err(err).Str("path", p).Msg("seed upload failed")
					return fmt.Errorf("%s: %w", p, err)
				}
				files.Add(1)
				bytes.Add(n)
				log.Debug().Str("bucket", m.ContentBucket).Str("key", m.Key).Str("size", humanize.IBytes(uint64(n))).Msg("seeded")
				return nil
			})
		}
	}
	err = g.Wait()
	res.Files, res.Bytes = files.Load(), bytes.Load()
	return res, err
}

func upload(ctx context.Context, cfg *config.Config, local *localcache.Cache, store riakstore.Store, ix *dirindex.Index, m namemap.Mapping) (int64, error) {
	data, err := local.ReadFile(m.Path)
	if err != nil {
		return 0, err
	}
	rctx, cancel := remoteContext(ctx, cfg)
	defer cancel()
	if err := store.StoreObject(rctx, m.ContentBucket, m.Key, &riakstore.Object{ContentType: cfg.ContentType, Value: data}); err != nil {
		return 0, err
	}
	if err := ix.AddKey(rctx, m.DirectoryBucket, m.Key); err != nil {
		return 0, err
	}
	if err := ix.SetSize(rctx, m.DirectoryBucket, m.Key, int64(len(data))); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
