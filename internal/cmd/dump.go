package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewDumpDirCmd creates and returns the dump-dir subcommand.
func NewDumpDirCmd(fv *flagValues) *cobra.Command {
	var sizes bool

	cmd := &cobra.Command{
		Use:   "dump-dir BUCKET",
		Short: "Print the directory index of a directory bucket",
		Long: `Print every key recorded in the directory set of BUCKET, for example
IMGDIR_fdaf16c657d997656bbccc5752eefa9f. With --sizes the recorded size of
each key is printed next to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			return dumpDir(cmd.Context(), cfg, newIndex(cfg, store), args[0], sizes, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&sizes, "sizes", "s", false, "Print recorded sizes")

	return cmd
}

func dumpDir(ctx context.Context, cfg *config.Config, ix *dirindex.Index, bucket string, sizes bool, w io.Writer) error {
	rctx, cancel := remoteContext(ctx, cfg)
	defer cancel()
	keys, err := ix.Listing(rctx, bucket)
	if err != nil {
		return err
	}
	var total int64
	for _, key := range keys {
		if !sizes {
			fmt.Fprintln(w, key)
			continue
		}
		size, ok, err := ix.Size(rctx, bucket, key)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s\t-\n", key)
			continue
		}
		total += size
		fmt.Fprintf(w, "%s\t%s\n", key, humanize.IBytes(uint64(size)))
	}
	if sizes {
		fmt.Fprintf(w, "%s keys, %s\n", humanize.Comma(int64(len(keys))), humanize.IBytes(uint64(total)))
	}
	return nil
}

// NewDumpFileCmd creates and returns the dump-file subcommand.
func NewDumpFileCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-file BUCKET KEY [OUT]",
		Short: "Fetch one stored object",
		Long: `Fetch the object stored under KEY in BUCKET and write its content to
OUT, or to stdout when OUT is omitted.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			w := cmd.OutOrStdout()
			if len(args) == 3 {
				f, err := os.Create(args[2])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := dumpFile(cmd.Context(), cfg, store, args[0], args[1], w)
			if err != nil {
				return err
			}
			if len(args) == 3 {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s to %s\n", humanize.IBytes(uint64(n)), args[2])
			}
			return nil
		},
	}
}

func dumpFile(ctx context.Context, cfg *config.Config, store riakstore.Store, bucket, key string, w io.Writer) (int, error) {
	rctx, cancel := remoteContext(ctx, cfg)
	defer cancel()
	obj, err := store.FetchObject(rctx, bucket, key)
	if errors.Is(err, riakstore.ErrNotFound) {
		return 0, fmt.Errorf("%s/%s: %w", bucket, key, err)
	}
	if err != nil {
		return 0, err
	}
	return w.Write(obj.Value)
}
