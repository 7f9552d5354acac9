package cmd

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/namemap"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates and returns the verify subcommand for the riakfs CLI.
// It compares every mapped directory of the source tree with its index.
func NewVerifyCmd(fv *flagValues) *cobra.Command {
	var (
		sizes   bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the source tree with the directory index",
		Long: `Compare every /<id>/images directory of the source tree with the
directory index stored in Riak and report keys that exist on one side only.
With --sizes the recorded size of every common key is checked as well.

Exits non-zero when an inconsistency is found.`,
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

			rep, err := verify(cmd.Context(), cfg, localcache.New(cfg.Source), newIndex(cfg, store), sizes)
			if err != nil {
				return err
			}
			rep.print(cmd.OutOrStdout(), verbose)
			if n := rep.Inconsistencies(); n > 0 {
				return fmt.Errorf("%d inconsistencies found", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sizes, "sizes", false, "Also compare recorded sizes")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every directory checked")

	return cmd
}

type sizeMismatch struct {
	Path   string
	Local  int64
	Remote int64
	// Missing is set when the index has no size for the key.
	Missing bool
}

type verifyReport struct {
	Directories   int
	Files         int
	Bytes         uint64
	MissingRemote []string
	MissingLocal  []string
	Sizes         []sizeMismatch
	checked       []string
}

func (r *verifyReport) Inconsistencies() int {
	return len(r.MissingRemote) + len(r.MissingLocal) + len(r.Sizes)
}

func (r *verifyReport) print(w io.Writer, verbose bool) {
	if verbose {
		for _, d := range r.checked {
			fmt.Fprintf(w, "checked %s\n", d)
		}
	}
	for _, p := range r.MissingRemote {
		fmt.Fprintf(w, "missing in index: %s\n", p)
	}
	for _, p := range r.MissingLocal {
		fmt.Fprintf(w, "missing locally:  %s\n", p)
	}
	for _, s := range r.Sizes {
		if s.Missing {
			fmt.Fprintf(w, "no size recorded: %s (local %s)\n", s.Path, humanize.IBytes(uint64(s.Local)))
			continue
		}
		fmt.Fprintf(w, "size mismatch:    %s (local %s, index %s)\n", s.Path,
			humanize.IBytes(uint64(s.Local)), humanize.IBytes(uint64(s.Remote)))
	}
	fmt.Fprintf(w, "\nVerification complete:\n")
	fmt.Fprintf(w, "  Directories checked: %d\n", r.Directories)
	fmt.Fprintf(w, "  Local files: %s (%s)\n", humanize.Comma(int64(r.Files)), humanize.IBytes(r.Bytes))
	fmt.Fprintf(w, "  Inconsistencies: %d\n", r.Inconsistencies())
}

func verify(ctx context.Context, cfg *config.Config, local *localcache.Cache, ix *dirindex.Index, sizes bool) (*verifyReport, error) {
	names := namemap.Prefixes{Content: cfg.ContentPrefix, Directory: cfg.DirectoryPrefix}
	dirs, err := scanSource(local, names)
	if err != nil {
		return nil, err
	}
	rep := &verifyReport{}
	for _, d := range dirs {
		rctx, cancel := remoteContext(ctx, cfg)
		listing, err := ix.Listing(rctx, d.Mapping.DirectoryBucket)
		cancel()
		if err != nil {
			return nil, err
		}
		rep.Directories++
		rep.checked = append(rep.checked, d.Path)
		for _, size := range d.Files {
			rep.Files++
			rep.Bytes += uint64(size)
		}
		for _, name := range sortedKeys(d.Files) {
			if !slices.Contains(listing, name) {
				rep.MissingRemote = append(rep.MissingRemote, path.Join(d.Path, name))
				continue
			}
			if !sizes {
				continue
			}
			rctx, cancel := remoteContext(ctx, cfg)
			remote, ok, err := ix.Size(rctx, d.Mapping.DirectoryBucket, name)
			cancel()
			if err != nil {
				return nil, err
			}
			if !ok || remote != d.Files[name] {
				rep.Sizes = append(rep.Sizes, sizeMismatch{Path: path.Join(d.Path, name), Local: d.Files[name], Remote: remote, Missing: !ok})
			}
		}
		for _, key := range listing {
			if _, ok := d.Files[key]; !ok {
				rep.MissingLocal = append(rep.MissingLocal, path.Join(d.Path, key))
			}
		}
	}
	return rep, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
