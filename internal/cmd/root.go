package cmd

import (
	"github.com/bietiekay/riak-fuse/internal/version"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/spf13/cobra"
)

// flagValues receives the persistent flags. A value is copied into the
// loaded configuration only when its flag was given on the command line.
type flagValues struct {
	configPath string
	cfg        config.Config
}

// NewRootCmd creates and returns the root cobra command for the riakfs CLI.
func NewRootCmd() *cobra.Command {
	fv := &flagValues{cfg: *config.Default()}

	rootCmd := &cobra.Command{
		Use:   "riakfs",
		Short: "riakfs - a FUSE bridge between a legacy image tree and Riak",
		Long: `riakfs mounts a local source tree and mirrors every file below
/<id>/images/ into Riak: file content into IMG_<id> buckets, and the
per-directory listing and sizes into CRDT sets of IMGDIR_<id> buckets.

Use subcommands to perform different operations:
  - mount: serve the source tree at a mountpoint
  - verify: compare the source tree with the directory index
  - seed: upload local files the directory index does not know yet
  - dump-dir, dump-file: inspect what is stored remotely
  - ctl: query the status server of a running mount`,
		Version:       version.Get(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	groupFilesystem := "filesystem"
	groupUtilities := "utilities"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&fv.configPath, "config", "c", "", "Path to YAML config file")
	pf.StringVar(&fv.cfg.Source, "source", fv.cfg.Source, "Local source tree")
	pf.StringVar(&fv.cfg.Store, "store", fv.cfg.Store, "Remote store: riak or memory")
	pf.StringVar(&fv.cfg.RiakHost, "riak-host", fv.cfg.RiakHost, "Riak protocol buffers host")
	pf.IntVar(&fv.cfg.RiakPort, "riak-port", fv.cfg.RiakPort, "Riak protocol buffers port")
	pf.StringVar(&fv.cfg.ContentPrefix, "content-prefix", fv.cfg.ContentPrefix, "Bucket prefix for file content")
	pf.StringVar(&fv.cfg.DirectoryPrefix, "directory-prefix", fv.cfg.DirectoryPrefix, "Bucket prefix for directory sets")
	pf.StringVar(&fv.cfg.SetBucketType, "set-bucket-type", fv.cfg.SetBucketType, "Bucket type holding the sets")
	pf.StringVar(&fv.cfg.LogFile, "log-file", fv.cfg.LogFile, "Log to this file instead of stderr")
	pf.StringVar(&fv.cfg.LogLevel, "log-level", fv.cfg.LogLevel, "Log level: debug, info, warn, error")
	pf.DurationVar(&fv.cfg.RemoteTimeout, "remote-timeout", fv.cfg.RemoteTimeout, "Bound for each remote call (0 = none)")

	mountCmd := NewMountCmd(fv)
	verifyCmd := NewVerifyCmd(fv)
	seedCmd := NewSeedCmd(fv)
	dumpDirCmd := NewDumpDirCmd(fv)
	dumpFileCmd := NewDumpFileCmd(fv)
	ctlCmd := NewCtlCmd()
	versionCmd := NewVersionCmd()

	mountCmd.GroupID = groupFilesystem
	verifyCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities
	dumpDirCmd.GroupID = groupUtilities
	dumpFileCmd.GroupID = groupUtilities
	ctlCmd.GroupID = groupUtilities
	versionCmd.GroupID = groupUtilities

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(dumpDirCmd)
	rootCmd.AddCommand(dumpFileCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on cmd.
func (fv *flagValues) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if fv.configPath != "" {
		var err error
		if cfg, err = config.FromFile(fv.configPath); err != nil {
			return nil, err
		}
	}
	fv.apply(cfg, cmd.Flags().Changed)
	return cfg, nil
}

func (fv *flagValues) apply(cfg *config.Config, changed func(string) bool) {
	f := &fv.cfg
	overrides := []struct {
		flag string
		set  func()
	}{
		{"source", func() { cfg.Source = f.Source }},
		{"store", func() { cfg.Store = f.Store }},
		{"riak-host", func() { cfg.RiakHost = f.RiakHost }},
		{"riak-port", func() { cfg.RiakPort = f.RiakPort }},
		{"content-prefix", func() { cfg.ContentPrefix = f.ContentPrefix }},
		{"directory-prefix", func() { cfg.DirectoryPrefix = f.DirectoryPrefix }},
		{"set-bucket-type", func() { cfg.SetBucketType = f.SetBucketType }},
		{"log-file", func() { cfg.LogFile = f.LogFile }},
		{"log-level", func() { cfg.LogLevel = f.LogLevel }},
		{"remote-timeout", func() { cfg.RemoteTimeout = f.RemoteTimeout }},
		{"mount", func() { cfg.Mount = f.Mount }},
		{"read-content", func() { cfg.ReadContent = f.ReadContent }},
		{"read-directory", func() { cfg.ReadDirectory = f.ReadDirectory }},
		{"delete-local", func() { cfg.DeleteLocal = f.DeleteLocal }},
		{"maintain-directory", func() { cfg.MaintainDirectory = f.MaintainDirectory }},
		{"serialize-paths", func() { cfg.SerializePaths = f.SerializePaths }},
		{"allow-other", func() { cfg.AllowOther = f.AllowOther }},
		{"status-addr", func() { cfg.StatusAddr = f.StatusAddr }},
		{"hooks-dir", func() { cfg.HooksDir = f.HooksDir }},
		{"workers", func() { cfg.SeedWorkers = f.SeedWorkers }},
	}
	for _, o := range overrides {
		if changed(o.flag) {
			o.set()
		}
	}
}
