package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bietiekay/riak-fuse/internal/fusefs"
	"github.com/bietiekay/riak-fuse/internal/handler"
	"github.com/bietiekay/riak-fuse/internal/hooks"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/bietiekay/riak-fuse/internal/logsink"
	"github.com/bietiekay/riak-fuse/internal/metrics"
	"github.com/bietiekay/riak-fuse/internal/status"
	"github.com/bietiekay/riak-fuse/internal/version"
	"github.com/bietiekay/riak-fuse/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand for the riakfs CLI.
func NewMountCmd(fv *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount [SOURCE MOUNTPOINT]",
		Short: "Mount the source tree and mirror it into Riak",
		Long: `Mount SOURCE at MOUNTPOINT.

Every file closed below /<id>/images/ is uploaded to Riak and recorded in
the directory index. Both arguments may also come from the config file
(source, mount) or from --source and --mount.`,
		Args: cobra.MatchAll(cobra.RangeArgs(0, 2), func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return errors.New("both SOURCE and MOUNTPOINT are required when given as arguments")
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				cfg.Source, cfg.Mount = args[0], args[1]
			}
			if cfg.Mount == "" {
				return errors.New("mountpoint is required")
			}
			return runMount(cmd.Context(), fv, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fv.cfg.Mount, "mount", fv.cfg.Mount, "Mountpoint")
	f.BoolVar(&fv.cfg.ReadContent, "read-content", fv.cfg.ReadContent, "Serve content and sizes from Riak")
	f.BoolVar(&fv.cfg.ReadDirectory, "read-directory", fv.cfg.ReadDirectory, "Serve listings of mapped directories from Riak")
	f.BoolVar(&fv.cfg.DeleteLocal, "delete-local", fv.cfg.DeleteLocal, "Remove local copies after upload")
	f.BoolVar(&fv.cfg.MaintainDirectory, "maintain-directory", fv.cfg.MaintainDirectory, "Keep the directory index up to date")
	f.BoolVar(&fv.cfg.SerializePaths, "serialize-paths", fv.cfg.SerializePaths, "Run remote steps one at a time per path")
	f.BoolVar(&fv.cfg.AllowOther, "allow-other", fv.cfg.AllowOther, "Allow other users to access the mount")
	f.StringVar(&fv.cfg.StatusAddr, "status-addr", fv.cfg.StatusAddr, "Listen address of the status server (empty disables it)")
	f.StringVar(&fv.cfg.HooksDir, "hooks-dir", fv.cfg.HooksDir, "Directory with Lua hook scripts")

	return cmd
}

func runMount(ctx context.Context, fv *flagValues, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logsink.Configure(cfg.LogFile, cfg.LogLevel); err != nil {
		return err
	}
	log.Info().Str("version", version.Get()).Str("source", cfg.Source).Str("mount", cfg.Mount).Msg("riakfs starting")

	if st, err := os.Stat(cfg.Source); err != nil {
		return err
	} else if !st.IsDir() {
		return &os.PathError{Op: "mount", Path: cfg.Source, Err: syscall.ENOTDIR}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := metrics.NewStats(reg)
	store = metrics.Instrument(store, stats)

	h := handler.New(handlerOptions(cfg), localcache.New(cfg.Source), store, log.Logger)

	var hookEng *hooks.Engine
	if cfg.HooksDir != "" {
		hookLog := log.Logger
		if cfg.HooksLogFile != "" {
			hookLog = logsink.File(cfg.HooksLogFile)
		}
		hookEng = hooks.New(cfg.HooksDir, cfg.HooksTimeout, hookLog)
		h.WithHooks(hookEng)
		log.Info().Str("dir", cfg.HooksDir).Strs("scripts", hookEng.Loaded()).Msg("hooks enabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reload(fv, hookEng)
			}
		}
	}()

	var ready atomic.Bool
	var server *http.Server
	if cfg.StatusAddr != "" {
		srv := status.New(store, h.Index(), stats, reg)
		srv.Locks = h.Locks()
		srv.Token = cfg.APIToken
		srv.ReadyFunc = ready.Load
		server = &http.Server{Addr: cfg.StatusAddr, Handler: srv.Mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server")
			}
		}()
	}

	ready.Store(true)
	err = fusefs.MountAndServe(ctx, cfg.Mount, h, fusefs.MountOptions{AllowOther: cfg.AllowOther})
	ready.Store(false)

	if server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}
	if err != nil {
		return err
	}
	log.Info().Str("mount", cfg.Mount).Msg("unmounted")
	return nil
}

// reload reopens the log files and re-reads the hook settings from the
// config file. Store and mapping settings need a remount.
func reload(fv *flagValues, hookEng *hooks.Engine) {
	if err := logsink.Reopen(); err != nil {
		log.Error().Err(err).Msg("reopen logs")
	}
	if fv.configPath == "" {
		return
	}
	cfg, err := config.FromFile(fv.configPath)
	if err != nil {
		log.Error().Err(err).Str("config", fv.configPath).Msg("reload config")
		return
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if hookEng != nil {
		hookEng.SetOptions(cfg.HooksDir, cfg.HooksTimeout)
		hookEng.Reload()
		log.Info().Strs("scripts", hookEng.Loaded()).Msg("hooks reloaded")
	}
	log.Info().Str("config", fv.configPath).Msg("config reloaded")
}
