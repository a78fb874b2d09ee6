package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KartoffelChipss/pelagica/playerd/internal/audio"
	"github.com/KartoffelChipss/pelagica/playerd/internal/auth"
	"github.com/KartoffelChipss/pelagica/playerd/internal/config"
	"github.com/KartoffelChipss/pelagica/playerd/internal/continuewatch"
	"github.com/KartoffelChipss/pelagica/playerd/internal/ipc"
	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/media"
	"github.com/KartoffelChipss/pelagica/playerd/internal/metrics"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/queue"
	"github.com/KartoffelChipss/pelagica/playerd/internal/reporting"
	"github.com/KartoffelChipss/pelagica/playerd/internal/trackpref"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	socketPath string
	testMode   bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the playback daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := root.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, mgr, opts)
		},
	}
	cmd.Flags().StringVar(&opts.socketPath, "socket", "", "IPC socket path (default: $XDG_RUNTIME_DIR/playerd.sock)")
	cmd.Flags().BoolVar(&opts.testMode, "test-mode", false, "auto-approve client pairing")
	return cmd
}

func serve(ctx context.Context, mgr *config.Manager, opts *serveOptions) error {
	logger := log.WithComponent("daemon")
	cfg := mgr.Get()
	logger.Info().Str("version", Version).Str("server", cfg.Server.URL).Msg("playerd starting")

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}

	authStore, err := auth.NewStore(filepath.Join(cfg.DataDir, "clients.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize auth store: %w", err)
	}
	authManager := auth.NewManager(authStore, auth.Options{AutoApprove: opts.testMode})

	reporter := reporting.New(svc.client, svc.client, reporting.Options{
		SessionTTL: cfg.Playback.SessionCacheTTL(),
		StartRetry: reporting.Backoff{
			Base:        cfg.Playback.StartRetry.Base(),
			Max:         cfg.Playback.StartRetry.Max(),
			MaxAttempts: cfg.Playback.StartRetry.MaxAttempts,
		},
		RequestTimeout: cfg.Server.Timeout(),
	})

	output, err := audio.NewOtoOutput(cfg.Audio.SampleRate, cfg.Audio.BufferSizeMs)
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	decoder, err := audio.NewFFmpegDecoder()
	if err != nil {
		output.Close()
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}
	engine := audio.NewEngine(output, decoder)
	defer engine.Close()

	queueMgr := queue.NewManager()
	var queueStore *queue.Store
	if cfg.Behavior.RememberQueue {
		queueStore = queue.NewStore(cfg.DataDir, queueMgr)
		if err := queueStore.Load(); err != nil {
			logger.Warn().Err(err).Msg("failed to load saved queue")
		}
		queueMgr.SetOnChange(func() {
			if err := queueStore.Save(); err != nil {
				logger.Warn().Err(err).Msg("failed to save queue")
			}
		})
	}

	controller := playback.NewController(engine, svc.client, reporter, queueMgr, svc.prefs, playback.Options{
		ReportInterval:   cfg.Playback.AudioReportInterval(),
		RestartThreshold: cfg.Playback.RestartThreshold(),
	})
	engine.SetSink(controller.Post)

	video := playback.NewVideoSession(reporter, controller, playback.VideoOptions{
		ReportInterval: cfg.Playback.VideoReportInterval(),
		MinPlaytime:    cfg.Playback.VideoMinPlaytime(),
	})

	session := media.Open(cfg.Media.EnableSession, "playerd")
	bridge := media.NewBridge(session, controller, svc.client, media.BridgeOptions{
		SeekOffset: cfg.Playback.SeekOffset(),
	})

	tracks := trackpref.NewService(svc.client, cfg.Server.UserID, svc.prefs, trackpref.Preferences{
		AudioLanguage:    cfg.Preferences.AudioLanguage,
		SubtitleLanguage: cfg.Preferences.SubtitleLanguage,
	})
	mgr.OnChange(func(c *config.Config) {
		tracks.SetOverrides(trackpref.Preferences{
			AudioLanguage:    c.Preferences.AudioLanguage,
			SubtitleLanguage: c.Preferences.SubtitleLanguage,
		})
	})

	server, err := ipc.NewServer(socketPath(opts), ipc.Deps{
		Auth:    authManager,
		Config:  mgr,
		Player:  controller,
		Queue:   queueMgr,
		Library: continuewatch.New(svc.client, cfg.ContinueWatching.Concurrency),
		Tracks:  tracks,
		Video:   video,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize IPC server: %w", err)
	}

	if err := controller.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to restore queue")
	}
	bridge.Start()

	if err := mgr.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := controller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return server.Start(gctx) })
	if addr := cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			return metrics.NewServer(addr, metrics.Options{}).Run(gctx)
		})
	}

	runErr := g.Wait()

	// the video surface and the active track get their stop reports before exit
	video.End()
	controller.Close()
	bridge.Close()
	if err := session.Close(); err != nil {
		logger.Debug().Err(err).Msg("media session close failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reporter.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pending reports dropped")
	}

	if queueStore != nil {
		if err := queueStore.Save(); err != nil {
			logger.Warn().Err(err).Msg("failed to save queue on shutdown")
		}
	}

	logger.Info().Msg("playerd stopped")
	return runErr
}

func socketPath(opts *serveOptions) string {
	if opts.socketPath != "" {
		return opts.socketPath
	}
	return ipc.DefaultSocketPath()
}
