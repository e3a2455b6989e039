package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VenkatGGG/gpu-reserve/internal/api"
	"github.com/VenkatGGG/gpu-reserve/internal/config"
	"github.com/VenkatGGG/gpu-reserve/internal/ingest"
	"github.com/VenkatGGG/gpu-reserve/internal/lease"
	"github.com/VenkatGGG/gpu-reserve/internal/monitor"
	"github.com/VenkatGGG/gpu-reserve/internal/notify"
	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
	"github.com/VenkatGGG/gpu-reserve/internal/scheduler"
	"github.com/VenkatGGG/gpu-reserve/internal/store"
)

func newServerCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server ACCOUNT PASSWORD",
		Short: "Start the scheduler in the background",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reservation.ValidateEmail(args[0]); err != nil {
				return err
			}
			if ingest.Reachable(commandContext(cmd), cfg.ListenAddr) {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduler already running at %s\n", cfg.ListenAddr)
				return nil
			}
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			child := exec.Command(self, "subserver", args[0], args[1])
			child.Env = os.Environ()
			detach(child)
			if err := child.Start(); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduler started (pid %d)\n", child.Process.Pid)
			return child.Process.Release()
		},
	}
}

func newSubserverCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:    "subserver ACCOUNT PASSWORD",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reservation.ValidateEmail(args[0]); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if ingest.Reachable(ctx, cfg.ListenAddr) {
				return nil
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			creds := reservation.Credentials{Account: args[0], Password: args[1]}
			if err := runScheduler(ctx, *cfg, creds, logger); err != nil {
				logger.Error("scheduler exited", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func runScheduler(ctx context.Context, cfg config.Config, creds reservation.Credentials, logger *zap.Logger) error {
	window, err := notify.ParseWindow(cfg.NotifyWindowStart, cfg.NotifyWindowEnd)
	if err != nil {
		return err
	}

	snapshots, err := store.Open(ctx, store.Config{
		Backend:     cfg.SnapshotBackend,
		Path:        cfg.SnapshotPath,
		RedisAddr:   cfg.RedisAddr,
		RedisKey:    cfg.SnapshotKey,
		PostgresDSN: cfg.PostgresDSN,
		Name:        cfg.SnapshotName,
	})
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer snapshots.Close()
	initial := store.LoadOrEmpty(ctx, snapshots, logger.Named("store"))

	sampler, err := monitor.NewSampler(cfg.SamplerKind, cfg.SMIPath)
	if err != nil {
		return err
	}
	if closer, ok := sampler.(io.Closer); ok {
		defer closer.Close()
	}

	mailer := notify.NewRetryMailer(
		notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Account:  creds.Account,
			Password: creds.Password,
			Timeout:  cfg.SMTPTimeout,
		}),
		notify.RetryConfig{
			Attempts:  cfg.MailRetryAttempts,
			BaseDelay: cfg.MailRetryBaseDelay,
			MaxDelay:  cfg.MailRetryMaxDelay,
		},
		logger.Named("mail"),
	)

	listener, err := ingest.Listen(ingest.Config{
		Addr:            cfg.ListenAddr,
		ReadTimeout:     cfg.IngestReadTimeout,
		MaxPayloadBytes: int64(cfg.IngestMaxPayload),
		BufferSize:      cfg.IngestBufferSize,
	}, logger.Named("ingest"))
	if err != nil {
		return err
	}
	defer listener.Close()

	leaser, closeLease := newLeaser(cfg)
	defer closeLease()

	metrics := api.NewMetrics()
	board := api.NewBoard(metrics)

	sched, err := scheduler.New(scheduler.Config{
		TickInterval:           cfg.TickInterval,
		IdleThreshold:          cfg.IdleThreshold,
		LowEfficiencyThreshold: cfg.LowEfficiencyThreshold,
		Backoff: notify.BackoffConfig{
			Base:   cfg.NotifyBaseInterval,
			Max:    cfg.NotifyMaxInterval,
			Window: window,
		},
		Credentials: creds,
	}, scheduler.Deps{
		Source:  listener,
		Sampler: sampler,
		Mailer:  mailer,
		Store:   snapshots,
		Lease:   leaser,
		Sink:    board,
		Logger:  logger.Named("scheduler"),
	}, initial)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := listener.Serve(runCtx); err != nil {
			logger.Error("ingest listener stopped", zap.Error(err))
			cancel()
		}
	}()

	statusServer := startStatusServer(cfg, api.NewServer(board, metrics, logger.Named("api")), logger)
	defer func() {
		if statusServer == nil {
			return
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = statusServer.Shutdown(shutdownCtx)
	}()

	logger.Info("scheduler listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("status_addr", cfg.StatusAddr),
		zap.String("snapshot_backend", cfg.SnapshotBackend),
		zap.String("sampler", cfg.SamplerKind))
	return sched.Run(runCtx)
}

func newLeaser(cfg config.Config) (scheduler.Leaser, func()) {
	if !cfg.LeaseEnabled {
		return nil, func() {}
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return lease.NewKeeper(lease.NewInMemoryManager(), cfg.LeaseHost, cfg.LeaseTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	keeper := lease.NewKeeper(lease.NewRedisManager(client, cfg.LeasePrefix), cfg.LeaseHost, cfg.LeaseTTL)
	return keeper, func() { _ = client.Close() }
}

func startStatusServer(cfg config.Config, server *api.Server, logger *zap.Logger) *http.Server {
	addr := strings.TrimSpace(cfg.StatusAddr)
	if addr == "" || addr == "off" {
		return nil
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("status api stopped", zap.Error(err))
		}
	}()
	return httpServer
}
