package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/hotreload/internal/config"
	"github.com/vango-dev/hotreload/internal/coordinator"
	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/metrics"
	"github.com/vango-dev/hotreload/internal/notify"
	"github.com/vango-dev/hotreload/internal/reload"
	"github.com/vango-dev/hotreload/internal/status"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [root] [-- command args...]",
		Short: "Watch a tree and reload on change",
		Long: `Watch a source tree and trigger a reload whenever a matching file is
added, modified or removed.

A command given after -- is supervised: it is started once and restarted
on every reload.

Examples:
  hotreload watch ./app --ext php --signal-pid 1234
  hotreload watch ./app --ext php -- php server.php
  hotreload watch --listen 127.0.0.1:7070 --broadcast`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, exec := splitArgs(cmd, args)
			cfg, err := loadConfig(cmd, root, exec)
			if err != nil {
				return err
			}
			return runWatch(cfg, slog.Default())
		},
	}

	flags := cmd.Flags()
	addFilterFlags(flags)
	flags.Int("poll-interval", config.DefaultPollInterval, "Scan interval in milliseconds")
	flags.Int("debounce", config.DefaultDebounceWindow, "Minimum time between reloads in milliseconds")
	flags.Bool("no-notify", false, "Always scan instead of using file system notifications")
	flags.Bool("fallback", false, "Scan if notification setup fails")
	flags.Int("worker-id", 0, "Worker index of this process; only worker 0 watches")
	flags.String("listen", "", "Serve /healthz, /status and /metrics on this address")
	flags.Int("signal-pid", 0, "Send the reload signal to this process")
	flags.String("signal", config.DefaultSignal, "Reload signal name")
	flags.Bool("broadcast", false, "Push reloads to WebSocket clients at /_hotreload")
	flags.String("s3-bucket", "", "Write a reload marker to this S3 bucket")
	flags.String("s3-prefix", "", "Key prefix for the S3 reload marker")
	flags.String("s3-region", "", "AWS region of the S3 bucket")

	return cmd
}

// triggers holds the reload collaborators built from configuration.
type triggers struct {
	all         reload.Multi
	process     *reload.Process
	broadcaster *reload.Broadcaster
}

func buildTriggers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*triggers, error) {
	t := &triggers{}

	if cfg.Reload.Signal.PID > 0 {
		s, err := reload.NewSignal(cfg.Reload.Signal.PID, cfg.Reload.Signal.Name, logger)
		if err != nil {
			return nil, err
		}
		t.all = append(t.all, s)
	}

	if len(cfg.Reload.Exec) > 0 {
		p, err := reload.NewProcess(cfg.Reload.Exec, reload.WithProcessLogger(logger))
		if err != nil {
			return nil, err
		}
		t.process = p
		t.all = append(t.all, p)
	}

	if cfg.Reload.Broadcast {
		if !cfg.HasStatusServer() {
			return nil, errors.New("E121").
				WithDetail("reload.broadcast needs an HTTP listener.").
				WithSuggestion("Set listen, or pass --listen 127.0.0.1:7070.")
		}
		t.broadcaster = reload.NewBroadcaster(logger)
		t.all = append(t.all, t.broadcaster)
	}

	if cfg.Reload.S3.Bucket != "" {
		a, err := reload.NewS3AnnouncerFromEnv(ctx, cfg.Reload.S3.Bucket, cfg.Reload.S3.Prefix, cfg.Reload.S3.Region, logger)
		if err != nil {
			return nil, err
		}
		t.all = append(t.all, a)
	}

	return t, nil
}

func runWatch(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig, err := buildTriggers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if len(trig.all) == 0 {
		warn("No reload trigger configured; changes are only logged")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(reg))

	role := coordinator.RoleForWorker(cfg.WorkerID)
	coord := coordinator.New(coordinator.Options{
		Config:        cfg,
		Role:          role,
		NotifyCapable: notify.Supported(),
		Trigger:       trig.all,
		Logger:        logger,
		Metrics:       m,
	})

	var srvErr <-chan error
	if cfg.HasStatusServer() {
		opts := status.Options{
			Addr:     cfg.Listen,
			Source:   coord,
			Gatherer: reg,
			Logger:   logger,
		}
		if trig.broadcaster != nil {
			opts.Broadcaster = trig.broadcaster
		}
		srv := status.New(opts)
		if err := srv.Start(); err != nil {
			return errors.New("E121").WithDetail("listen " + cfg.Listen).Wrap(err)
		}
		srvErr = srv.Err()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		info("Status at http://%s/status", srv.Addr())
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	// The scan strategy's first pass already started a supervised command.
	if trig.process != nil {
		defer trig.process.Stop()
		if !trig.process.Running() {
			if err := trig.process.Start(ctx); err != nil {
				return err
			}
		}
	}
	if trig.broadcaster != nil {
		defer trig.broadcaster.Close()
	}

	if role == coordinator.RolePeer {
		info("Worker %d is a peer; not watching", cfg.WorkerID)
	} else {
		success("Watching %s (%s)", cfg.RootPath(), coord.Strategy())
	}

	select {
	case <-sigCh:
		fmt.Println("\n  Shutting down...")
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}
	return nil
}
