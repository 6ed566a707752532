// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/command"
	"github.com/bureau-foundation/renderfarm/lib/config"
	"github.com/bureau-foundation/renderfarm/lib/fleet"
	"github.com/bureau-foundation/renderfarm/lib/job"
	"github.com/bureau-foundation/renderfarm/lib/maxscript"
	"github.com/bureau-foundation/renderfarm/lib/process"
	"github.com/bureau-foundation/renderfarm/lib/renderpreset"
	"github.com/bureau-foundation/renderfarm/lib/service"
	"github.com/bureau-foundation/renderfarm/lib/sessionevent"
	"github.com/bureau-foundation/renderfarm/lib/sessionpool"
	"github.com/bureau-foundation/renderfarm/lib/store"
	"github.com/bureau-foundation/renderfarm/lib/version"
)

// shutdownTimeout bounds how long running jobs get to record their
// outcome after a shutdown signal.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("renderfarm-controller", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the YAML configuration (default $RENDERFARM_CONFIG)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("renderfarm-controller %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, clock.Real(), logger)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve wires the control plane from cfg and runs it until ctx is
// done.
func serve(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) error {
	logger.Info("renderfarm controller starting", version.LogAttrs()...)

	records, err := store.Open(store.Config{
		Path:     cfg.Store.Path,
		PoolSize: cfg.Store.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer records.Close()

	presets, err := renderpreset.Load(cfg.Render.PresetsFile)
	if err != nil {
		return err
	}

	bus := sessionevent.NewBus(logger)

	// The sweep hook needs the controller, which needs the registry.
	var controller *Controller
	registry, err := fleet.New(fleet.Config{
		Store:        records,
		Clock:        clk,
		RecentWindow: cfg.RecentWindow(),
		AfterSweep: func(ctx context.Context, deleted int) {
			controller.ReapSessions(ctx)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	factory, err := maxscript.NewFactory(maxscript.FactoryConfig{
		Workers: registry,
		Channel: command.Config{
			DialTimeout:    cfg.DialTimeout(),
			CommandTimeout: cfg.CommandTimeout(),
			FailureMarkers: cfg.Channel.FailureMarkers,
			QueueDepth:     cfg.Channel.QueueDepth,
			Clock:          clk,
		},
		HomeDir: cfg.Render.WorkerHomeDir,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	pool, err := sessionpool.New(sessionpool.Config[*maxscript.Client]{
		Factory: factory,
		Bus:     bus,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	artifacts := job.Artifacts{
		PublicURL:     cfg.Render.PublicURL,
		MajorVersion:  cfg.Render.MajorVersion,
		WorkerTempDir: cfg.Render.WorkerTempDir,
		CurlPath:      cfg.Render.CurlPath,
	}
	orchestrator, err := job.New(job.Config{
		Store:         records,
		Renderers:     job.PoolSource[*maxscript.Client](pool.Get),
		Clock:         clk,
		Presets:       presets,
		DefaultPreset: cfg.Render.DefaultPreset,
		Artifacts:     artifacts,
		Bus:           bus,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	controller = &Controller{
		store:        records,
		registry:     registry,
		bus:          bus,
		orchestrator: orchestrator,
		artifacts:    artifacts,
		clock:        clk,
		workgroup:    cfg.Fleet.Workgroup,
		startedAt:    clk.Now(),
		logger:       logger,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := service.NewSocketServer(cfg.Control.SocketPath, logger)
	controller.registerActions(server)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- server.Serve(ctx)
	}()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		registry.RunSweep(ctx, cfg.SweepInterval())
	}()

	logger.Info("renderfarm controller running",
		"socket", cfg.Control.SocketPath,
		"store", cfg.Store.Path,
		"workgroup", cfg.Fleet.Workgroup,
		"presets", presets.Names(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		serveErr = <-socketDone
	case serveErr = <-socketDone:
		logger.Error("socket server stopped", "error", serveErr)
	}
	cancel()
	<-sweepDone

	if err := orchestrator.Close(shutdownTimeout); err != nil {
		logger.Error("jobs still running at shutdown", "error", err)
	}
	return serveErr
}
