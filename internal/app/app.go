// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires the application together: config, event bus, instance
// registry, backup engine, terminals, front proxy and the API server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dfoerderreuther/aemstarter/internal/api"
	"github.com/dfoerderreuther/aemstarter/internal/backup"
	"github.com/dfoerderreuther/aemstarter/internal/config"
	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/instance"
	"github.com/dfoerderreuther/aemstarter/internal/orchestrate"
	"github.com/dfoerderreuther/aemstarter/internal/project"
	"github.com/dfoerderreuther/aemstarter/internal/proxy"
	"github.com/dfoerderreuther/aemstarter/internal/terminal"
)

// App is the main application container.
type App struct {
	config   *config.Config
	proj     *project.Project
	eventBus events.EventBus

	registry    *instance.Registry
	backups     *backup.Engine
	terminals   *terminal.Multiplexer
	frontProxy  *proxy.FrontProxy
	coordinator *orchestrate.Coordinator
	tasks       *orchestrate.TaskRunner
	capturer    *instance.RodCapturer
	apiServer   *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		done: make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("Config error: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d error(s))", len(errs))
	}
	app.config = cfg

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})
	app.eventBus.SetDefaultProject(cfg.Project.ID)

	return app, nil
}

// Project returns the managed project record.
func (app *App) Project() *project.Project { return app.proj }

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config
	app.proj = buildProject(cfg)

	var capturer instance.ScreenshotCapturer
	if cfg.Health.Screenshots {
		app.capturer = instance.NewRodCapturer()
		capturer = app.capturer
	}

	app.registry = instance.NewRegistry(app.eventBus, nil, capturer, instance.HealthConfig{
		Interval: config.ParseDuration(cfg.Health.Interval, 30*time.Second),
		Path:     cfg.Health.Path,
		User:     cfg.Health.User,
		Password: cfg.Health.Password,
	})

	app.backups = backup.NewEngine(app.proj, app.eventBus, backup.Config{
		Dir:            cfg.Backup.Dir,
		CompactionJar:  cfg.Backup.CompactionJar,
		CompactionHeap: cfg.Backup.CompactionHeap,
	})

	app.terminals = terminal.NewMultiplexer(app.eventBus, app.proj.ID)
	app.terminals.SetDefaults(terminal.Options{
		Shell: cfg.Terminal.Shell,
		Cwd:   app.proj.Folder,
	})

	if cfg.Proxy.Enabled {
		app.frontProxy = proxy.NewFrontProxy(app.proj, app.eventBus, proxy.Config{
			Port:         cfg.Proxy.Port,
			TLSTailscale: cfg.Proxy.TLSTailscale,
		})
	}

	var proxyCtrl orchestrate.ProxyController
	if app.frontProxy != nil {
		proxyCtrl = app.frontProxy
	}
	app.coordinator = orchestrate.NewCoordinator(app.proj, app.registry, proxyCtrl, app.eventBus)
	app.tasks = orchestrate.NewTaskRunner(app.coordinator, app.backups)

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Project:     app.proj,
		Registry:    app.registry,
		Coordinator: app.coordinator,
		Tasks:       app.tasks,
		Backups:     app.backups,
		Terminals:   app.terminals,
		FrontProxy:  app.frontProxy,
		EventBus:    app.eventBus,
	})

	return nil
}

// Coordinator returns the stack coordinator. Valid after Initialize.
func (app *App) Coordinator() *orchestrate.Coordinator { return app.coordinator }

// Tasks returns the automation task runner. Valid after Initialize.
func (app *App) Tasks() *orchestrate.TaskRunner { return app.tasks }

// Backups returns the backup engine. Valid after Initialize.
func (app *App) Backups() *backup.Engine { return app.backups }

// Registry returns the instance registry. Valid after Initialize.
func (app *App) Registry() *instance.Registry { return app.registry }

// Run initializes the app and serves the API until a termination signal or
// context cancellation.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serverErr:
		app.Shutdown(context.Background())
		return err
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case <-ctx.Done():
	case <-app.done:
	}

	app.Shutdown(context.Background())
	return nil
}

// Shutdown tears everything down exactly once. Background tasks (log tails,
// health schedules, pty sessions) are stopped explicitly; they are not
// garbage-collected.
func (app *App) Shutdown(ctx context.Context) {
	app.stopOnce.Do(func() {
		close(app.done)

		if app.apiServer != nil {
			if err := app.apiServer.Shutdown(ctx); err != nil {
				log.Printf("API shutdown: %v", err)
			}
		}
		if app.terminals != nil {
			app.terminals.ClearAll()
		}
		if app.frontProxy != nil {
			if err := app.frontProxy.Stop(ctx); err != nil {
				log.Printf("Front proxy shutdown: %v", err)
			}
		}
		if app.registry != nil {
			app.registry.Shutdown()
		}
		if app.capturer != nil {
			app.capturer.Close()
		}
		if app.eventBus != nil {
			app.eventBus.Close()
		}
	})
}

// buildProject maps the loaded configuration to the immutable project record
// the core packages operate on.
func buildProject(cfg *config.Config) *project.Project {
	return &project.Project{
		ID:     cfg.Project.ID,
		Name:   cfg.Project.Name,
		Folder: cfg.Project.Folder,
		Author: project.InstanceSettings{
			Port:            cfg.Author.Port,
			Runmode:         cfg.Author.Runmode,
			JVMOpts:         cfg.Author.JVMOpts,
			RunArgs:         cfg.Author.RunArgs,
			DebugPortOffset: cfg.Author.DebugPortOffset,
			LogFiles:        cfg.Author.LogFiles,
		},
		Publish: project.InstanceSettings{
			Port:            cfg.Publish.Port,
			Runmode:         cfg.Publish.Runmode,
			JVMOpts:         cfg.Publish.JVMOpts,
			RunArgs:         cfg.Publish.RunArgs,
			DebugPortOffset: cfg.Publish.DebugPortOffset,
			LogFiles:        cfg.Publish.LogFiles,
		},
		Dispatcher: project.InstanceSettings{
			Port:     cfg.Dispatcher.Port,
			LogFiles: cfg.Dispatcher.LogFiles,
		},
	}
}
