package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/application/usecase"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/command"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/service"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/anthropic"   // register anthropic connector factory
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/gemini"      // register gemini connector factory
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/geminicli"   // register gemini-cli connector factory
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/geminioauth" // register gemini-oauth connector factory
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/openai"      // register openai connector factory
	_ "github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend/qwencli"     // register qwen-cli connector factory
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/capture"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/eventbus"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/monitoring"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/persistence"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/secrets"
	httpServer "github.com/matdev83/llm-interactive-proxy-sub007/internal/interfaces/http"
	"github.com/matdev83/llm-interactive-proxy-sub007/pkg/safego"
)

// App is the dependency injection container: it owns every long-lived
// component and their startup/shutdown order.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// Repositories
	sessionRepo repository.SessionRepository

	// Domain services
	commands   *command.Service
	chain      *service.ProcessorChain
	compressor *service.PytestCompressor
	failover   *service.FailoverEngine
	loops      *service.LoopDetector
	usage      *service.UsageEstimator
	redactor   *service.Redactor

	// Infrastructure
	backends *backend.Service
	capture  *capture.Capture
	monitor  *monitoring.Monitor
	bus      eventbus.Bus

	// Application services
	chatUseCase *usecase.ChatUseCase

	// Interfaces
	httpServer *httpServer.Server

	// Lifecycle
	modeWatcher *config.ModeTableWatcher
	cancel      context.CancelFunc
	sweeperStop chan struct{}
}

// NewApp builds the full container from configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config:      cfg,
		logger:      logger,
		sweeperStop: make(chan struct{}),
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	return app, nil
}

// initRepositories selects and opens the session store.
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories",
		zap.String("store", app.config.Session.Store))

	switch app.config.Session.Store {
	case "", "memory":
		app.sessionRepo = persistence.NewMemorySessionRepository()
	case "database":
		db, err := persistence.NewDBConnection(&app.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.db = db
		app.sessionRepo = persistence.NewGormSessionRepository(db)
	default:
		return fmt.Errorf("unknown session store %q", app.config.Session.Store)
	}
	return nil
}

// initInfrastructure brings up backends, capture, monitoring and the bus.
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	// Backend connectors. Construction failures exclude the backend;
	// Initialize probes it and may leave it non-functional.
	app.backends = backend.NewService(app.config, app.logger)

	// Redaction keys: every configured upstream key, the proxy's own client
	// keys, and anything key-shaped in the process environment. Anything in
	// this set is masked before text leaves the process (upstream bodies,
	// capture entries).
	vault := secrets.NewRegistry(app.logger)
	for name, bc := range app.config.Backends {
		vault.AddFromConfig("backend:"+name, bc.KeyPool()...)
	}
	vault.AddFromConfig("auth", app.config.Auth.APIKeys...)
	vault.DiscoverEnv()
	app.redactor = service.NewRedactor(vault.All())

	sink, err := capture.New(capture.Config{
		File:          app.config.Capture.File,
		BufferSize:    app.config.Capture.BufferSize,
		FlushInterval: app.config.Capture.FlushInterval,
		MaxBytes:      app.config.Capture.MaxBytes,
		MaxFiles:      app.config.Capture.MaxFiles,
	}, app.redactor.Redact, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open capture sink: %w", err)
	}
	app.capture = sink

	app.monitor = monitoring.NewMonitor(app.logger)
	app.bus = eventbus.NewInMemoryBus(app.logger, 256)

	return nil
}

// initDomainServices wires commands, the processor chain and routing.
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	modes, err := config.NewModeTableWatcher(app.config.ReasoningModesFile, app.logger)
	if err != nil {
		return fmt.Errorf("failed to load reasoning modes: %w", err)
	}
	app.modeWatcher = modes

	parser := service.NewCommandParser(app.config.Commands.Prefix)
	registry := command.NewDefaultRegistry(command.Deps{
		Backends: app.backends,
		Modes:    &modeTableResolver{watcher: modes},
		Logger:   app.logger,
	})
	app.commands = command.NewService(parser, registry, app.sessionRepo, app.logger)

	app.compressor = service.NewPytestCompressor(30)
	app.chain = service.NewProcessorChain(app.logger)
	app.chain.Use(
		service.NewRedactionProcessor(
			app.redactor,
			service.NewCommandFilter(app.config.Commands.Prefix, app.logger),
		),
		service.NewPytestCompressionProcessor(app.compressor),
	)

	app.failover = service.NewFailoverEngine(app.logger)
	app.loops = service.NewLoopDetector(app.logger)
	app.usage = service.NewUsageEstimator()

	return nil
}

// initApplicationServices wires the chat pipeline.
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	app.chatUseCase = usecase.NewChatUseCase(usecase.ChatDeps{
		Config:    app.config,
		Sessions:  app.sessionRepo,
		Commands:  app.commands,
		Chain:     app.chain,
		Responses: service.NewResponseManager(app.compressor),
		Backends:  app.backends,
		Failover:  app.failover,
		Loops:     app.loops,
		Usage:     app.usage,
		Redactor:  app.redactor,
		Capture:   app.capture,
		Monitor:   app.monitor,
		Bus:       app.bus,
		Logger:    app.logger,
	})
	return nil
}

// initInterfaces wires the HTTP server.
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	app.httpServer = httpServer.NewServer(app.config, httpServer.Deps{
		Chat:     app.chatUseCase,
		Sessions: app.sessionRepo,
		Backends: app.backends,
		Monitor:  app.monitor,
		Logger:   app.logger,
	})
	return nil
}

// Start probes backends and begins serving.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	ctx, app.cancel = context.WithCancel(ctx)

	app.backends.Initialize(ctx)
	app.monitor.StartCollector(ctx, 30*time.Second)
	app.startSessionSweeper()

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.Info("Application started",
		zap.String("host", app.config.Server.Host),
		zap.Int("port", app.config.Server.Port),
		zap.Strings("backends", app.backends.FunctionalBackends()),
	)
	return nil
}

// Shutdown stops components in reverse start order and drains buffers.
func (app *App) Shutdown(ctx context.Context) error {
	app.logger.Info("Shutting down application")

	var firstErr error
	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("HTTP server stop failed", zap.Error(err))
		firstErr = err
	}

	close(app.sweeperStop)
	if app.cancel != nil {
		app.cancel()
	}
	if app.modeWatcher != nil {
		app.modeWatcher.Close()
	}

	app.backends.Shutdown()

	if app.bus != nil {
		if b, ok := app.bus.(*eventbus.InMemoryBus); ok {
			b.Close()
		}
	}

	if err := app.capture.Close(); err != nil {
		app.logger.Error("Capture close failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	app.logger.Info("Application stopped")
	return firstErr
}

// startSessionSweeper evicts idle sessions past the configured TTL and keeps
// the active-session gauge current. With no TTL the sweeper only gauges.
func (app *App) startSessionSweeper() {
	ttl := app.config.Session.TTL
	interval := time.Minute
	if ttl > 0 && ttl < interval {
		interval = ttl
	}

	safego.Loop(app.logger, "session-sweeper", interval, app.sweeperStop, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sessions, err := app.sessionRepo.List(ctx)
		if err != nil {
			app.logger.Error("Session sweep failed", zap.Error(err))
			return
		}

		live := 0
		cutoff := time.Now().Add(-ttl)
		for _, s := range sessions {
			if ttl > 0 && s.LastActiveAt.Before(cutoff) {
				if _, err := app.sessionRepo.Delete(ctx, s.ID); err != nil {
					app.logger.Error("Session eviction failed",
						zap.String("session_id", s.ID),
						zap.Error(err))
					live++
					continue
				}
				app.logger.Info("Session expired",
					zap.String("session_id", s.ID),
					zap.Time("last_active", s.LastActiveAt))
				app.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeSessionExpired, s.ID))
				continue
			}
			live++
		}
		app.monitor.SetActiveSessions(int64(live))
	})
}

// modeTableResolver adapts the watched reasoning-mode table to the command
// registry's resolver interface. Going through the watcher on every call
// means mode commands see file edits immediately.
type modeTableResolver struct {
	watcher *config.ModeTableWatcher
}

func (r *modeTableResolver) Resolve(mode, model string) (command.ModeSpec, bool) {
	m, ok := r.watcher.Table().Match(mode, model)
	if !ok {
		return command.ModeSpec{}, false
	}
	return command.ModeSpec{
		ReasoningEffort: m.ReasoningEffort,
		ThinkingBudget:  m.ThinkingBudget,
		Temperature:     m.Temperature,
		TopP:            m.TopP,
	}, true
}

func (r *modeTableResolver) ModeNames() []string {
	return r.watcher.Table().Names()
}
