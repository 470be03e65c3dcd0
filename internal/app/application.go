package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/connection"
	"chatrelay/internal/database"
	"chatrelay/internal/dispatcher"
	"chatrelay/internal/router"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/session"
	"chatrelay/internal/websocket"
	pkgdatabase "chatrelay/pkg/database"
)

// limiterSweep is how often expired failed-login windows are dropped.
const limiterSweep = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	limiter    *auth.LoginLimiter
	registry   *session.Registry
	router     *router.Router
	dispatcher *dispatcher.Dispatcher
	server     *server.Server
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	mu           sync.Mutex
	tcpListener  net.Listener
	httpListener net.Listener
	group        *errgroup.Group
	stopping     chan struct{}
	stopOnce     sync.Once
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Services → Registry → Router → Dispatcher → Listeners
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbManager, err := database.NewManager(cfg.DatabaseSettings(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), nil).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	// STEP 1.6: Nobody is connected yet, so clear any ONLINE left by a crash
	if n, err := dbManager.ResetPresence(context.Background()); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to reset presence: %w", err)
	} else if n > 0 {
		logger.Warn("cleared stale online status", zap.Int64("users", n))
	}
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	// STEP 2: Initialize business services over the store
	files, err := service.NewFileService(cfg.Storage.UploadDir, logger)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}
	limiter := auth.NewLoginLimiter(cfg.Auth.LoginAttempts, cfg.Auth.LoginWindow)
	services := service.New(dbManager, auth.NewBcryptService(cfg.Auth.BcryptCost), limiter, files, logger)

	// STEP 3: Initialize session registry for presence tracking
	registry := session.NewRegistry(logger)

	// STEP 4: Initialize notification router over registry and membership
	notifier := router.NewRouter(registry, dbManager, logger)

	// STEP 5: Initialize request dispatcher
	d, err := dispatcher.New(services, registry, notifier, logger)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	connOpts := connection.Options{
		SendBuffer:  cfg.Server.SendBuffer,
		SendTimeout: cfg.Server.SendTimeout,
	}

	// STEP 6: Initialize TCP server with bounded worker pool
	tcpServer := server.New(server.Config{
		MaxWorkers:   cfg.Server.MaxWorkers,
		MaxLineBytes: cfg.Server.MaxLineBytes,
		WriteTimeout: cfg.Server.WriteTimeout,
		Connection:   connOpts,
	}, d, logger)

	app := &Application{
		config:     cfg,
		logger:     logger.Named("app"),
		dbManager:  dbManager,
		limiter:    limiter,
		registry:   registry,
		router:     notifier,
		dispatcher: d,
		server:     tcpServer,
		stopping:   make(chan struct{}),
	}

	// STEP 7: Setup HTTP server with admin API and WebSocket endpoint
	if cfg.HTTP.Enabled {
		app.apiServer = api.NewServer(dbManager, registry, logger)
		app.apiServer.AddStats("tcp", tcpServer)
		if cfg.WebSocket.Enabled {
			app.wsHandler = websocket.NewHandler(websocket.Config{
				MaxConnections:  cfg.WebSocket.MaxConnections,
				MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
				WriteTimeout:    cfg.WebSocket.WriteTimeout,
				Connection:      connOpts,
			}, d, logger)
			app.apiServer.AddStats("websocket", app.wsHandler)
			app.apiServer.Mount("/ws", app.wsHandler)
		}
		app.httpServer = &http.Server{
			Addr:         cfg.HTTPAddr(),
			Handler:      app.apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
	}

	return app, nil
}

// Start binds every listener and begins serving in the background.
// Bind errors are returned directly; later serve errors surface from Wait.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.group != nil {
		return errors.New("application already started")
	}

	// STEP 1: Bind listeners before serving so address conflicts fail fast
	tcpListener, err := net.Listen("tcp", app.config.ServerAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.ServerAddr(), err)
	}
	app.tcpListener = tcpListener

	if app.httpServer != nil {
		httpListener, err := net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			_ = tcpListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		}
		app.httpListener = httpListener
	}

	// STEP 2: Serve. The first listener to fail takes the others down.
	group, gctx := errgroup.WithContext(ctx)
	app.group = group

	group.Go(func() error {
		err := app.server.Serve(gctx, tcpListener)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	if app.httpServer != nil {
		httpListener := app.httpListener
		group.Go(func() error {
			if err := app.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			select {
			case <-gctx.Done():
			case <-app.stopping:
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return app.httpServer.Shutdown(shutdownCtx)
		})
	}

	// STEP 3: Sweep stale failed-login windows
	group.Go(func() error {
		ticker := time.NewTicker(limiterSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.limiter.Cleanup()
			case <-gctx.Done():
				return nil
			case <-app.stopping:
				return nil
			}
		}
	})

	app.logger.Info("chatrelay started",
		zap.String("tcp_addr", tcpListener.Addr().String()),
		zap.String("http_addr", app.HTTPAddr()))
	return nil
}

// Wait blocks until every listener has stopped and returns the first
// serve error.
func (app *Application) Wait() error {
	app.mu.Lock()
	group := app.group
	app.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: Listeners → Connections → Workers → Database
func (app *Application) Stop(ctx context.Context) error {
	var stopErr error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down chatrelay")

		// STEP 1: Stop accepting new connections
		close(app.stopping)
		if err := app.server.Close(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			app.logger.Warn("TCP server close error", zap.Error(err))
		}
		if app.wsHandler != nil {
			if err := app.wsHandler.Shutdown(ctx); err != nil {
				app.logger.Warn("websocket drain incomplete", zap.Error(err))
			}
		}

		// STEP 2: Close every live session. Each connection's disconnect
		// hook unregisters itself and marks its user offline.
		closed := app.registry.CloseAll()
		app.logger.Info("sessions closed", zap.Int("count", closed))

		// STEP 3: Wait for connection workers to finish their cleanup
		if err := app.server.Wait(ctx); err != nil {
			app.logger.Warn("worker pool drain incomplete", zap.Error(err))
			stopErr = err
		}
		if err := app.Wait(); err != nil {
			app.logger.Warn("listener error", zap.Error(err))
		}

		// STEP 4: Catch users whose cleanup did not finish before the deadline
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if n, err := app.dbManager.ResetPresence(resetCtx); err != nil {
			app.logger.Error("presence reset failed", zap.Error(err))
		} else if n > 0 {
			app.logger.Warn("marked remaining users offline", zap.Int64("users", n))
		}
		cancel()

		// STEP 5: Close database connections
		if err := app.dbManager.Close(); err != nil {
			app.logger.Error("database shutdown error", zap.Error(err))
			if stopErr == nil {
				stopErr = err
			}
		}

		app.logger.Info("chatrelay shutdown complete")
	})
	return stopErr
}

// TCPAddr returns the bound TCP address, or the configured one before Start.
func (app *Application) TCPAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.tcpListener != nil {
		return app.tcpListener.Addr().String()
	}
	return app.config.ServerAddr()
}

// HTTPAddr returns the bound admin address, or "" when HTTP is disabled.
func (app *Application) HTTPAddr() string {
	if app.httpServer == nil {
		return ""
	}
	if app.httpListener != nil {
		return app.httpListener.Addr().String()
	}
	return app.httpServer.Addr
}

// Registry exposes the session registry for health reporting and tests.
func (app *Application) Registry() *session.Registry {
	return app.registry
}
