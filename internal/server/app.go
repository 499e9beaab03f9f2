// Package server initializes and runs the drawbridge service: the
// configuration catalog, the connection manager, the document/config HTTP
// API, and the websocket sync gateway, with graceful shutdown on SIGINT and
// SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/server/config"
	"github.com/drawbridge-dev/drawbridge/internal/server/httpapi"
	syncgw "github.com/drawbridge-dev/drawbridge/internal/server/sync"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
	"github.com/drawbridge-dev/drawbridge/internal/storage/catalog"
	"github.com/drawbridge-dev/drawbridge/internal/vault"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	catalog *catalog.Catalog
	manager *storage.Manager
	hub     *syncgw.Hub
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	v, err := vault.New(c.SecretKey, logger)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	defaultPath := filepath.Join(c.DataDir, "diagrams.db")

	cat, err := catalog.Open(ctx, filepath.Join(c.DataDir, "catalog.db"), v, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog init error: %w", err)
	}

	// Startup healing: dedupe first so EnsureBaseline counts clean rows.
	if err := cat.Deduplicate(ctx); err != nil {
		return nil, fmt.Errorf("catalog dedupe error: %w", err)
	}
	if err := cat.EnsureBaseline(ctx, defaultPath); err != nil {
		return nil, fmt.Errorf("catalog baseline error: %w", err)
	}

	manager := storage.NewManager(cat, defaultPath, logger)

	// Reconnect to the default engine when one was configured earlier.
	if def, err := cat.GetDefault(ctx); err == nil && def.Configured {
		if err := manager.Connect(ctx, *def, true); err != nil {
			logger.Warn(ctx, "default engine unavailable, continuing disconnected",
				"engine", def.Engine, "err", err)
		}
	}

	return &App{
		config:  c,
		logger:  logger,
		catalog: cat,
		manager: manager,
		hub:     syncgw.NewHub(logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(httpapi.AccessLog(app.logger))

	httpapi.New(app.manager, app.catalog, app.logger).Register(r)
	r.Path("/ws").Handler(syncgw.NewGateway(app.hub, app.logger))

	return r
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	httpServer := &http.Server{Addr: app.config.EndpointAddr, Handler: app.router()}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server listen failed", "err", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "shutdown incomplete", "err", err)
	}

	wg.Wait()

	app.manager.Close(shutdownCtx)
	if err := app.catalog.Close(); err != nil {
		app.logger.Warn(shutdownCtx, "failed to close catalog", "err", err)
	}

	app.logger.Info(shutdownCtx, "server stopped")
}
