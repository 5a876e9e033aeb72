// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/bibcite/internal/api"
	"github.com/starford/bibcite/internal/citeservice"
	"github.com/starford/bibcite/internal/directive"
	"github.com/starford/bibcite/internal/fetch"
	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/mcpserver"
	"github.com/starford/bibcite/internal/render"
	"github.com/starford/bibcite/internal/sse"
	"github.com/starford/bibcite/internal/storage"
	"github.com/starford/bibcite/internal/store"
	"github.com/starford/bibcite/internal/style"
	"github.com/starford/bibcite/internal/watch"
)

// Version is reported by the MCP server.
const Version = "1.0.0"

// components is the wired object graph shared by every entry point.
type components struct {
	cfg       *Config
	logger    *slog.Logger
	db        *store.DB
	renderer  *render.Renderer
	styles    storage.Provider
	templates storage.Provider
	svc       *citeservice.Service
}

func (c *components) Close() error {
	return c.db.Close()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens the store and wires fetcher, synchronizer, renderer, directive
// processor and service. events may be nil.
func setup(app *application, events *sse.Broker) (*components, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("default_library", cfg.Library.DefaultURL),
		slog.String("styles_dir", cfg.Render.StylesDir),
		slog.String("templates_dir", cfg.Render.TemplatesDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	styles, err := storage.NewFS(cfg.Render.StylesDir, style.Ext)
	if err != nil {
		return nil, fmt.Errorf("init styles dir: %w", err)
	}
	templates, err := storage.NewFS(cfg.Render.TemplatesDir, render.TemplateExt)
	if err != nil {
		return nil, fmt.Errorf("init templates dir: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	fetcher := fetch.New(cfg.Library.FetchConfig(), db, logger)

	syncOpts := []library.Option{
		library.WithFormat(cfg.Library.Format),
		library.WithHostPolicy(cfg.Library.HostPolicy()),
	}
	if events != nil {
		syncOpts = append(syncOpts, library.WithOnSync(func(res library.Result) {
			events.Publish(sse.Event{Type: sse.TypeLibrarySynced, Data: res})
		}))
	}
	syncer := library.NewSynchronizer(fetcher, library.NewCachedStore(db), db, logger, syncOpts...)

	renderer := render.New(logger.With(slog.String("component", "render")),
		render.WithStyles(styles),
		render.WithTemplates(templates),
		render.WithDefaultStyle(cfg.Render.DefaultStyle),
	)

	proc := directive.NewProcessor(syncer, renderer, cfg.Defaults(), logger)

	svcOpts := []citeservice.Option{
		citeservice.WithAssets(styles, templates),
		citeservice.WithLogger(logger.With(slog.String("component", "service"))),
	}
	if events != nil {
		svcOpts = append(svcOpts, citeservice.WithPublisher(events))
	}
	svc := citeservice.NewService(syncer, db, renderer, proc, svcOpts...)

	return &components{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		renderer:  renderer,
		styles:    styles,
		templates: templates,
		svc:       svc,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := setup(app, broker)
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.logger

	if cfg.Auth.AuthEnabled() {
		logger.Info("Auth mode: token (admin endpoints require Bearer token)")
	} else {
		logger.Warn("Auth mode: disabled (admin endpoints are open)")
	}

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build root router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch user styles/templates so edits on disk take effect immediately.
	if cfg.Render.Watch {
		g.Go(func() error {
			err := watch.Watch(gCtx, []watch.Dir{
				{Kind: citeservice.KindStyle, Root: c.styles.Root(), Ext: style.Ext},
				{Kind: citeservice.KindTemplate, Root: c.templates.Root(), Ext: render.TemplateExt},
			}, logger, func(kind, name, op string) {
				c.renderer.Invalidate()
				broker.PublishAssetEvent(kind, name, op)
			})
			if err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the watcher and any other gCtx users.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdin/stdout. Logs go to stderr unless
// WithLogOutput says otherwise.
func RunMCP(_ context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := setup(app, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.svc, Version).ServeStdio()
}

// RenderDocument expands the directives in content once and returns the
// result.
func RenderDocument(ctx context.Context, docID, content string, opts ...Option) (string, error) {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return "", err
	}
	c, err := setup(app, nil)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.svc.RenderMarkup(ctx, docID, content), nil
}

// ClearCache returns the persistent state to first-run.
func ClearCache(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := setup(app, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.svc.ClearCache(ctx)
}
