// Package server exposes workspaces and runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/executor"
	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/llm"
	"github.com/vinayprograms/agentrun/internal/logging"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

// Options wires the server's collaborators.
type Options struct {
	Gateway        llm.Gateway
	Registry       *functions.Registry
	Store          audit.Store
	TracerProvider trace.TracerProvider
	Logger         *logging.Logger
	ExecutorOpts   []executor.Option
}

// entry is a registered workspace and the executor bound to it.
type entry struct {
	ws     *workspace.Workspace
	exec   *executor.Executor
	source string // file path when loaded from disk
}

// tracked is a run started through the API.
type tracked struct {
	run       *executor.Run
	workspace string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Server holds the workspace catalog and the runs it has started.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger *logging.Logger

	mu         sync.RWMutex
	workspaces map[string]*entry
	runs       map[string]*tracked
	runOrder   []string

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = functions.NewBuiltinRegistry()
	}
	if opts.Store == nil {
		opts.Store = audit.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:       echo.New(),
		opts:       opts,
		logger:     opts.Logger.WithComponent("server"),
		workspaces: make(map[string]*entry),
		runs:       make(map[string]*tracked),
		baseCtx:    ctx,
		cancelAll:  cancel,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler

	s.echo.Use(middleware.Recover())
	var otelOpts []otelecho.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(opts.TracerProvider))
	}
	s.echo.Use(otelecho.Middleware("agentrun", otelOpts...))
	s.echo.Use(s.requestLogger)

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/workspaces", s.createWorkspace)
	e.GET("/workspaces", s.listWorkspaces)
	e.GET("/workspaces/:name", s.getWorkspace)
	e.DELETE("/workspaces/:name", s.deleteWorkspace)

	e.POST("/workspaces/:name/runs", s.startRun)
	e.GET("/workspaces/:name/runs", s.listRuns)
	e.GET("/runs/:id", s.getRun)
	e.GET("/runs/:id/audit", s.getRunAudit)
	e.DELETE("/runs/:id", s.cancelRun)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("server_start", map[string]interface{}{"addr": addr})
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight runs, waits for them to seal, and stops the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return s.echo.Shutdown(ctx)
}

// Register binds ws to the registry and adds (or replaces) it in the
// catalog under its name.
func (s *Server) Register(ws *workspace.Workspace, source string) error {
	exec := executor.New(ws, s.opts.Gateway, s.opts.Registry,
		append([]executor.Option{executor.WithStore(s.opts.Store), executor.WithLogger(s.opts.Logger)}, s.opts.ExecutorOpts...)...)
	if err := exec.PreFlight(); err != nil {
		return err
	}
	s.mu.Lock()
	s.workspaces[ws.Name] = &entry{ws: ws, exec: exec, source: source}
	s.mu.Unlock()
	s.logger.Info("workspace_registered", map[string]interface{}{
		"workspace": ws.Name,
		"version":   ws.Version,
		"source":    source,
	})
	return nil
}

// Unregister removes a workspace. Runs already started keep going.
func (s *Server) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[name]; !ok {
		return false
	}
	delete(s.workspaces, name)
	return true
}

// unregisterSource drops every workspace loaded from path except keep.
func (s *Server) unregisterSource(path, keep string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for name, e := range s.workspaces {
		if e.source == path && name != keep {
			delete(s.workspaces, name)
			removed = append(removed, name)
		}
	}
	return removed
}

func (s *Server) lookup(name string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workspaces[name]
	return e, ok
}

func (s *Server) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.workspaces))
	for name := range s.workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// launch starts run in the background and tracks it.
func (s *Server) launch(e *entry, run *executor.Run) *tracked {
	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &tracked{run: run, workspace: e.ws.Name, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[run.ID] = t
	s.runOrder = append(s.runOrder, run.ID)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer cancel()
		if _, err := e.exec.Execute(ctx, run); err != nil {
			s.logger.Warn("run_ended", map[string]interface{}{
				"run_id": run.ID,
				"status": string(run.Status()),
				"error":  err.Error(),
			})
		}
	}()
	return t
}

func (s *Server) trackedRun(id string) (*tracked, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.runs[id]
	return t, ok
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		s.logger.WithSpan(c.Request().Context()).Debug("http_request", map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Path(),
			"status": c.Response().Status,
		})
		return err
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		s.logger.Error("http_error", map[string]interface{}{"path": c.Path(), "error": msg})
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
