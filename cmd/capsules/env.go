package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/capsules-dev/capsules/internal/config"
	"github.com/capsules-dev/capsules/internal/control"
	"github.com/capsules-dev/capsules/internal/display"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/lifecycle"
	"github.com/capsules-dev/capsules/internal/logging"
	"github.com/capsules-dev/capsules/internal/mcp"
	"github.com/capsules-dev/capsules/internal/overlay"
	"github.com/capsules-dev/capsules/internal/registry"
	"github.com/capsules-dev/capsules/internal/runtime"
	"github.com/capsules-dev/capsules/internal/task"
	"github.com/capsules-dev/capsules/internal/terminal"
)

// shutdownTimeout bounds how long exit waits for a running job.
const shutdownTimeout = 30 * time.Second

// env is the wired application: one of each component over a single
// storage root.
type env struct {
	baseDir string
	cfg     *config.Config
	db      *sql.DB
	logger  *slog.Logger

	layout   *layout.Layout
	runtime  *runtime.Runtime
	registry *registry.Registry
	display  *display.Manager
	orch     *lifecycle.Orchestrator
	exec     *task.Executor
	control  *control.Controller
	terminal *terminal.Launcher

	closeOnce sync.Once
}

// newEnv wires every component. gw runs the external tools.
func newEnv(baseDir string, cfg *config.Config, database *sql.DB, gw gateway.Gateway, logger *slog.Logger) *env {
	logger = logging.OrDiscard(logger)
	l := layout.New(baseDir)
	rt := runtime.New(gw, cfg.RuntimeBinary, logger)
	dm := display.New(display.Options{
		Gateway:             gw,
		Layout:              l,
		Logger:              logger,
		Binary:              cfg.DisplayBinary,
		SocketInspectBinary: cfg.SocketInspectBinary,
	})
	reg := registry.New(registry.Options{
		Layout:        l,
		Runtime:       rt,
		BaseImagesDir: cfg.BaseImagesPath(baseDir),
		Display:       dm,
		Logger:        logger,
	})
	orch := lifecycle.New(lifecycle.Options{
		Registry: reg,
		Runtime:  rt,
		Composer: overlay.New(l),
		Display:  dm,
		Logger:   logger,
	})

	var journal task.Journal
	if database != nil {
		journal = task.NewSQLJournal(database)
	}
	exec := task.New(task.Options{Logger: logger, Journal: journal})
	ctl := control.New(exec, orch, dm, logger)
	ctl.OnComplete(func(o task.Outcome) {
		if o.Err != nil {
			logger.Error("operation failed", "op", o.Name, "name", o.Target, "error", o.Err)
			return
		}
		logger.Info("operation finished", "op", o.Name, "name", o.Target, "took", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
	})

	return &env{
		baseDir:  baseDir,
		cfg:      cfg,
		db:       database,
		logger:   logger,
		layout:   l,
		runtime:  rt,
		registry: reg,
		display:  dm,
		orch:     orch,
		exec:     exec,
		control:  ctl,
		terminal: terminal.New(gw, rt, l, cfg.Terminal),
	}
}

// mcpDeps returns the dependencies of the MCP tool handlers.
func (e *env) mcpDeps() mcp.Deps {
	return mcp.Deps{
		Registry: e.registry,
		Control:  e.control,
		Operator: e.orch,
		DB:       e.db,
	}
}

// close waits for the running job and releases the journal. Safe to call
// more than once.
func (e *env) close() {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.exec.Shutdown(ctx); err != nil {
			e.logger.Warn("executor shutdown", "error", err)
		}
		if e.db != nil {
			_ = e.db.Close()
		}
	})
}
