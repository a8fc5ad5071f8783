// Package app wires the backend supervisor into the desktop shell's lifecycle.
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loykin/sidecar/internal/supervisor"
)

// App is the lifecycle host. It is the only owner of the supervisor reference
// used by the startup and close hooks.
type App struct {
	sup *supervisor.Supervisor
	cfg supervisor.Config
	log *slog.Logger

	degraded atomic.Bool
	mu       sync.Mutex
	lastErr  error
}

func New(sup *supervisor.Supervisor, cfg supervisor.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{sup: sup, cfg: cfg, log: log}
}

// OnStartup starts the backend. A failure is logged and switches the app to
// degraded mode; it is never fatal for the shell.
func (a *App) OnStartup(ctx context.Context) {
	h, err := a.sup.Start(ctx, a.cfg)
	if err != nil {
		a.setErr(err)
		a.degraded.Store(true)
		a.log.Error("backend failed to start, continuing without it",
			"stage", supervisor.Category(err), "error", err)
		return
	}
	a.degraded.Store(false)
	a.log.Info("backend sidecar started", "pid", h.PID())
}

// OnCloseRequested stops the backend. It is safe to call whether or not
// startup succeeded, and more than once.
func (a *App) OnCloseRequested() {
	if err := a.sup.Stop(); err != nil {
		a.setErr(err)
		a.log.Warn("backend termination request failed", "stage", supervisor.Category(err), "error", err)
	}
}

// Degraded reports whether the shell runs without a backend.
func (a *App) Degraded() bool { return a.degraded.Load() }

// LastError returns the most recent start or stop error.
func (a *App) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

func (a *App) setErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}
