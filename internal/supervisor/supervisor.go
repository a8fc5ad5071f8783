// Package supervisor owns the desktop backend process: it prepares the
// environment, starts the child, watches its output and terminates it on request.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/sidecar/internal/env"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/logger"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/paths"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/registry"
)

const (
	DefaultName = "desktop-backend"
	DefaultPort = 3002
)

var (
	ErrAlreadyStarted = errors.New("backend already started")
	// ErrStartCancelled is returned by a Start that was overtaken by Stop.
	ErrStartCancelled = errors.New("backend start cancelled by stop")
)

// Config is everything needed to launch the backend.
type Config struct {
	Name         string            // bundled binary name
	Registry     registry.Registry // where bundled binaries live
	Storage      paths.Resolver    // per-user data directory
	DatabaseFile string            // file inside the storage location
	Port         int               // PORT handed to the backend
	Secret       string            // JWT_SECRET; omitted when empty
	Env          []string          // extra "K=V" entries
	EnvFiles     []string          // dotenv files applied before Env
	Output       logger.OutputConfig
}

func (c Config) name() string {
	if c.Name == "" {
		return DefaultName
	}
	return c.Name
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Name             string    `json:"name"`
	Held             bool      `json:"held"`
	Alive            bool      `json:"alive"`
	PID              int       `json:"pid,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	Storage          string    `json:"storage,omitempty"`
	ConnectionString string    `json:"connection_string,omitempty"`
}

// Supervisor holds at most one backend handle. The handle slot is guarded by mu,
// which is only held while the slot is read or swapped.
type Supervisor struct {
	mu            sync.Mutex
	handle        *process.Handle
	starting      bool
	stopRequested bool // Stop arrived while starting
	storage       paths.StorageLocation
	conn          paths.ConnectionString

	// run counts successful starts; a loop only clears the running gauge
	// while its run is still the latest.
	run atomic.Uint64

	log   *slog.Logger
	sink  history.Sink
	loops sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

func WithHistory(h history.Sink) Option {
	return func(s *Supervisor) {
		if h != nil {
			s.sink = h
		}
	}
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{log: slog.Default(), sink: history.Nop{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the backend and begins observing it in the background.
// It returns as soon as the process exists. While a handle is held, or another
// Start is in flight, it fails with ErrAlreadyStarted.
func (s *Supervisor) Start(ctx context.Context, cfg Config) (*process.Handle, error) {
	s.mu.Lock()
	if s.handle != nil || s.starting {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.starting = true
	s.stopRequested = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.stopRequested = false
		s.mu.Unlock()
	}()

	name := cfg.name()
	spec, loc, conn, err := s.prepare(cfg)
	if err != nil {
		s.startFailed(ctx, name, err)
		return nil, err
	}
	if s.cancelled() {
		s.log.Info("backend start cancelled before spawn", "sidecar", name)
		s.startFailed(ctx, name, ErrStartCancelled)
		return nil, ErrStartCancelled
	}
	s.log.Info("starting backend", "sidecar", name, "path", spec.Path, "database_url", string(conn))
	h, events, err := process.Spawn(spec)
	if err != nil {
		s.startFailed(ctx, name, err)
		return nil, err
	}

	run := s.run.Add(1)
	s.mu.Lock()
	stop := s.stopRequested
	if !stop {
		s.handle = h
	}
	s.storage = loc
	s.conn = conn
	s.mu.Unlock()

	metrics.IncStart(name)
	metrics.SetRunning(name, true)
	s.send(ctx, history.EventStart, history.Record{Name: name, PID: h.PID()})
	s.log.Info("backend started", "sidecar", name, "pid", h.PID())

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.observe(name, h.PID(), run, events)
	}()

	if stop {
		// Stop already returned; the new process is ours to terminate.
		_ = s.terminate(h)
		return nil, ErrStartCancelled
	}
	return h, nil
}

func (s *Supervisor) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// prepare resolves storage, executable and environment without side effects
// beyond creating the storage directory.
func (s *Supervisor) prepare(cfg Config) (process.Spec, paths.StorageLocation, paths.ConnectionString, error) {
	name := cfg.name()
	loc, err := cfg.Storage.Ensure()
	if err != nil {
		return process.Spec{}, "", "", err
	}
	conn := paths.ConnectionStringFor(loc, cfg.DatabaseFile)

	exe, err := cfg.Registry.Resolve(name)
	if err != nil {
		return process.Spec{}, "", "", &process.SpawnError{Name: name, Err: err}
	}
	fileVars, err := env.LoadFiles(cfg.EnvFiles...)
	if err != nil {
		return process.Spec{}, "", "", &process.SpawnError{Name: name, Err: err}
	}

	port := cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	e := env.New()
	e.Apply(fileVars)
	e.Apply(env.Parse(cfg.Env))
	e.Set(env.KeyDatabaseURL, string(conn))
	e.Set(env.KeyPort, strconv.Itoa(port))
	if cfg.Secret != "" {
		e.Set(env.KeySecret, cfg.Secret)
	} else if _, ok := e.Var[env.KeySecret]; !ok {
		// never forward a secret the host merely inherited
		e.Unset(env.KeySecret)
	}

	out := cfg.Output
	if out.Dir != "" && !filepath.IsAbs(out.Dir) {
		out.Dir = loc.Join(out.Dir)
	}
	return process.Spec{
		Name:    name,
		Path:    exe,
		Env:     e.Merge(nil),
		WorkDir: string(loc),
		Output:  out,
	}, loc, conn, nil
}

func (s *Supervisor) startFailed(ctx context.Context, name string, err error) {
	metrics.IncStartFailure(name, Category(err))
	s.send(ctx, history.EventSpawnFailed, history.Record{Name: name, Error: err.Error()})
}

// Stop terminates the held backend, if any, and empties the slot.
// With nothing held it is a no-op. A *process.TerminationError means the OS
// could not signal the process, which normally means it already exited.
// A Stop that lands while Start is in flight makes that Start terminate
// whatever it spawned and return ErrStartCancelled.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	if h == nil && s.starting {
		s.stopRequested = true
	}
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return s.terminate(h)
}

// terminate kills h outside the lock and records the stop.
func (s *Supervisor) terminate(h *process.Handle) error {
	s.log.Info("stopping backend", "sidecar", h.Name(), "pid", h.PID())
	metrics.IncStop(h.Name())
	err := h.Kill()
	rec := history.Record{Name: h.Name(), PID: h.PID()}
	if err != nil {
		rec.Error = err.Error()
		metrics.IncTerminationFailure(h.Name())
	}
	s.send(context.Background(), history.EventStop, rec)
	return err
}

// Status reports the slot and whether the held process is still running.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	h := s.handle
	st := Status{Storage: string(s.storage), ConnectionString: string(s.conn)}
	s.mu.Unlock()
	if h == nil {
		return st
	}
	st.Name = h.Name()
	st.Held = true
	st.PID = h.PID()
	st.StartedAt = h.StartedAt()
	st.Alive = h.Alive()
	return st
}

// Wait blocks until every observation loop started by s has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) send(ctx context.Context, t history.EventType, rec history.Record) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.sink.Send(ctx, history.Event{Type: t, OccurredAt: time.Now(), Record: rec}); err != nil {
		s.log.Debug("history send failed", "event", string(t), "error", err)
	}
}

// Category names the stage an error from Start or Stop belongs to.
func Category(err error) string {
	var (
		pre *paths.PathResolutionError
		dce *paths.DirectoryCreateError
		se  *process.SpawnError
		te  *process.TerminationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return "path_resolution"
	case errors.As(err, &dce):
		return "directory_create"
	case errors.As(err, &se):
		return "spawn"
	case errors.As(err, &te):
		return "termination"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrStartCancelled):
		return "cancelled"
	}
	return "unknown"
}
