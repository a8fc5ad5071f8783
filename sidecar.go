package sidecar

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/paths"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/supervisor"
)

// Re-export core types for embedding hosts.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type Status = supervisor.Status

type Handle = process.Handle

type FileConfig = cfg.FileConfig

type HistorySink = history.Sink

type StorageLocation = paths.StorageLocation

type (
	PathResolutionError  = paths.PathResolutionError
	DirectoryCreateError = paths.DirectoryCreateError
	SpawnError           = process.SpawnError
	TerminationError     = process.TerminationError
)

var ErrAlreadyStarted = supervisor.ErrAlreadyStarted

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for desktop shells.
type Supervisor struct{ inner *supervisor.Supervisor }

// New returns a Supervisor logging to log (slog.Default when nil) and
// recording lifecycle history to sink when non-nil.
func New(log *slog.Logger, sink HistorySink) *Supervisor {
	var opts []supervisor.Option
	if log != nil {
		opts = append(opts, supervisor.WithLogger(log))
	}
	if sink != nil {
		opts = append(opts, supervisor.WithHistory(sink))
	}
	return &Supervisor{inner: supervisor.New(opts...)}
}

func (s *Supervisor) Start(ctx context.Context, c Config) (*Handle, error) {
	return s.inner.Start(ctx, c)
}
func (s *Supervisor) Stop() error                    { return s.inner.Stop() }
func (s *Supervisor) Status() Status                 { return s.inner.Status() }
func (s *Supervisor) Wait(ctx context.Context) error { return s.inner.Wait(ctx) }

// Config helpers

func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// ResolveStorage returns the per-user storage location for identifier,
// creating it when create is set.
func ResolveStorage(identifier string, create bool) (StorageLocation, error) {
	r := paths.Resolver{Identifier: identifier}
	if create {
		return r.Ensure()
	}
	return r.Resolve()
}

// ConnectionString derives the DATABASE_URL handed to the backend.
func ConnectionString(loc StorageLocation) string {
	return paths.ConnectionStringFor(loc, paths.DefaultDatabaseFile).String()
}

// Category names the failing stage of an error returned by Start or Stop.
func Category(err error) string { return supervisor.Category(err) }

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func MetricsHandler() http.Handler { return metrics.Handler() }
