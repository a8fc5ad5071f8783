package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/sidecar/internal/app"
	"github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/logger"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/server"
	"github.com/loykin/sidecar/internal/supervisor"
)

// runHost plays the desktop shell's part: start the backend on startup, keep
// running until ctx is cancelled (close requested), then stop it.
func runHost(ctx context.Context, fc *config.FileConfig, stderr io.Writer, grace time.Duration) error {
	log, closer, err := logger.New(fc.Logger(), stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "err", err)
	}

	opts := []supervisor.Option{supervisor.WithLogger(log)}
	var hist server.HistoryReader
	if fc.History.DSN != "" {
		sink, err := history.NewSQLSinkFromDSN(fc.History.DSN)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer func() { _ = sink.Close() }()
		opts = append(opts, supervisor.WithHistory(sink))
		hist = sink
	}

	sup := supervisor.New(opts...)
	host := app.New(sup, fc.Supervisor(), log)
	host.OnStartup(ctx)

	if fc.Metrics.Listen != "" {
		srv, addr, err := server.NewServer(fc.Metrics.Listen, "", host, hist)
		if err != nil {
			log.Error("status endpoint failed to listen", "addr", fc.Metrics.Listen, "err", err)
		} else {
			log.Info("status endpoint listening", "addr", addr.String())
			defer shutdownServer(srv, log)
		}
	}

	<-ctx.Done()
	log.Info("close requested")
	host.OnCloseRequested()

	wctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		log.Warn("backend exit not observed before shutdown", "grace", grace)
	}
	return nil
}

func shutdownServer(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("status endpoint shutdown", "err", err)
	}
}
