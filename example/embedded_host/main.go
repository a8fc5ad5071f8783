package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/sidecar"
)

// embedded_host: what a Go desktop shell does with the backend sidecar.
// It starts the bundled backend next to this binary (or in SIDECAR_BIN_DIR),
// keeps running until Ctrl-C and then stops it.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fc, err := sidecar.LoadConfig(os.Getenv("SIDECAR_CONFIG"))
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}
	if dir := os.Getenv("SIDECAR_BIN_DIR"); dir != "" {
		fc.Sidecar.BinDir = dir
	}

	sup := sidecar.New(log, nil)
	h, err := sup.Start(context.Background(), fc.Supervisor())
	if err != nil {
		// The window still opens; features that need the backend stay unavailable.
		var dce *sidecar.DirectoryCreateError
		if errors.As(err, &dce) {
			fmt.Println("cannot create data directory:", dce.Path)
		}
		log.Error("backend unavailable", "stage", sidecar.Category(err), "err", err)
	} else {
		st := sup.Status()
		fmt.Println("Embedded host example")
		fmt.Println("  Backend pid:", h.PID())
		fmt.Println("  Storage:", st.Storage)
		fmt.Println("  DATABASE_URL:", st.ConnectionString)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := sup.Stop(); err != nil {
		log.Warn("backend stop", "err", err)
	}
	wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = sup.Wait(wctx)
}
