package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/paths"
)

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "sidecar",
		Short: "Desktop backend supervisor",
		Long: `sidecar launches the bundled desktop backend with its data directory and
environment, forwards its output to the log and terminates it on shutdown.

Examples:
  sidecar run                             # start backend, stop on Ctrl-C
  sidecar run --metrics-listen 127.0.0.1:9310
  sidecar paths --create                  # show storage location and DATABASE_URL
  sidecar history --dsn sqlite:///tmp/h.db`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&gf.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&gf.DataDir, "data-dir", "", "override the per-user data root")
	pf.StringVar(&gf.BinDir, "bin-dir", "", "directory holding bundled binaries (default: next to this executable)")
	pf.StringVar(&gf.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		createRunCommand(gf),
		createPathsCommand(gf),
		createHistoryCommand(gf),
		createVersionCommand(),
	)
	return root
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(gf *GlobalFlags) (*config.FileConfig, error) {
	fc, err := config.Load(gf.ConfigPath)
	if err != nil {
		return nil, err
	}
	if gf.DataDir != "" {
		fc.DataDir = gf.DataDir
	}
	if gf.BinDir != "" {
		fc.Sidecar.BinDir = gf.BinDir
	}
	if gf.LogLevel != "" {
		fc.Log.Level = gf.LogLevel
	}
	return fc, fc.Validate()
}

func createRunCommand(gf *GlobalFlags) *cobra.Command {
	rf := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and supervise it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig(gf)
			if err != nil {
				return err
			}
			if rf.MetricsListen != "" {
				fc.Metrics.Listen = rf.MetricsListen
			}
			if rf.HistoryDSN != "" {
				fc.History.DSN = rf.HistoryDSN
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, fc, cmd.ErrOrStderr(), rf.Grace)
		},
	}
	cmd.Flags().StringVar(&rf.MetricsListen, "metrics-listen", "", "serve /status and /metrics on this address")
	cmd.Flags().StringVar(&rf.HistoryDSN, "history-dsn", "", "record lifecycle history (sqlite path or postgres:// URL)")
	cmd.Flags().DurationVar(&rf.Grace, "grace", 3*time.Second, "how long to wait for the backend's exit to be observed on shutdown")
	return cmd
}

type pathsOutput struct {
	StorageLocation  string `json:"storage_location"`
	ConnectionString string `json:"connection_string"`
	Created          bool   `json:"created"`
}

func createPathsCommand(gf *GlobalFlags) *cobra.Command {
	pf := &PathsFlags{}
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the storage location and connection string",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig(gf)
			if err != nil {
				return err
			}
			sc := fc.Supervisor()
			var loc paths.StorageLocation
			if pf.Create {
				loc, err = sc.Storage.Ensure()
			} else {
				loc, err = sc.Storage.Resolve()
			}
			if err != nil {
				return err
			}
			out := pathsOutput{
				StorageLocation:  loc.String(),
				ConnectionString: paths.ConnectionStringFor(loc, sc.DatabaseFile).String(),
				Created:          pf.Create,
			}
			w := cmd.OutOrStdout()
			if pf.JSON {
				return printJSON(w, out)
			}
			_, _ = fmt.Fprintf(w, "storage:  %s\ndatabase: %s\n", out.StorageLocation, out.ConnectionString)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pf.Create, "create", false, "create the storage directory if missing")
	cmd.Flags().BoolVar(&pf.JSON, "json", false, "print JSON")
	return cmd
}

func createHistoryCommand(gf *GlobalFlags) *cobra.Command {
	hf := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backend lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := hf.DSN
			if dsn == "" {
				fc, err := loadConfig(gf)
				if err != nil {
					return err
				}
				dsn = fc.History.DSN
			}
			if dsn == "" {
				return errors.New("no history store configured (set history.dsn or --dsn)")
			}
			sink, err := history.NewSQLSinkFromDSN(dsn)
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			evs, err := sink.Recent(cmd.Context(), hf.Limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), evs)
		},
	}
	cmd.Flags().StringVar(&hf.DSN, "dsn", "", "history store DSN (defaults to history.dsn from config)")
	cmd.Flags().IntVar(&hf.Limit, "limit", 20, "number of events")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printHistory(w io.Writer, evs []history.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tNAME\tPID\tCODE\tSIGNAL\tERROR")
	for _, e := range evs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.RFC3339), e.Type, e.Record.Name, e.Record.PID,
			optInt(e.Record.Code), optInt(e.Record.Signal), e.Record.Error)
	}
	return tw.Flush()
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
