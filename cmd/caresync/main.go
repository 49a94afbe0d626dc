// Command caresync is the offline client: it keeps case record drafts and a
// local outbox of pending upserts, and pushes the outbox to the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/caresync/internal/config"
	"github.com/jwalitptl/caresync/internal/offline"
	"github.com/jwalitptl/caresync/pkg/logger"
)

// app holds what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	cfg    *config.ClientConfig
	store  *offline.Store
	logger *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var dbPath string

	root := &cobra.Command{
		Use:           "caresync",
		Short:         "Offline case record outbox and sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			a.cfg = cfg
			a.logger = logger.NewLogger(&logger.Config{
				Level:   logger.ParseLevel(cfg.LogLevel),
				Output:  cmd.ErrOrStderr(),
				Console: true,
			})

			store, err := offline.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			a.store = store
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the offline database (overrides CARESYNC_DB_PATH)")

	root.AddCommand(
		newDraftCmd(a),
		newEnqueueCmd(a),
		newSyncCmd(a),
		newRetryFailedCmd(a),
		newPruneCmd(a),
		newStatusCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readPayload returns the JSON given with --data, or read from --file ("-"
// for stdin).
func readPayload(cmd *cobra.Command, data, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use only one of --data and --file")
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("one of --data or --file is required")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// recordFlags are the routing flags shared by draft and enqueue.
type recordFlags struct {
	serviceID string
	userID    string
	date      string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.serviceID, "service", "", "service id")
	cmd.Flags().StringVar(&f.userID, "user", "", "care receiver user id")
	cmd.Flags().StringVar(&f.date, "date", "", "record date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("date")
}
