package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/caresync/internal/offline"
	"github.com/jwalitptl/caresync/internal/syncclient"
)

func newSyncCmd(a *app) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending operations to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := syncclient.New(a.cfg.ServerURL, a.cfg.Timeout)
			syncer := offline.NewSyncer(a.store, client, a.logger)

			if watch {
				if interval <= 0 {
					interval = a.cfg.SyncInterval
				}
				a.logger.Info("Watching outbox", "interval", interval.String(), "server", a.cfg.ServerURL)
				syncer.Run(cmd.Context(), interval)
				return nil
			}

			res, err := syncer.SyncOutbox(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing on an interval until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sync interval for --watch (default CARESYNC_SYNC_INTERVAL)")
	return cmd
}
