package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/caresync/internal/offline"
	"github.com/jwalitptl/caresync/pkg/validator"
)

func newEnqueueCmd(a *app) *cobra.Command {
	var flags recordFlags
	var data, file string
	var fromDraft, keepDraft bool

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a case record upsert for the next sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validator.IsYMD(flags.date) {
				return fmt.Errorf("--date must be YYYY-MM-DD, got %q", flags.date)
			}
			ctx := cmd.Context()
			key := offline.DraftKey(flags.serviceID, flags.userID, flags.date)

			var payload []byte
			if fromDraft {
				d, err := a.store.LoadDraft(ctx, key)
				if err != nil {
					return err
				}
				if d == nil {
					return fmt.Errorf("no draft for %s", key)
				}
				payload = d.Data
			} else {
				p, err := readPayload(cmd, data, file)
				if err != nil {
					return err
				}
				payload = p
			}

			opID, err := a.store.EnqueueUpsertCaseRecord(ctx, flags.serviceID, flags.userID, flags.date, payload)
			if err != nil {
				return err
			}
			a.logger.Info("Enqueued operation", "op_id", opID, "dedupe_key", offline.DedupeKey(flags.serviceID, flags.userID, flags.date))

			if fromDraft && !keepDraft {
				if err := a.store.ClearDraft(ctx, key); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), opID)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&data, "data", "", "record JSON")
	cmd.Flags().StringVar(&file, "file", "", "file with record JSON, - for stdin")
	cmd.Flags().BoolVar(&fromDraft, "from-draft", false, "use the saved draft as the payload")
	cmd.Flags().BoolVar(&keepDraft, "keep-draft", false, "keep the draft after enqueueing it")
	return cmd
}

func newRetryFailedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Move failed operations back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.ResetAllFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed operations\n", n)
			return nil
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete finished operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d operations\n", n)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var showFailed bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show outbox counts and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			counts, err := a.store.Counts(ctx)
			if err != nil {
				return err
			}
			meta, err := a.store.Meta(ctx)
			if err != nil {
				return err
			}

			out := struct {
				DeviceID   string         `json:"deviceId"`
				LastSyncAt *time.Time     `json:"lastSyncAt"`
				Outbox     offline.Counts `json:"outbox"`
				Failed     []*offline.Op  `json:"failed,omitempty"`
			}{DeviceID: meta.DeviceID, LastSyncAt: meta.LastSyncAt, Outbox: counts}
			if showFailed {
				if out.Failed, err = a.store.ListFailed(ctx); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&showFailed, "failed", false, "list failed operations")
	return cmd
}
