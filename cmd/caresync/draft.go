package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/caresync/internal/offline"
)

func newDraftCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Save, show or clear a case record draft",
	}

	var saveFlags recordFlags
	var data, file string
	save := &cobra.Command{
		Use:   "save",
		Short: "Save a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, data, file)
			if err != nil {
				return err
			}
			key := offline.DraftKey(saveFlags.serviceID, saveFlags.userID, saveFlags.date)
			if err := a.store.SaveDraft(cmd.Context(), key, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved draft %s\n", key)
			return nil
		},
	}
	saveFlags.register(save)
	save.Flags().StringVar(&data, "data", "", "draft JSON")
	save.Flags().StringVar(&file, "file", "", "file with draft JSON, - for stdin")

	var showFlags recordFlags
	show := &cobra.Command{
		Use:   "show",
		Short: "Print a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := offline.DraftKey(showFlags.serviceID, showFlags.userID, showFlags.date)
			d, err := a.store.LoadDraft(cmd.Context(), key)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("no draft for %s", key)
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	showFlags.register(show)

	var clearFlags recordFlags
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := offline.DraftKey(clearFlags.serviceID, clearFlags.userID, clearFlags.date)
			return a.store.ClearDraft(cmd.Context(), key)
		},
	}
	clearFlags.register(clearCmd)

	cmd.AddCommand(save, show, clearCmd)
	return cmd
}
