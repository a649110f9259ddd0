package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var gmailSyncCmd = &cobra.Command{
	Use:   "gmail-sync",
	Short: "Import new Gmail threads for every integration once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		if a.services.Gmail == nil {
			return fmt.Errorf("gmail.enabled is false; nothing to sync")
		}

		res, err := a.services.Gmail.SyncAll(ctx)
		if res != nil {
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(gmailSyncCmd)
}
