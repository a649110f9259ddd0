package cli

import (
	"fmt"

	"supportdesk/internal/database"

	"github.com/spf13/cobra"
)

var flagSeedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database schema and optionally load seed data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if flagSeedFile == "" {
			return nil
		}
		data, err := database.LoadSeedFile(flagSeedFile)
		if err != nil {
			return err
		}
		report, err := database.Seed(ctx, a.services.DB, a.cfg, data, a.logger)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded companies=%d members=%d clients=%d portal_accesses=%d sla_policies=%d\n",
			report.Companies, report.Members, report.Clients, report.PortalAccesses, report.Policies)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&flagSeedFile, "seed", "", "YAML file with companies, members, clients and SLA policies")
}
