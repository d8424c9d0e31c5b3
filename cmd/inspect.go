package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/review-harvester/internal/api"
	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func newInspectCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "inspect <unit>...",
		Short: "Print completion, lock and checkpoint state of units",
		Long: `Prints one JSON object per unit with its completion marker, lock state,
last checkpointed cursor and record count. With --history and a configured
ledger, the latest outcome rows follow each unit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if history > 0 && a.Ledger == nil {
				return fmt.Errorf("--history needs ledger.dsn to be configured")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, unitID := range args {
				if err := harvest.ValidateUnit(unitID); err != nil {
					return err
				}
				status, err := api.InspectUnit(cmd.Context(), a.Checkpoints, a.Claims, unitID)
				if err != nil {
					return fmt.Errorf("inspect %s: %w", unitID, err)
				}
				if err := enc.Encode(status); err != nil {
					return fmt.Errorf("write status: %w", err)
				}
				if history == 0 {
					continue
				}
				events, err := a.Ledger.History(cmd.Context(), unitID, history)
				if err != nil {
					return fmt.Errorf("history %s: %w", unitID, err)
				}
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return fmt.Errorf("write history: %w", err)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also print the latest N ledger outcomes per unit")
	return cmd
}
