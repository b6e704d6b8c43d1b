package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep pass and exit",
	Long: `Runs a single pass over every open package near or past expiry:
staged warnings are sent, expired packages flipped, and auto-renewals
attempted. Intended for cron or manual operator use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(ctx); err != nil {
			return err
		}

		report, err := a.Sweep.Sweep(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("scanned:  %d\n", report.Scanned)
		fmt.Printf("notified: %d\n", report.Notified)
		fmt.Printf("renewed:  %d\n", report.Renewed)
		fmt.Printf("failed:   %d\n", report.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
