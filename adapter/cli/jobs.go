package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	bulkApplication "github.com/fitstack/backoffice/internal/bulk/application"
	bulkDomain "github.com/fitstack/backoffice/internal/bulk/domain"
)

var (
	jobsType   string
	jobsStatus string
	jobsPage   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage bulk operation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bulk operation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		f := bulkDomain.ListFilter{Page: jobsPage, PerPage: 20}
		if jobsType != "" {
			t := bulkDomain.OperationType(jobsType)
			f.Type = &t
		}
		if jobsStatus != "" {
			s := bulkDomain.OperationStatus(jobsStatus)
			f.Status = &s
		}

		jobs, total, err := a.Engine.List(ctx, f)
		if err != nil {
			return err
		}

		fmt.Printf("%d job(s), page %d\n\n", total, f.Page)
		for _, job := range jobs {
			fmt.Printf("%s  %-20s %-22s %3.0f%%  %d/%d ok, %d failed  %s\n",
				job.ID(),
				job.Type(),
				job.Status(),
				job.ProgressPercentage(),
				job.SuccessfulCount(),
				job.TargetCount(),
				job.FailedCount(),
				job.CreatedAt().Format(time.RFC3339),
			)
		}
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's progress and errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Engine.Status(ctx, id)
		if err != nil {
			return err
		}

		printJobStatus(status)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or in-progress job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Engine.Cancel(ctx, id); err != nil {
			return err
		}

		status, err := a.Engine.Status(ctx, id)
		if err != nil {
			return err
		}

		fmt.Println("cancel requested")
		printJobStatus(status)
		return nil
	},
}

func printJobStatus(status *bulkApplication.StatusProjection) {
	fmt.Printf("id:         %s\n", status.ID)
	fmt.Printf("type:       %s\n", status.Type)
	fmt.Printf("status:     %s\n", status.Status)
	fmt.Printf("progress:   %.2f%% (%d/%d)\n",
		status.ProgressPercentage,
		status.SuccessfulCount+status.FailedCount,
		status.TargetCount,
	)
	if status.StartedAt != nil {
		fmt.Printf("started:    %s\n", status.StartedAt.Format(time.RFC3339))
	}
	if status.CompletedAt != nil {
		fmt.Printf("completed:  %s\n", status.CompletedAt.Format(time.RFC3339))
	}
	if len(status.Errors) > 0 {
		fmt.Printf("errors:\n")
		for _, e := range status.Errors {
			fmt.Printf("  %s (%s): %s\n", e.ItemID, e.ItemLabel, e.Message)
		}
	}
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsType, "type", "", "filter by operation type")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().IntVar(&jobsPage, "page", 1, "page number")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
