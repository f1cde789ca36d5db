package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/altq/internal/service"
)

func newTickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Process one batch and exit, for use from an OS scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			gen, inspector, err := a.newGenerator()
			if err != nil {
				return err
			}

			queue := a.newQueue(store, inspector, nil)
			scheduler, err := service.NewScheduler(a.newWorker(queue, gen, inspector), service.WithSafetySchedule(""))
			if err != nil {
				return err
			}
			result, err := scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "claimed=%d completed=%d retried=%d failed=%d\n",
				result.Claimed, result.Completed, result.Retried, result.Failed)
			switch {
			case result.Deferred:
				fmt.Fprintf(out, "rate limited, next run in %s\n", result.Next)
			case result.Next > 0:
				fmt.Fprintf(out, "more work pending, next run in %s\n", result.Next)
			}
			return nil
		},
	}
}
