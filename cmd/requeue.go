package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newRequeueCmd() *cobra.Command {
	var (
		staleAfter time.Duration
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "requeue [job-id...]",
		Short: "Abandon jobs stuck in processing and queue fresh copies",
		Long: `requeue marks a processing job whose runner has been silent for longer
than --stale-after as failed (abandoned) and creates a new queued job with
the same parameters. With --all every stale job is requeued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass job ids or --all, not both")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d := a.Admin()
			out := cmd.OutOrStdout()

			if all {
				jobs, err := d.RequeueStale(cmd.Context(), staleAfter)
				if err != nil {
					return err
				}
				for _, job := range jobs {
					fmt.Fprintf(out, "queued job %d for %s\n", job.ID, job.URL)
				}
				fmt.Fprintf(out, "%d stale job(s) requeued\n", len(jobs))
				return nil
			}

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("job id %q: %w", arg, err)
				}
				job, err := d.Requeue(cmd.Context(), id, staleAfter)
				if err != nil {
					return fmt.Errorf("requeue job %d: %w", id, err)
				}
				fmt.Fprintf(out, "job %d requeued as job %d\n", id, job.ID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 30*time.Minute, "minimum time since the job's last update")
	cmd.Flags().BoolVar(&all, "all", false, "requeue every stale processing job")
	return cmd
}
