package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/service"
)

// withQueue opens the store for the duration of fn.
func (a *app) withQueue(ctx context.Context, fn func(*service.Queue) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	inspector, err := a.newInspector()
	if err != nil {
		return err
	}
	return fn(a.newQueue(store, inspector, nil))
}

func newEnqueueCmd(a *app) *cobra.Command {
	var (
		source string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <entity-id>...",
		Short: "Queue ALT text generation for one or more entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				out := cmd.OutOrStdout()
				if len(ids) == 1 && domain.SanitizeSource(source) != domain.SourceRegenerate {
					job, created, err := q.Enqueue(cmd.Context(), ids[0], source, force)
					if err != nil {
						return err
					}
					switch {
					case job == nil:
						fmt.Fprintf(out, "entity %d already has ALT text, skipped\n", ids[0])
					case created:
						fmt.Fprintf(out, "enqueued job %d for entity %d\n", job.ID, job.EntityID)
					default:
						fmt.Fprintf(out, "entity %d already queued as job %d (%s)\n", job.EntityID, job.ID, job.Status)
					}
					return nil
				}

				n, err := q.EnqueueMany(cmd.Context(), ids, source)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "enqueued %d jobs\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", domain.SourceManual, "Source recorded on the job (bulk-regenerate clears earlier jobs)")
	cmd.Flags().BoolVar(&force, "force", false, "Queue even if the entity already has ALT text")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <entity-id>...",
		Short: "Delete every job of the given entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				n, err := q.ClearForEntities(cmd.Context(), ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
				return nil
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, stats)
				}
				fmt.Fprintf(out, "pending=%d processing=%d completed=%d failed=%d completed_24h=%d\n",
					stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.CompletedRecent)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newRecentCmd(a *app) *cobra.Command {
	return newListCmd(a, "recent", "List the most recently enqueued jobs", (*service.Queue).Recent)
}

func newFailuresCmd(a *app) *cobra.Command {
	return newListCmd(a, "failures", "List the most recent failed jobs", (*service.Queue).RecentFailures)
}

func newListCmd(a *app, use, short string, fetch func(*service.Queue, context.Context, int) ([]*domain.Job, error)) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be at least 1")
			}
			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				jobs, err := fetch(q, cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if jobs == nil {
						jobs = []*domain.Job{}
					}
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				return printJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newRetryCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Return a failed job, or all failed jobs, to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a job id or --all")
			}

			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				out := cmd.OutOrStdout()
				if all {
					n, err := q.RetryFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%d failed jobs queued for retry\n", n)
					return nil
				}

				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id < 1 {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				if err := q.RetryJob(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry job %d: %w", id, err)
				}
				fmt.Fprintf(out, "job %d queued for retry\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed job")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var (
		all       bool
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				var (
					n   int64
					err error
				)
				if all {
					n, err = q.ClearCompleted(cmd.Context())
				} else {
					age := a.cfg.Retention
					if cmd.Flags().Changed("older-than") {
						age = olderThan
					}
					n, err = q.PurgeCompleted(cmd.Context(), age)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d completed jobs\n", n)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every completed job")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete completed jobs older than this (default ALTQ_RETENTION)")
	cmd.MarkFlagsMutuallyExclusive("all", "older-than")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Complete pending jobs whose entity already has ALT text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.GeneratorURL == "" {
				return errors.New("cleanup needs ALTQ_GENERATOR_URL to inspect entities")
			}
			return a.withQueue(cmd.Context(), func(q *service.Queue) error {
				n, err := q.CleanupRedundant(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "completed %d redundant jobs\n", n)
				return nil
			})
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the job store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening a database store applies pending migrations.
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			closeStore(store)
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.cfg.Store)
			return nil
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid entity id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJobs(w io.Writer, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "no jobs")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tSTATUS\tATTEMPTS\tSOURCE\tENQUEUED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.EntityID, j.Status, j.Attempts, j.Source,
			j.EnqueuedAt.Format(time.RFC3339), truncate(j.LastError, 60))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
