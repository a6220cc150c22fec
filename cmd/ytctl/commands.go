package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ytindexer/internal/deadletter"
	"ytindexer/internal/indexing"
	"ytindexer/internal/queue"
	"ytindexer/internal/search"
	"ytindexer/pkg/cel"
	"ytindexer/pkg/models"
)

// withCLI runs fn with a connected cli and closes it afterwards.
func withCLI(cmd *cobra.Command, fn func(ctx context.Context, c *cli) error) error {
	c, err := newCLI()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	runErr := fn(ctx, c)
	if err := c.close(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create MongoDB indexes, the search index mapping and the dead-letter archive schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(cmd, func(ctx context.Context, c *cli) error {
				db, err := c.mongoDatabase(ctx)
				if err != nil {
					return err
				}
				es, err := c.elasticsearch(ctx)
				if err != nil {
					return err
				}
				pg, err := c.archive(ctx)
				if err != nil {
					return err
				}
				if err := c.dbConnector.Migrate(ctx, db, es, pg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var recountStats bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one sweep that re-syncs unsynced videos to the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(cmd, func(ctx context.Context, c *cli) error {
				db, err := c.mongoDatabase(ctx)
				if err != nil {
					return err
				}
				es, err := c.elasticsearch(ctx)
				if err != nil {
					return err
				}

				videos := indexing.NewVideoRepository(db)
				channels := indexing.NewChannelRepository(db)
				index := search.NewIndex(es, c.Config.Search.Index, c.Logger)
				r := indexing.NewReconciler(videos, channels, index, c.Config.Indexing.Reconcile, c.Logger)

				result, err := r.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d synced=%d failed=%d\n", result.Scanned, result.Synced, result.Failed)

				if recountStats {
					n, err := r.RecountStats(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "recounted %d channels\n", n)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&recountStats, "recount-stats", false, "Also recompute channel video counts from the stored videos")
	return cmd
}

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay dead letters",
	}
	cmd.AddCommand(deadLettersListCmd())
	cmd.AddCommand(deadLettersReplayCmd())
	return cmd
}

func deadLettersListCmd() *cobra.Command {
	var (
		queueName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest archive entries first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(cmd, func(ctx context.Context, c *cli) error {
				notifications, metadata, err := c.queues(ctx)
				if err != nil {
					return err
				}
				stores, err := c.deadLetterStores(ctx, notifications, metadata)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tQUEUE\tKIND\tATTEMPTS\tFAILED_AT\tREASON")
				for _, store := range stores {
					letters, err := store.List(ctx, queueName, limit)
					if err != nil {
						return err
					}
					for _, dl := range letters {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
							dl.ID, dl.Queue, dl.Kind, dl.Attempts, dl.FailedAt.Format(time.RFC3339), dl.Reason)
					}
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", "", "Only list dead letters of this queue")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of dead letters per store")
	return cmd
}

func deadLettersReplayCmd() *cobra.Command {
	var (
		all       bool
		queueName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "replay [id...]",
		Short: "Re-enqueue dead letters with their attempts reset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("pass dead letter ids or --all")
			}

			return withCLI(cmd, func(ctx context.Context, c *cli) error {
				notifications, metadata, err := c.queues(ctx)
				if err != nil {
					return err
				}
				stores, err := c.deadLetterStores(ctx, notifications, metadata)
				if err != nil {
					return err
				}

				replayers := make([]*deadletter.Replayer, 0, len(stores))
				for _, store := range stores {
					replayers = append(replayers, deadletter.NewReplayer(store, c.Logger, notifications, metadata))
				}

				if all {
					total := 0
					for _, r := range replayers {
						n, err := r.ReplayAll(ctx, queueName, limit)
						total += n
						if err != nil {
							return err
						}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "replayed %d dead letters\n", total)
					return nil
				}

				for _, id := range args {
					if err := replayOne(ctx, replayers, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "replayed %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Replay every dead letter, optionally limited to --queue")
	cmd.Flags().StringVar(&queueName, "queue", "", "Queue whose dead letters --all replays")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of dead letters --all replays per store")
	return cmd
}

func replayOne(ctx context.Context, replayers []*deadletter.Replayer, id string) error {
	for _, r := range replayers {
		_, err := r.Replay(ctx, id)
		if isMissing(err) {
			continue
		}
		return err
	}
	return fmt.Errorf("dead letter %s: %w", id, queue.ErrDeadLetterMissing)
}

func queuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show the depth of the notification and metadata queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(cmd, func(ctx context.Context, c *cli) error {
				notifications, metadata, err := c.queues(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "QUEUE\tTYPE\tDEPTH\n")
				for _, q := range []queue.Queue{notifications, metadata} {
					depth, err := q.Depth(ctx)
					switch {
					case errors.Is(err, queue.ErrDepthUnsupported):
						fmt.Fprintf(w, "%s\t%s\tn/a\n", q.Name(), c.Config.Queue.Type)
					case err != nil:
						return fmt.Errorf("queue %s: %w", q.Name(), err)
					default:
						fmt.Fprintf(w, "%s\t%s\t%d\n", q.Name(), c.Config.Queue.Type, depth)
					}
				}
				return w.Flush()
			})
		},
	}
}

func filterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Check extractor filter expressions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <expression>",
		Short: "Compile a filter expression and optionally test it against a sample update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := cel.NewEvaluator()
			if err != nil {
				return err
			}
			filter, err := ev.CompileFilter(args[0])
			if err != nil {
				return err
			}
			sample := models.VideoUpdate{
				VideoID:     "2g1G8Jr88xU",
				ChannelID:   "UCZgt6AzoyjslHTC9dz0UoTw",
				Title:       "System Design Interview",
				PublishedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
				UpdatedAt:   time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC),
			}
			matched, err := filter.Match(cmd.Context(), sample)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (sample update %s matches: %t)\n", filter.Expression(), sample.VideoID, matched)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "examples",
		Short: "Print example filter expressions",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(cel.FilterExpressionExamples))
			for name := range cel.FilterExpressionExamples {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, cel.FilterExpressionExamples[name])
			}
			return w.Flush()
		},
	})
	return cmd
}
