package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookpipeline/internal/apiclient"
	"bookpipeline/internal/recovery"
)

func newBatchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect import batches",
	}

	var opts apiclient.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batches, page, err := a.api.ListBatches(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(batches)
			}
			printBatchTable(a.out, batches)
			fmt.Fprintln(a.out, styles.Muted.Render(fmt.Sprintf("%d batches, %d pages", page.Total, page.TotalPages)))
			return nil
		},
	}
	lf := list.Flags()
	lf.StringVar(&opts.Status, "status", "", "filter by status")
	lf.StringVar(&opts.Source, "source", "", "filter by source")
	lf.StringVar(&opts.Environment, "env", "", "filter by environment")
	lf.IntVar(&opts.Page, "page", 1, "page number")
	lf.IntVar(&opts.PageSize, "page-size", 20, "batches per page")

	get := &cobra.Command{
		Use:   "get <batch-id>",
		Short: "Show one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.api.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(b)
			}
			printBatch(a.out, b)
			return nil
		},
	}

	var window string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate batch statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.api.Stats(cmd.Context(), window)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(s)
			}
			printStats(a.out, s)
			return nil
		},
	}
	stats.Flags().StringVar(&window, "window", "7d", "recent window: 1d, 7d or 30d")

	cmd.AddCommand(list, get, stats)
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var checkOnly bool
	var createdBy string
	cmd := &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Re-run only the failed items of a finished batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.api.CheckResume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if checkOnly || !p.Allowed {
				return a.printPrecondition(p)
			}
			res, err := a.api.Resume(cmd.Context(), args[0], createdBy)
			if err != nil {
				return err
			}
			a.remember(apiclient.RunView{Run: res.Run, Percent: res.Run.Nodes.Percent()})
			if a.jsonOut {
				return a.printJSON(res)
			}
			fmt.Fprintf(a.out, "resumed %d items of %s as batch %s, run %s\n",
				len(res.ResumedItems), res.ResumedBatch, res.ChildBatchID, res.Run.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only show whether resume is possible")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "operator name recorded on the new batch")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Reverse the catalog effects of a finished batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.api.CheckRollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if checkOnly || !p.Allowed {
				return a.printPrecondition(p)
			}
			desc := fmt.Sprintf("%d published books will be withdrawn. This cannot be undone.", len(p.Items))
			if err := a.approve("Roll back batch "+args[0]+"?", desc); err != nil {
				return err
			}
			res, err := a.api.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			if res.Outcome == recovery.OutcomePartial {
				fmt.Fprintln(a.out, styles.Warning.Render(fmt.Sprintf(
					"partial rollback: %d reversed, %d failed (%s); batch stays %s",
					len(res.Reversed), len(res.Failed), strings.Join(res.FailedRefs(), ", "), res.Batch.Status)))
				return nil
			}
			fmt.Fprintf(a.out, "rolled back %d items, batch %s\n", len(res.Reversed), styleStatus(string(res.Batch.Status)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only show whether rollback is possible")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show pipeline health and active alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.api.Health(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(r)
			}
			printHealth(a.out, r)
			return nil
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local run snapshot cache",
	}
	show := &cobra.Command{
		Use:   "list",
		Short: "List cached run snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := a.cache.List()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(snaps)
			}
			for _, s := range snaps {
				fmt.Fprintf(a.out, "%-36s %-12s %-10s %5.1f%%  %s\n", s.RunID, s.Environment,
					styleStatus(s.Status), s.Percent, s.SavedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	var all bool
	evict := &cobra.Command{
		Use:   "evict [run-id]",
		Short: "Forget a cached run; the run itself is not touched",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			switch {
			case len(args) == 1:
				id = args[0]
			case !all:
				return fmt.Errorf("give a run id or --all")
			}
			if err := a.cache.Evict(id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "evicted")
			return nil
		},
	}
	evict.Flags().BoolVar(&all, "all", false, "evict every cached run")
	cmd.AddCommand(show, evict)
	return cmd
}
