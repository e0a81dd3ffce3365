package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookpipeline/internal/apiclient"
	"bookpipeline/internal/executor"
)

func newSubmitCmd(a *app) *cobra.Command {
	var req apiclient.SubmitRequest
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a run for a booklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.api.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.remember(v)
			if err := a.printRun(v); err != nil {
				return err
			}
			if watch {
				return a.watch(cmd.Context(), v.ID, 2*time.Second)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Environment, "env", string(executor.EnvLocal), "local, debugging, staging or production")
	f.StringVar(&req.Source, "source", "", "book source system")
	f.StringVar(&req.BooklistRef, "booklist", "", "booklist reference understood by the executor")
	f.StringVar(&req.CreatedBy, "created-by", "", "operator name recorded on the batch")
	f.StringVar(&req.Notes, "notes", "", "free form batch notes")
	f.BoolVarP(&watch, "watch", "w", false, "keep polling until the run finishes")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("booklist")
	return cmd
}

// runArg returns the run id argument, falling back to the cached current run.
func (a *app) runArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	snap, err := a.cache.Load()
	if err != nil {
		return "", errors.New("no run id given and no current run cached")
	}
	return snap.RunID, nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Poll a run once; defaults to the current run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.runArg(args)
			if err != nil {
				return err
			}
			v, err := a.api.Poll(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.remember(v)
			return a.printRun(v)
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Poll a run until it reaches a terminal state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.runArg(args)
			if err != nil {
				return err
			}
			return a.watch(cmd.Context(), id, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

// watch polls until the run is terminal. Transport errors and an
// unreachable executor are retried at the next tick.
func (a *app) watch(ctx context.Context, runID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		v, err := a.api.Poll(ctx, runID)
		var apiErr *apiclient.Error
		switch {
		case err == nil:
			a.remember(v)
			fmt.Fprintln(a.out, progressLine(v))
			if v.Status.Terminal() {
				return a.printRun(v)
			}
		case errors.As(err, &apiErr) && apiErr.Code != "EXECUTOR_UNREACHABLE":
			return err
		default:
			fmt.Fprintln(a.errOut, styles.Warning.Render("poll failed, retrying: "+err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newCancelCmd(a *app, abort bool) *cobra.Command {
	use, short := "cancel", "Stop tracking a run; the executor keeps running"
	if abort {
		use, short = "abort", "Stop tracking a run and ask the executor to stop it"
	}
	return &cobra.Command{
		Use:   use + " [run-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.runArg(args)
			if err != nil {
				return err
			}
			v, err := a.api.Poll(cmd.Context(), id)
			if err != nil {
				return err
			}
			if v.Environment == executor.EnvProduction {
				desc := "Tracking stops; the production process keeps running."
				if abort {
					desc = "The production process will be asked to stop."
				}
				if err := a.approve(fmt.Sprintf("%s production run %s?", use, id), desc); err != nil {
					return err
				}
			}
			call := a.api.Cancel
			if abort {
				call = a.api.Abort
			}
			res, err := call(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.remember(apiclient.RunView{Run: res.Run, Percent: res.Run.Nodes.Percent()})
			if a.jsonOut {
				return a.printJSON(res)
			}
			fmt.Fprintf(a.out, "%s %s (%s)\n", res.Run.ID, styleStatus(string(res.Run.Status)), res.Semantics)
			if res.StopError != "" {
				fmt.Fprintln(a.out, styles.Warning.Render("stop failed: "+res.StopError))
			}
			return nil
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [run-id]",
		Short: "Start a new batch with the same parameters as a finished run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.runArg(args)
			if err != nil {
				return err
			}
			v, err := a.api.Retry(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.remember(v)
			return a.printRun(v)
		},
	}
}
