package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Submit, watch and recover book ingestion runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	apiURL := os.Getenv("PIPELINE_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.apiURL, "api", apiURL, "pipeline API base URL")
	pf.StringVar(&a.cacheDir, "cache-dir", defaultCacheDir(), "local run snapshot cache, empty keeps it in memory")
	pf.BoolVar(&a.jsonOut, "json", false, "print raw JSON")
	pf.BoolVarP(&a.yes, "yes", "y", false, "skip confirmation prompts")
	pf.DurationVar(&a.timeout, "timeout", 10*time.Second, "per request timeout")

	root.AddCommand(
		newSubmitCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newCancelCmd(a, false),
		newCancelCmd(a, true),
		newRetryCmd(a),
		newBatchesCmd(a),
		newResumeCmd(a),
		newRollbackCmd(a),
		newHealthCmd(a),
		newCacheCmd(a),
	)
	return root
}
