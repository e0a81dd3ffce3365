// Command localworker runs one ingestion pipeline pass on the local host.
// The local executor starts it detached and polls the status file it keeps.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bookpipeline/internal/catalog"
	"bookpipeline/internal/platform/logging"
)

type options struct {
	runID      string
	batchID    string
	source     string
	booklist   string
	statusFile string
	items      string
	catalogDSN string
	delay      time.Duration
	logLevel   string
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "localworker",
		Short:        "Run the ingestion pipeline over a booklist and report progress to a status file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return execute(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.runID, "run-id", "", "run id assigned by the executor")
	f.StringVar(&opts.batchID, "batch-id", "", "batch the run belongs to")
	f.StringVar(&opts.source, "source", "", "batch source system")
	f.StringVar(&opts.booklist, "booklist", "", "path to the booklist CSV (ref,title,author[,language])")
	f.StringVar(&opts.statusFile, "status-file", "", "path of the status file to maintain")
	f.StringVar(&opts.items, "items", "", "comma separated item refs to limit the run to")
	f.StringVar(&opts.catalogDSN, "catalog-dsn", os.Getenv("DB_DSN"), "postgres DSN of the catalog; empty keeps books in memory")
	f.DurationVar(&opts.delay, "delay", 0, "pause after each item")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	for _, name := range []string{"run-id", "batch-id", "booklist", "status-file"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func execute(ctx context.Context, opts options) error {
	logger, err := logging.New(logging.Config{Level: opts.logLevel, Format: "json"}, os.Stderr)
	if err != nil {
		return err
	}
	logger = logger.With("run_id", opts.runID)

	entries, err := readBooklist(opts.booklist)
	if err != nil {
		return fmt.Errorf("read booklist: %w", err)
	}
	entries = scope(entries, splitRefs(opts.items))

	pub, closeFn, err := openCatalog(ctx, opts.catalogDSN, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	w := newWorker(opts.statusFile, opts.batchID, opts.source, pub, opts.delay, logger)
	logger.Info("run started", "batch_id", opts.batchID, "items", len(entries))
	return w.run(ctx, entries)
}

func openCatalog(ctx context.Context, dsn string, logger *slog.Logger) (Publisher, func(), error) {
	if dsn == "" {
		logger.Info("no catalog dsn, books are kept in memory")
		return catalog.NewMemoryRepo(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect catalog: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping catalog: %w", err)
	}
	return catalog.NewPostgresRepo(pool, 5*time.Second), pool.Close, nil
}

func splitRefs(s string) []string {
	var out []string
	for _, ref := range strings.Split(s, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}
