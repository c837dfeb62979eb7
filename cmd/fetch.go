package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"gridfetch/internal/model"
	"gridfetch/internal/provider"
	"gridfetch/internal/ratelimit"
	"gridfetch/internal/render"
	"gridfetch/internal/scheduler"
	"gridfetch/internal/statestore"
	"gridfetch/internal/tasklist"
	"gridfetch/internal/transport"
	"gridfetch/internal/xlog"
)

var outputDir string

var fetchCmd = &cobra.Command{
	Use:   "fetch <task-list-file>",
	Short: "Download every item listed in a task-list file",
	Long: `fetch reads a task-list file of one URL (optionally "URL|HEX_DIGEST")
per line and downloads every item concurrently, resuming any that already
have a matching sidecar on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory to place downloaded files in (default: current directory)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg := runtimeCfg
	taskPath := args[0]

	log, err := xlog.Default(xlog.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lines, err := tasklist.ReadFile(taskPath)
	if err != nil {
		return fmt.Errorf("read task list: %w", err)
	}

	registry := provider.NewRegistry()
	items := make([]model.DownloadItem, 0, len(lines))
	for _, line := range lines {
		identifier := line.URL
		if line.ExpectedDigest != "" {
			identifier += "|" + line.ExpectedDigest
		}
		expanded, err := registry.Expand(cmd.Context(), identifier)
		if err != nil {
			log.Warn("resolve %s: %v", line.URL, err)
			continue
		}
		items = append(items, expanded...)
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		for i := range items {
			items[i].Destination = filepath.Join(outputDir, filepath.Base(items[i].Destination))
		}
	}

	if len(items) == 0 {
		return fmt.Errorf("no downloadable items in %s", taskPath)
	}

	tr, err := transport.New(transport.Config{ProxyURL: cfg.ProxyURL})
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	limiter := ratelimit.New(cfg.RateLimit)
	store := statestore.New()

	pool := render.NewPool(cfg.Quiet)
	defer pool.Close()

	sched := scheduler.New(tr, limiter, store, log, cfg, pool.Handler())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("received %v, cancelling in-flight downloads", sig)
		sched.Cancel()
	}()

	summary := sched.Run(ctx, items)
	render.Summary(cfg.Quiet, summary)

	if summary.Failed > 0 || summary.Cancelled > 0 {
		return fmt.Errorf("%d failed, %d cancelled", summary.Failed, summary.Cancelled)
	}
	return nil
}
