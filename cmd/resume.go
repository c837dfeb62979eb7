package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gridfetch/internal/model"
	"gridfetch/internal/ratelimit"
	"gridfetch/internal/render"
	"gridfetch/internal/scheduler"
	"gridfetch/internal/statestore"
	"gridfetch/internal/transport"
	"gridfetch/internal/xlog"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <directory>",
	Short: "Resume every interrupted download under a directory",
	Long: `resume scans a directory for .part.json sidecars left behind by an
earlier fetch, and continues each one from wherever it stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg := runtimeCfg
	dir := args[0]

	log, err := xlog.Default(xlog.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store := statestore.New()
	items, err := scanSidecars(dir, store)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no interrupted downloads found under %s", dir)
	}

	tr, err := transport.New(transport.Config{ProxyURL: cfg.ProxyURL})
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	limiter := ratelimit.New(cfg.RateLimit)

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
		log.Info("received %v, cancelling resumed downloads", sig)
		sched.Cancel()
	}()

	summary := sched.Run(ctx, items)
	render.Summary(cfg.Quiet, summary)

	if summary.Failed > 0 || summary.Cancelled > 0 {
		return fmt.Errorf("%d failed, %d cancelled", summary.Failed, summary.Cancelled)
	}
	return nil
}

// scanSidecars walks dir for *.part.json files and rebuilds one
// DownloadItem per sidecar from its recorded source URL. FileDownloader.Run
// reloads the sidecar itself once handed a matching destination, so this
// only needs to recover (URL, Destination) pairs.
func scanSidecars(dir string, store *statestore.Store) ([]model.DownloadItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var items []model.DownloadItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), statestore.SidecarExt) {
			continue
		}
		destination := filepath.Join(dir, strings.TrimSuffix(entry.Name(), statestore.SidecarExt))
		state, ok := store.Load(destination)
		if !ok {
			continue
		}
		items = append(items, model.DownloadItem{URL: state.URL, Destination: destination})
	}
	return items, nil
}
