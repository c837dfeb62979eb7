package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gridfetch/internal/config"
)

var (
	cfgFile      string
	concurrency  int
	segments     int
	rateLimit    string
	maxRetries   int
	verifyMode   string
	proxyURL     string
	quiet        bool
	logLevel     string
	logFile      string
	runtimeCfg   *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "gridfetch",
	Short:   "Resumable, concurrent HTTP file downloader",
	Version: "v1.0.0",
	Long: `gridfetch downloads one or many files over HTTP(S) with segmented,
resumable, rate-limited transfers.

Examples:
  gridfetch fetch tasks.txt
  gridfetch fetch -o ./downloads --concurrency 6 --segments 16 tasks.txt
  gridfetch fetch --rate 5M --proxy socks5://127.0.0.1:1080 tasks.txt
  gridfetch resume ./downloads

Environment Variables:
  GRIDFETCH_CONCURRENCY  Default concurrent file count
  GRIDFETCH_SEGMENTS     Default segments per file
  GRIDFETCH_RATE_LIMIT   Default rate limit in bytes/sec
  GRIDFETCH_PROXY_URL    Proxy URL
  GRIDFETCH_VERIFY       auto | required | disabled`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		runtimeCfg = cfg
		return nil
	},
}

func loadConfiguration() (*config.Config, error) {
	cfg := config.Default()
	if err := cfg.LoadFile(cfgFile); err != nil {
		return nil, err
	}
	cfg.LoadEnv()

	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if segments > 0 {
		cfg.Segments = segments
	}
	if rateLimit != "" {
		bytesPerSec, err := config.ParseRate(rateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit %q: %w", rateLimit, err)
		}
		cfg.RateLimit = bytesPerSec
	}
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	if verifyMode != "" {
		cfg.Verify = config.VerifyMode(verifyMode)
	}
	if proxyURL != "" {
		cfg.ProxyURL = proxyURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if quiet {
		cfg.Quiet = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "concurrent file downloads (default 4)")
	rootCmd.PersistentFlags().IntVar(&segments, "segments", 0, "segments per file (default 8)")
	rootCmd.PersistentFlags().StringVarP(&rateLimit, "rate", "r", "", "bandwidth limit, e.g. 5M (default unlimited)")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 0, "per-segment retry attempts (default 5)")
	rootCmd.PersistentFlags().StringVar(&verifyMode, "verify", "", "auto|required|disabled (default auto)")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", "", "HTTP/HTTPS/SOCKS5 proxy URL")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress bars")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "error|warn|info|debug (default info)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
