// treeshare encodes directories into self-contained links and opens links
// back into directories.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/config"
	"github.com/AtharvRG/fractal/internal/linkcache"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/pkg/client"
)

var (
	configFile string
	verbose    bool
	cfg        *config.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "treeshare",
		Short: "Share file trees as links",
		Long: `treeshare packs a directory into a URL fragment that carries the whole tree.
Trees too large for a link are published to a gist or the share server instead.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if verbose {
				level = "debug"
			}
			if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
				return err
			}
			var err error
			cfg, err = config.LoadClient(configFile)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		encodeCmd(),
		decodeCmd(),
		shortenCmd(),
		deleteCmd(),
		tokenCmd(),
		cacheCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newNegotiator() *compress.Negotiator {
	return compress.New(compress.WithStrategies(
		compress.NewBrotli(cfg.BrotliQuality),
		compress.NewGzip(compress.DefaultGzipLevel),
	))
}

// newClient returns nil when no server is configured.
func newClient() *client.Client {
	if cfg.Server == "" {
		return nil
	}
	return client.New(client.Config{
		BaseURL:   cfg.Server,
		Timeout:   cfg.ResolveTimeout,
		AuthToken: cfg.Token,
	})
}

func requireClient() (*client.Client, error) {
	c := newClient()
	if c == nil {
		return nil, fmt.Errorf("no share server configured, set TREESHARE_SERVER")
	}
	return c, nil
}

// openCache returns nil when the cache is disabled or cannot be opened.
func openCache() *linkcache.Cache {
	if cfg.LinkCacheDir == "" {
		return nil
	}
	c, err := linkcache.Open(cfg.LinkCacheDir)
	if err != nil {
		logging.Warn("link cache unavailable", zap.String("dir", cfg.LinkCacheDir), zap.Error(err))
		return nil
	}
	return c
}
