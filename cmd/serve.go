package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/server"
)

var serveRoot string
var serveDataDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rewind daemon (watcher, backup store, and local API)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer log.Sync()

		root := cfg.Root
		if serveRoot != "" {
			root = serveRoot
		}
		dataDir := cfg.DataDir
		if serveDataDir != "" {
			dataDir = serveDataDir
		}

		eng, err := engine.New(engine.Options{
			Root:          root,
			DataDir:       dataDir,
			ExtraExcludes: cfg.ExcludePatterns,
			Debounce:      time.Duration(cfg.DebounceMS) * time.Millisecond,
			Logger:        log,
		})
		if err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.New(eng, log).Run(ctx, daemonAddr())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Directory tree to track (overrides config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for session state, history, and backups")
	rootCmd.AddCommand(serveCmd)
}
