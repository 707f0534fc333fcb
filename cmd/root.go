package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/rewind/internal/client"
	"github.com/fakeyudi/rewind/internal/config"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// addrFlag overrides the configured daemon address when set.
var addrFlag string

var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Track workspace changes in a session and roll back the ones you don't keep",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load and merge config files.
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)
		return nil
	},
}

// Execute runs the root command. Daemon API failures carry their own exit
// code so scripts can tell "no daemon" from "bad state" from "revert failed".
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ae *client.APIError
		if errors.As(err, &ae) {
			os.Exit(ae.ExitCode())
		}
		os.Exit(1)
	}
}

// daemonAddr returns the daemon address the CLI should talk to.
func daemonAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	return cfg.ListenAddr
}

// newClient returns a client for the configured daemon.
func newClient() *client.Client {
	return client.New(daemonAddr())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Daemon address (host:port, overrides config)")
}
