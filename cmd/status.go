package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/rewind/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status()
		if err != nil {
			return err
		}

		if st.State != session.StateActive {
			cmd.Printf("no active session (%s)\n", st.State)
			return nil
		}

		cmd.Printf("Root: %s\n", st.Root)
		if st.StartedAt != nil {
			cmd.Printf("Started: %s\n", st.StartedAt.Format(time.RFC3339))
			cmd.Printf("Duration: %s\n", time.Since(*st.StartedAt).Round(time.Second).String())
		}
		cmd.Printf("Tracked files: %d\n", st.Tracked)
		cmd.Printf("Pending changes: %d\n", st.Pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
