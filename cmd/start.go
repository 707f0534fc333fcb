package cmd

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin a new session: snapshot the workspace and start watching",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newClient().Start()
		if err != nil {
			return err
		}

		cmd.Printf("Session %s started.\n", info.ID)
		cmd.Printf("Tracking %d file(s) under %s\n", info.Tracked, info.Root)
		if info.Untracked > 0 {
			cmd.Printf("warning: %d file(s) could not be read and are untracked\n", info.Untracked)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
