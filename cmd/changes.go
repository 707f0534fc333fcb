package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List the session's pending changes against the baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		changes, err := newClient().Changes()
		if err != nil {
			return err
		}

		if len(changes) == 0 {
			cmd.Println("no pending changes")
			return nil
		}
		for _, c := range changes {
			cmd.Printf("%-9s %s  %s\n",
				strings.ToUpper(string(c.Kind)),
				c.Timestamp.Format("15:04:05"),
				c.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
}
