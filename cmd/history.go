package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/rewind/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed sessions and their outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := newClient().History()
		if err != nil {
			return err
		}

		if len(history) == 0 {
			cmd.Println("no completed sessions")
			return nil
		}
		for _, e := range history {
			var preserved, reverted, failed int
			for _, r := range e.Results {
				switch r.Outcome {
				case session.OutcomePreserved:
					preserved++
				case session.OutcomeReverted:
					reverted++
				case session.OutcomeRevertFailed:
					failed++
				}
			}
			status := "ok"
			if !e.OK {
				status = "FAILED"
			}
			cmd.Printf("%s  %s\n", e.SessionID, e.Root)
			cmd.Printf("  %s → %s  preserved=%d reverted=%d failed=%d  %s\n",
				e.StartedAt.Format(time.RFC3339),
				e.EndedAt.Format(time.RFC3339),
				preserved, reverted, failed, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
