package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/rewind/internal/session"
	"github.com/fakeyudi/rewind/internal/tui"
)

var stopPreserve []string
var stopAll bool
var stopNone bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the session: pick changes to keep, revert the rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopAll && stopNone {
			return fmt.Errorf("--all and --none are mutually exclusive")
		}
		if len(stopPreserve) > 0 && (stopAll || stopNone) {
			return fmt.Errorf("--preserve cannot be combined with --all or --none")
		}

		c := newClient()
		changes, err := c.Changes()
		if err != nil {
			return err
		}

		var preserve []string
		switch {
		case stopAll:
			for _, ch := range changes {
				preserve = append(preserve, ch.Path)
			}
		case stopNone:
			// revert everything
		case len(stopPreserve) > 0:
			preserve = stopPreserve
		case len(changes) == 0:
			// nothing to pick
		case term.IsTerminal(os.Stdin.Fd()):
			st, err := c.Status()
			if err != nil {
				return err
			}
			picked, cancelled, err := tui.Run(st.Root, changes)
			if err != nil {
				return fmt.Errorf("running picker: %w", err)
			}
			if cancelled {
				cmd.Println("Stop cancelled; session is still active.")
				return nil
			}
			preserve = picked
		default:
			return fmt.Errorf("no terminal for the picker: pass --all, --none, or --preserve")
		}

		resp, err := c.Stop(preserve)
		if err != nil {
			return err
		}

		if len(changes) == 0 {
			cmd.Println("no changes detected - workspace is clean")
		}
		printStopSummary(cmd, &resp.Entry)
		cmd.Printf("Session %s closed.\n", resp.Entry.SessionID)

		if !resp.OK {
			return fmt.Errorf("some changes could not be reverted")
		}
		return nil
	},
}

func printStopSummary(cmd *cobra.Command, entry *session.HistoryEntry) {
	var preserved, reverted, failed int
	for _, r := range entry.Results {
		switch r.Outcome {
		case session.OutcomePreserved:
			preserved++
		case session.OutcomeReverted:
			reverted++
		case session.OutcomeRevertFailed:
			failed++
		}
	}
	if len(entry.Results) > 0 {
		cmd.Printf("Preserved: %d  Reverted: %d  Failed: %d\n", preserved, reverted, failed)
	}
	for _, r := range entry.Results {
		if r.Outcome == session.OutcomeRevertFailed {
			fmt.Fprintf(cmd.ErrOrStderr(), "revert failed: %s: %s\n", r.Path, r.Error)
		}
	}
}

func init() {
	stopCmd.Flags().StringArrayVar(&stopPreserve, "preserve", nil, "Path to keep as-is (repeatable)")
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "Keep every pending change")
	stopCmd.Flags().BoolVar(&stopNone, "none", false, "Revert every pending change")
	rootCmd.AddCommand(stopCmd)
}
