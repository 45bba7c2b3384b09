package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var triggerBranchID string

var triggerCmd = &cobra.Command{
	Use:   "trigger <repository-id>",
	Short: "Manually enqueue an incremental update ahead of its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID := args[0]

		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, cancel := signalContext()
		defer cancel()

		branchID := triggerBranchID
		if branchID == "" {
			branches, err := application.Store.ListBranches(ctx, repoID)
			if err != nil {
				return err
			}

			if len(branches) == 0 {
				return &ExitCodeError{Code: 1, Message: fmt.Sprintf("repository %s has no tracked branches", repoID)}
			}

			branchID = branches[0].ID
		}

		taskID, err := application.Scheduler.TriggerManualUpdate(ctx, repoID, branchID)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "queued manual update task %s for repository %s\n", taskID, repoID)

		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerBranchID, "branch-id", "", "Branch id to update (defaults to the repository's first branch)")
}
