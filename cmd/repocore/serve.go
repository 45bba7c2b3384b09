package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Processing Worker, Incremental Update Scheduler, and log HTTP surface",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Fprintf(cmd.OutOrStdout(), "repocore listening on %s\n", application.Config.HTTPAddr)

		return application.Run(ctx)
	},
}
