// Package main implements the repocore CLI, the process that hosts the
// repository processing core's background services.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repocore/repocore/internal/app"
	"github.com/repocore/repocore/internal/corerr"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "repocore",
	Short: "Repository processing core",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (overrides REPOCORE_CONFIG and default locations)")
	rootCmd.AddCommand(serveCmd, submitCmd, triggerCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}

			os.Exit(exitErr.Code)
		}

		fmt.Fprintln(os.Stderr, "Error:", userFriendlyMessage(err))
		os.Exit(1)
	}
}

func userFriendlyMessage(err error) string {
	var ce *corerr.CoreError
	if errors.As(err, &ce) {
		return ce.Message
	}

	return err.Error()
}

// newApp builds the App container from the --config flag.
func newApp() (*app.App, error) {
	return app.New(app.WithConfigPath(configPath))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
