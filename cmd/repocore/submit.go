package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/giturl"
)

var (
	submitBranch      string
	submitPrivate     bool
	submitAccountName string
	submitAccountKey  string
)

var submitCmd = &cobra.Command{
	Use:   "submit <remote-url>",
	Short: "Register a Git repository for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteURL := args[0]
		if !giturl.IsURL(remoteURL) {
			return &ExitCodeError{Code: 1, Message: fmt.Sprintf("%q does not look like a Git URL", remoteURL)}
		}

		org := giturl.ExtractOrganization(remoteURL)
		name := giturl.ExtractRepoName(remoteURL)
		if org == "" || name == "" {
			return &ExitCodeError{Code: 1, Message: fmt.Sprintf("could not derive organization/name from %q", remoteURL)}
		}

		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, cancel := signalContext()
		defer cancel()

		store := application.Store

		existing, err := store.FindRepositoryByRemote(ctx, remoteURL)
		if err == nil && !existing.IsDeleted() {
			return &ExitCodeError{Code: 1, Message: fmt.Sprintf("repository %s already registered as %s", remoteURL, existing.ID)}
		}

		if err != nil && !errors.Is(err, corerr.ErrNoRows) {
			return err
		}

		repo := domain.Repository{
			ID:           uuid.NewString(),
			OwnerID:      "cli",
			RemoteURL:    remoteURL,
			Organization: org,
			Name:         name,
			IsPrivate:    submitPrivate,
			Status:       domain.RepositoryPending,
		}

		if submitAccountName != "" {
			repo.AccountName = submitAccountName
			repo.AccountSecret = submitAccountKey
		}

		if err := store.CreateRepository(ctx, repo); err != nil {
			return err
		}

		branch := domain.RepositoryBranch{
			ID:           uuid.NewString(),
			RepositoryID: repo.ID,
			Name:         submitBranch,
		}

		if err := store.CreateBranch(ctx, branch); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registered %s/%s as repository %s (branch %s)\n", org, name, repo.ID, branch.Name)

		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitBranch, "branch", "main", "Branch to track")
	submitCmd.Flags().BoolVar(&submitPrivate, "private", false, "Mark the repository private")
	submitCmd.Flags().StringVar(&submitAccountName, "account-name", "", "Per-repository credential account name")
	submitCmd.Flags().StringVar(&submitAccountKey, "account-secret", "", "Per-repository credential secret")
}
