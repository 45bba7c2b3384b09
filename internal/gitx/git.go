// Package gitx implements the Workspace Manager's Git surface.
//
// # go-git Implementation Notes
//
// This package uses go-git (github.com/go-git/go-git/v5) for pure Go git
// operations. Worktree mechanics beyond plain clone/fetch/checkout are not
// needed here — the Workspace Manager keeps exactly one checkout per
// (repository, branch) under its own directory, not a git worktree tree —
// so, unlike the upstream project this package is modeled on, no CLI escape
// hatch is required for everyday operation.
package gitx

import (
	"context"
	"crypto/tls"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// DefaultNetworkTimeout bounds clone/fetch calls when the caller's context
// carries no deadline of its own.
const DefaultNetworkTimeout = 5 * time.Minute

// Manager implements ports.WorkspaceManager.
type Manager struct {
	RepositoriesRoot      string
	RetryConfig           FixedRetryConfig
	InsecureSkipTLSVerify bool
	PlatformApp           ports.PlatformApp // optional; nil means no installation-token source
	GlobalToken           string
}

// Compile-time check that Manager implements ports.WorkspaceManager.
var _ ports.WorkspaceManager = (*Manager)(nil)

// New creates a Manager rooted at repositoriesRoot.
func New(repositoriesRoot string, insecureSkipTLSVerify bool, platformApp ports.PlatformApp, globalToken string) *Manager {
	return &Manager{
		RepositoriesRoot:      repositoriesRoot,
		RetryConfig:           DefaultFixedRetryConfig(),
		InsecureSkipTLSVerify: insecureSkipTLSVerify,
		PlatformApp:           platformApp,
		GlobalToken:           globalToken,
	}
}

// treePath returns the on-disk working directory for one repository.
func (m *Manager) treePath(org, name string) (string, error) {
	safeOrg, err := Sanitize(org)
	if err != nil {
		return "", err
	}

	safeName, err := Sanitize(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(m.RepositoriesRoot, safeOrg, safeName, "tree"), nil
}

// Sanitize replaces '/', '\', and the literal substring ".." with '_', then
// trims the result. An empty result is a fatal InvalidArgument error. This
// fixed three-substitution transform is deliberate and must not be swapped
// for a general-purpose "safe path" library.
func Sanitize(component string) (string, error) {
	s := strings.ReplaceAll(component, "/", "_")
	s = strings.ReplaceAll(s, `\`, "_")
	s = strings.ReplaceAll(s, "..", "_")
	s = strings.TrimSpace(s)

	if s == "" {
		return "", corerr.NewInvalidArgument("path component", "sanitizes to an empty string")
	}

	return s, nil
}

// Prepare ensures a checkout of branchName exists on disk for repo.
func (m *Manager) Prepare(ctx context.Context, repo domain.Repository, branchName, previousCommitID string) (domain.Workspace, error) {
	path, err := m.treePath(repo.Organization, repo.Name)
	if err != nil {
		return domain.Workspace{}, err
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	auth := m.resolveCredential(ctx, repo)

	var repository *git.Repository

	if _, statErr := os.Stat(filepath.Join(path, ".git")); statErr == nil {
		repository, err = m.fetchAndCheckout(ctx, path, branchName, auth)
	} else {
		repository, err = m.clone(ctx, path, repo.RemoteURL, branchName, auth)
	}

	if err != nil {
		return domain.Workspace{}, err
	}

	head, err := repository.Head()
	if err != nil {
		return domain.Workspace{}, corerr.NewWorkspaceCorrupt(path, err)
	}

	return domain.Workspace{
		Organization:     repo.Organization,
		Name:             repo.Name,
		BranchName:       branchName,
		RemoteURL:        repo.RemoteURL,
		Path:             path,
		CurrentCommitID:  head.Hash().String(),
		PreviousCommitID: previousCommitID,
	}, nil
}

func (m *Manager) clone(ctx context.Context, path, remoteURL, branchName string, auth *githttp.BasicAuth) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:           remoteURL,
		ReferenceName: plumbing.NewBranchReferenceName(branchName),
		SingleBranch:  true,
		Auth:          auth,
	}

	repository, err := WithFixedRetry(ctx, m.RetryConfig, func() (*git.Repository, error) {
		r, cloneErr := git.PlainCloneContext(ctx, path, false, opts)
		if cloneErr != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				log.Warn("failed to clean up partial clone", "path", path, "error", rmErr)
			}
		}

		return r, cloneErr
	})
	if err != nil {
		if isCorruptionError(err) {
			return nil, corerr.NewWorkspaceCorrupt(path, err)
		}

		return nil, corerr.NewTransient("clone "+remoteURL, err)
	}

	return repository, nil
}

func (m *Manager) fetchAndCheckout(ctx context.Context, path, branchName string, auth *githttp.BasicAuth) (*git.Repository, error) {
	repository, err := git.PlainOpen(path)
	if err != nil {
		return nil, corerr.NewWorkspaceCorrupt(path, err)
	}

	err = WithFixedRetryNoResult(ctx, m.RetryConfig, func() error {
		fetchErr := repository.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			Auth:       auth,
			Force:      true,
		})
		if fetchErr != nil && !errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
			return fetchErr
		}

		return nil
	})
	if err != nil {
		if isCorruptionError(err) {
			return nil, corerr.NewWorkspaceCorrupt(path, err)
		}

		return nil, corerr.NewTransient("fetch", err)
	}

	worktree, err := repository.Worktree()
	if err != nil {
		return nil, corerr.NewWorkspaceCorrupt(path, err)
	}

	remoteRef, err := repository.Reference(plumbing.NewRemoteReferenceName("origin", branchName), true)
	if err != nil {
		return nil, corerr.NewUnknownCommit("", branchName)
	}

	checkoutErr := worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branchName),
		Hash:   remoteRef.Hash(),
		Force:  true,
		Create: !localBranchExists(repository, branchName),
	})
	if checkoutErr != nil {
		return nil, corerr.NewWorkspaceCorrupt(path, checkoutErr)
	}

	return repository, nil
}

func localBranchExists(repository *git.Repository, branchName string) bool {
	_, err := repository.Reference(plumbing.NewBranchReferenceName(branchName), true)
	return err == nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{"corrupt", "invalid", "not a git repository", "bad object", "broken"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}

	return false
}

// Cleanup recursively deletes the working directory, first clearing
// read-only attributes on each file (required for Git's object store on
// some filesystems). Idempotent; never raises.
func (m *Manager) Cleanup(_ context.Context, ws domain.Workspace) {
	if ws.Path == "" {
		return
	}

	_ = filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort cleanup
		}

		_ = os.Chmod(path, 0o700)

		return nil
	})

	if err := os.RemoveAll(ws.Path); err != nil {
		log.Warn("failed to remove workspace directory", "path", ws.Path, "error", err)
	}
}

// ChangedFiles returns the paths inserted or modified between fromCommit and
// toCommit. go-git's tree diff does not correlate renames or copies, so a
// rename surfaces as a delete of the old path plus an insert of the new one;
// the delete side is dropped and only the insert is reported. If fromCommit
// is empty or unknown locally, it returns every tracked file at toCommit (a
// full rebuild).
func (m *Manager) ChangedFiles(_ context.Context, ws domain.Workspace, fromCommit, toCommit string) ([]string, error) {
	repository, err := git.PlainOpen(ws.Path)
	if err != nil {
		return nil, corerr.NewWorkspaceCorrupt(ws.Path, err)
	}

	toObj, err := repository.CommitObject(plumbing.NewHash(toCommit))
	if err != nil {
		return nil, corerr.NewUnknownCommit("", toCommit)
	}

	toTree, err := toObj.Tree()
	if err != nil {
		return nil, corerr.NewWorkspaceCorrupt(ws.Path, err)
	}

	if fromCommit == "" {
		return allTrackedFiles(toTree)
	}

	fromObj, err := repository.CommitObject(plumbing.NewHash(fromCommit))
	if err != nil {
		// fromCommit unknown in the local object store: degrade to full rebuild.
		return allTrackedFiles(toTree)
	}

	fromTree, err := fromObj.Tree()
	if err != nil {
		return allTrackedFiles(toTree)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, corerr.NewWorkspaceCorrupt(ws.Path, err)
	}

	var paths []string

	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			continue
		}

		switch action {
		case merkletrie.Insert, merkletrie.Modify:
			paths = append(paths, c.To.Name)
		}
	}

	return paths, nil
}

func allTrackedFiles(tree *object.Tree) ([]string, error) {
	var paths []string

	err := tree.Files().ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	})
	if err != nil {
		return nil, corerr.NewIOFailed("walk tree", err)
	}

	return paths, nil
}

// extensionLanguage maps a file extension to the language it indicates, for
// detectPrimaryLanguage's byte-count heuristic. Unknown extensions are
// ignored, not an error.
var extensionLanguage = map[string]string{
	".go":     "Go",
	".py":     "Python",
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".mjs":    "JavaScript",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".java":   "Java",
	".kt":     "Kotlin",
	".kts":    "Kotlin",
	".rb":     "Ruby",
	".php":    "PHP",
	".cs":     "C#",
	".cpp":    "C++",
	".cc":     "C++",
	".cxx":    "C++",
	".hpp":    "C++",
	".c":      "C",
	".h":      "C",
	".rs":     "Rust",
	".swift":  "Swift",
	".m":      "Objective-C",
	".mm":     "Objective-C",
	".scala":  "Scala",
	".clj":    "Clojure",
	".ex":     "Elixir",
	".exs":    "Elixir",
	".erl":    "Erlang",
	".hs":     "Haskell",
	".lua":    "Lua",
	".pl":     "Perl",
	".r":      "R",
	".dart":   "Dart",
	".sh":     "Shell",
	".bash":   "Shell",
	".zsh":    "Shell",
	".ps1":    "PowerShell",
	".sql":    "SQL",
	".html":   "HTML",
	".htm":    "HTML",
	".css":    "CSS",
	".scss":   "SCSS",
	".sass":   "Sass",
	".less":   "Less",
	".vue":    "Vue",
	".svelte": "Svelte",
	".yaml":   "YAML",
	".yml":    "YAML",
	".json":   "JSON",
	".xml":    "XML",
	".toml":   "TOML",
	".proto":  "Protocol Buffers",
	".graphql": "GraphQL",
	".md":     "Markdown",
	".fs":     "F#",
	".vb":     "Visual Basic",
	".groovy": "Groovy",
	".zig":    "Zig",
}

// skipDirs lists path components excluded from language detection.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "bin": true, "obj": true,
	"dist": true, "build": true, ".vs": true, ".idea": true, ".vscode": true,
	"__pycache__": true, ".next": true, "packages": true,
}

// DetectPrimaryLanguage sums on-disk byte sizes by extension and returns the
// best-represented language, or empty if none matched.
func (m *Manager) DetectPrimaryLanguage(_ context.Context, ws domain.Workspace) (string, error) {
	totals := make(map[string]int64)

	err := filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort scan
		}

		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}

			return nil
		}

		for dir := range skipDirs {
			if strings.Contains(path, string(filepath.Separator)+dir+string(filepath.Separator)) {
				return nil
			}
		}

		lang, ok := extensionLanguage[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}

		totals[lang] += info.Size()

		return nil
	})
	if err != nil {
		return "", corerr.NewIOFailed("walk workspace", err)
	}

	var (
		best     string
		bestSize int64
	)

	for lang, size := range totals {
		if size > bestSize {
			best, bestSize = lang, size
		}
	}

	return best, nil
}

// resolveCredential synthesizes a credential using the first non-empty
// source, in order: per-repository account/secret, platform app installation
// token, global configured token.
func (m *Manager) resolveCredential(ctx context.Context, repo domain.Repository) *githttp.BasicAuth {
	if repo.AccountSecret != "" {
		username := repo.AccountName
		if username == "" {
			username = "x-access-token"
		}

		return &githttp.BasicAuth{Username: username, Password: repo.AccountSecret}
	}

	if m.PlatformApp != nil {
		if token, ok := m.PlatformApp.InstallationToken(ctx, repo.Organization); ok && token != "" {
			return &githttp.BasicAuth{Username: "x-access-token", Password: token}
		}
	}

	if m.GlobalToken != "" {
		return &githttp.BasicAuth{Username: "x-access-token", Password: m.GlobalToken}
	}

	return nil
}

// InstallInsecureTransport registers an HTTP client that skips certificate
// verification for git's http(s) transport. This tolerates environments with
// inspection proxies; it is a compatibility decision, not a correctness one,
// and is gated behind Config.InsecureSkipTLSVerify (default true to match
// the documented source behavior).
func InstallInsecureTransport() {
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // deliberate, see package docs
		},
	}

	githttp.InstallProtocol("https", githttp.NewClient(client))
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, DefaultNetworkTimeout)
}
