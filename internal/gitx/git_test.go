package gitx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/testutil"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"acme":       "acme",
		"a/b":        "a_b",
		`a\b`:        "a_b",
		"a..b":       "a_b",
		"  spaced  ": "spaced",
	}

	for in, want := range cases {
		got, err := Sanitize(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"acme", "a/b/c", "..", `a\..\b`, "normal-name"}

	for _, in := range inputs {
		once, err := Sanitize(in)
		require.NoError(t, err)

		twice, err := Sanitize(once)
		require.NoError(t, err)

		require.Equal(t, once, twice)
		require.NotContains(t, once, "/")
		require.NotContains(t, once, `\`)
		require.NotContains(t, once, "..")
	}
}

func TestSanitizeEmptyResultIsError(t *testing.T) {
	_, err := Sanitize("")
	require.Error(t, err)

	_, err = Sanitize("   ")
	require.Error(t, err)
}

func TestManagerPrepareFullClone(t *testing.T) {
	srcDir := t.TempDir()
	testutil.CreateRepoWithCommit(t, srcDir)

	root := t.TempDir()
	mgr := New(root, false, nil, "")

	repo := domain.Repository{Organization: "acme", Name: "widgets", RemoteURL: srcDir}

	ws, err := mgr.Prepare(context.Background(), repo, "master", "")
	require.NoError(t, err)
	require.NotEmpty(t, ws.CurrentCommitID)
	require.Equal(t, "", ws.PreviousCommitID)
	require.False(t, ws.IsIncremental())

	_, statErr := os.Stat(filepath.Join(ws.Path, "README.md"))
	require.NoError(t, statErr)
}

func TestManagerDetectPrimaryLanguage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), make([]byte, 1000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "huge.js"), make([]byte, 5000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.py"), make([]byte, 10), 0o644))

	mgr := New(root, false, nil, "")

	lang, err := mgr.DetectPrimaryLanguage(context.Background(), domain.Workspace{Path: root})
	require.NoError(t, err)
	require.Equal(t, "Go", lang)
}

func TestManagerResolveCredentialPrecedence(t *testing.T) {
	mgr := New(t.TempDir(), false, nil, "global-token")

	repoWithAccount := domain.Repository{AccountName: "bot", AccountSecret: "repo-secret"}
	auth := mgr.resolveCredential(context.Background(), repoWithAccount)
	require.NotNil(t, auth)
	require.Equal(t, "repo-secret", auth.Password)

	repoWithoutAccount := domain.Repository{}
	auth = mgr.resolveCredential(context.Background(), repoWithoutAccount)
	require.NotNil(t, auth)
	require.Equal(t, "global-token", auth.Password)
}

type stubPlatformApp struct {
	token string
	ok    bool
}

func (s stubPlatformApp) InstallationToken(context.Context, string) (string, bool) {
	return s.token, s.ok
}

func TestManagerResolveCredentialInstallationToken(t *testing.T) {
	mgr := New(t.TempDir(), false, stubPlatformApp{token: "install-token", ok: true}, "global-token")

	auth := mgr.resolveCredential(context.Background(), domain.Repository{})
	require.NotNil(t, auth)
	require.Equal(t, "install-token", auth.Password)
}
