package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RepoFetcher fetches and unpacks a project's repository tree at ref into
// destDir. The concrete git-provider client (GitHub/GitLab auth, private
// repo access via connectionID) is injected at the cmd layer and out of
// this core's scope (§1 Non-goals); DefaultGitFetcher below covers the
// common public-HTTPS case.
type RepoFetcher func(ctx context.Context, connectionID, owner, repo, ref, destDir string) error

// DefaultGitFetcher shells out to the git binary to clone owner/repo at ref
// into destDir via os/exec. It assumes a public github.com remote.
func DefaultGitFetcher(ctx context.Context, connectionID, owner, repo, ref, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("git fetch: failed to clear workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return fmt.Errorf("git fetch: failed to prepare workspace: %w", err)
	}
	url := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", ref, url, destDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s@%s failed: %w: %s", url, ref, err, out)
	}
	return nil
}

// workspaceDir is the deterministic local checkout path for a deployment,
// shared by downloadRepoHandler (which populates it) and buildImageHandler
// (which reads it) without threading workspace state through job.Config.
func workspaceDir(deploymentID string) string {
	return filepath.Join(os.TempDir(), "temps-workspaces", deploymentID)
}
