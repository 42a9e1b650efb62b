package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/model"
)

// fakeBuildAdapter records the build context/tags it was asked to build;
// every other method is an unused no-op.
type fakeBuildAdapter struct {
	buildCalls  int
	lastTags    []string
	lastContext []byte
	buildErr    error
}

func (f *fakeBuildAdapter) Pull(ctx context.Context, image, tag string) error { return nil }
func (f *fakeBuildAdapter) Build(ctx context.Context, buildContext []byte, opts container.BuildOptions) error {
	f.buildCalls++
	f.lastTags = opts.Tags
	f.lastContext = buildContext
	return f.buildErr
}
func (f *fakeBuildAdapter) EnsureNetwork(ctx context.Context, name string) error { return nil }
func (f *fakeBuildAdapter) Create(ctx context.Context, spec container.Spec) (string, error) {
	return "", nil
}
func (f *fakeBuildAdapter) Start(ctx context.Context, id string) error { return nil }
func (f *fakeBuildAdapter) Stop(ctx context.Context, id string, grace time.Duration) error {
	return nil
}
func (f *fakeBuildAdapter) Remove(ctx context.Context, id string, force bool) error { return nil }
func (f *fakeBuildAdapter) Exec(ctx context.Context, id string, argv []string, env map[string]string) (container.ExecResult, error) {
	return container.ExecResult{}, nil
}
func (f *fakeBuildAdapter) Upload(ctx context.Context, id string, tarBytes []byte, destPath string) error {
	return nil
}
func (f *fakeBuildAdapter) Download(ctx context.Context, id string, path string) ([]byte, error) {
	return nil, nil
}
func (f *fakeBuildAdapter) Inspect(ctx context.Context, id string) (container.Status, error) {
	return container.Status{}, nil
}
func (f *fakeBuildAdapter) WaitHealthy(ctx context.Context, id string, deadline time.Duration) error {
	return nil
}
func (f *fakeBuildAdapter) FindByLabels(ctx context.Context, labels map[string]string) ([]string, error) {
	return nil, nil
}

func cleanWorkspace(t *testing.T, deploymentID string) {
	t.Helper()
	dir := workspaceDir(deploymentID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
}

func TestConfigureCronsHandlerNoManifestIsNoop(t *testing.T) {
	h := configureCronsHandler()
	err := h(context.Background(), model.DeploymentJob{}, model.Deployment{})
	require.NoError(t, err)
}

func TestConfigureCronsHandlerValidManifest(t *testing.T) {
	h := configureCronsHandler()
	job := model.DeploymentJob{Config: map[string]any{"manifestYAML": `
crons:
  - name: nightly-cleanup
    schedule: "0 2 * * *"
    command: "rm -rf /tmp/cache"
`}}
	require.NoError(t, h(context.Background(), job, model.Deployment{}))
}

func TestConfigureCronsHandlerInvalidSchedule(t *testing.T) {
	h := configureCronsHandler()
	job := model.DeploymentJob{Config: map[string]any{"manifestYAML": `
crons:
  - name: broken
    schedule: "not a schedule"
    command: "echo hi"
`}}
	err := h(context.Background(), job, model.Deployment{})
	require.Error(t, err)
}

func TestConfigureCronsHandlerDuplicateName(t *testing.T) {
	h := configureCronsHandler()
	job := model.DeploymentJob{Config: map[string]any{"manifestYAML": `
crons:
  - name: dup
    schedule: "* * * * *"
    command: "echo 1"
  - name: dup
    schedule: "* * * * *"
    command: "echo 2"
`}}
	err := h(context.Background(), job, model.Deployment{})
	require.Error(t, err)
}

func TestConfigureCronsHandlerMissingCommand(t *testing.T) {
	h := configureCronsHandler()
	job := model.DeploymentJob{Config: map[string]any{"manifestYAML": `
crons:
  - name: no-command
    schedule: "* * * * *"
`}}
	err := h(context.Background(), job, model.Deployment{})
	require.Error(t, err)
}

func TestDownloadRepoHandlerRequiresBranchRef(t *testing.T) {
	h := downloadRepoHandler(nil)
	err := h(context.Background(), model.DeploymentJob{Config: map[string]any{}}, model.Deployment{ID: "d1"})
	require.Error(t, err)
}

func TestDownloadRepoHandlerNilFetcherFailsExplicitly(t *testing.T) {
	h := downloadRepoHandler(nil)
	job := model.DeploymentJob{Config: map[string]any{"branchRef": "main"}}
	err := h(context.Background(), job, model.Deployment{ID: "d1"})
	require.Error(t, err)
}

func TestDownloadRepoHandlerCallsFetcherWithWorkspaceDir(t *testing.T) {
	deployment := model.Deployment{ID: "d-download"}
	cleanWorkspace(t, deployment.ID)

	var gotDest, gotOwner, gotRepo, gotRef string
	fetch := RepoFetcher(func(ctx context.Context, connectionID, owner, repo, ref, destDir string) error {
		gotOwner, gotRepo, gotRef, gotDest = owner, repo, ref, destDir
		return nil
	})

	h := downloadRepoHandler(fetch)
	job := model.DeploymentJob{Config: map[string]any{
		"branchRef": "main",
		"repoOwner": "acme",
		"repoName":  "widgets",
	}}
	require.NoError(t, h(context.Background(), job, deployment))
	require.Equal(t, "acme", gotOwner)
	require.Equal(t, "widgets", gotRepo)
	require.Equal(t, "main", gotRef)
	require.Equal(t, workspaceDir(deployment.ID), gotDest)
}

func TestBuildImageHandlerRequiresImageTag(t *testing.T) {
	h := buildImageHandler(&fakeBuildAdapter{})
	err := h(context.Background(), model.DeploymentJob{Config: map[string]any{}}, model.Deployment{ID: "d1"})
	require.Error(t, err)
}

func TestBuildImageHandlerGeneratesDockerfileWhenMissing(t *testing.T) {
	deployment := model.Deployment{ID: "d-build"}
	cleanWorkspace(t, deployment.ID)

	adapter := &fakeBuildAdapter{}
	h := buildImageHandler(adapter)
	job := model.DeploymentJob{Config: map[string]any{
		"imageTag":       "temps-widgets:d-build",
		"dockerfilePath": "Dockerfile",
		"preset":         "NextJs",
	}}
	require.NoError(t, h(context.Background(), job, deployment))

	require.Equal(t, 1, adapter.buildCalls)
	require.Equal(t, []string{"temps-widgets:d-build"}, adapter.lastTags)
	require.NotEmpty(t, adapter.lastContext)

	generated, err := os.ReadFile(filepath.Join(workspaceDir(deployment.ID), "Dockerfile"))
	require.NoError(t, err)
	require.Contains(t, string(generated), "node:20-alpine")
}

func TestBuildImageHandlerUsesExistingDockerfile(t *testing.T) {
	deployment := model.Deployment{ID: "d-build-existing"}
	cleanWorkspace(t, deployment.ID)
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir(deployment.ID), "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	adapter := &fakeBuildAdapter{}
	h := buildImageHandler(adapter)
	job := model.DeploymentJob{Config: map[string]any{
		"imageTag":       "temps-widgets:d-build-existing",
		"dockerfilePath": "Dockerfile",
	}}
	require.NoError(t, h(context.Background(), job, deployment))

	generated, err := os.ReadFile(filepath.Join(workspaceDir(deployment.ID), "Dockerfile"))
	require.NoError(t, err)
	require.Equal(t, "FROM scratch\n", string(generated))
}

func TestBuildImageHandlerPropagatesBuildError(t *testing.T) {
	deployment := model.Deployment{ID: "d-build-err"}
	cleanWorkspace(t, deployment.ID)

	adapter := &fakeBuildAdapter{buildErr: apperr.New(apperr.External, "build_image: boom", nil)}
	h := buildImageHandler(adapter)
	job := model.DeploymentJob{Config: map[string]any{"imageTag": "temps-widgets:d-build-err"}}
	require.Error(t, h(context.Background(), job, deployment))
}
