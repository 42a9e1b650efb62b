package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

func seedDeployment(t *testing.T, s *store.Memory, hasGit bool, screenshots bool) model.Deployment {
	t.Helper()
	project := model.Project{
		ID: "proj-1", Slug: "proj-1", Name: "Proj", MainBranch: "main",
		ScreenshotsEnabled: screenshots,
	}
	if hasGit {
		project.RepoOwner = "acme"
		project.RepoName = "widgets"
	}
	require.NoError(t, s.CreateProject(context.Background(), project))
	s.PutEnvironment(model.Environment{ID: "env-1", ProjectID: "proj-1", Slug: "production"})

	d := model.Deployment{ID: "dep-1", ProjectID: "proj-1", EnvironmentID: "env-1", State: model.DeploymentPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateDeployment(context.Background(), d))
	return d
}

func TestPlanEmitsFullDAGWithGitAndScreenshots(t *testing.T) {
	s := store.NewMemory()
	seedDeployment(t, s, true, true)
	p := New(s, nil)

	jobs, err := p.Plan(context.Background(), "dep-1")
	require.NoError(t, err)

	byType := map[model.JobType]model.DeploymentJob{}
	for _, j := range jobs {
		byType[j.JobType] = j
	}

	require.Contains(t, byType, model.JobDownloadRepo)
	require.Contains(t, byType, model.JobBuildImage)
	require.Contains(t, byType, model.JobDeployContainer)
	require.Contains(t, byType, model.JobMarkComplete)
	require.Contains(t, byType, model.JobConfigureCrons)
	require.Contains(t, byType, model.JobTakeScreenshot)

	require.Equal(t, []string{byType[model.JobDownloadRepo].JobID}, byType[model.JobBuildImage].Dependencies)
	require.Equal(t, []string{byType[model.JobMarkComplete].JobID}, byType[model.JobConfigureCrons].Dependencies)
	require.True(t, byType[model.JobDownloadRepo].RequiredForCompletion)
	require.False(t, byType[model.JobConfigureCrons].RequiredForCompletion)
}

func TestPlanSkipsDownloadAndCronsWithoutGitInfo(t *testing.T) {
	s := store.NewMemory()
	seedDeployment(t, s, false, false)
	p := New(s, nil)

	jobs, err := p.Plan(context.Background(), "dep-1")
	require.NoError(t, err)

	for _, j := range jobs {
		require.NotEqual(t, model.JobDownloadRepo, j.JobType)
		require.NotEqual(t, model.JobConfigureCrons, j.JobType)
		require.NotEqual(t, model.JobTakeScreenshot, j.JobType)
	}

	byType := map[model.JobType]model.DeploymentJob{}
	for _, j := range jobs {
		byType[j.JobType] = j
	}
	require.Empty(t, byType[model.JobBuildImage].Dependencies)
}

func TestResolveBranchRefPriority(t *testing.T) {
	project := model.Project{MainBranch: "main"}
	require.Equal(t, "feature/x", resolveBranchRef(model.Deployment{BranchRef: "feature/x", CommitSHA: "abc"}, project))
	require.Equal(t, "abc", resolveBranchRef(model.Deployment{CommitSHA: "abc"}, project))
	require.Equal(t, "main", resolveBranchRef(model.Deployment{}, project))
}
