package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

func seedDAG(t *testing.T, s *store.Memory) model.Deployment {
	t.Helper()
	require.NoError(t, s.CreateProject(context.Background(), model.Project{ID: "p1", Slug: "p1"}))
	s.PutEnvironment(model.Environment{ID: "e1", ProjectID: "p1"})
	d := model.Deployment{ID: "d1", ProjectID: "p1", EnvironmentID: "e1", State: model.DeploymentRunning, CreatedAt: time.Now()}
	require.NoError(t, s.CreateDeployment(context.Background(), d))

	jobs := []model.DeploymentJob{
		{DeploymentID: "d1", JobID: "j1", JobType: model.JobDownloadRepo, Status: model.JobPending, RequiredForCompletion: true},
		{DeploymentID: "d1", JobID: "j2", JobType: model.JobBuildImage, Status: model.JobPending, RequiredForCompletion: true, Dependencies: []string{"j1"}},
		{DeploymentID: "d1", JobID: "j3", JobType: model.JobMarkComplete, Status: model.JobPending, RequiredForCompletion: true, Dependencies: []string{"j2"}},
		{DeploymentID: "d1", JobID: "j4", JobType: model.JobConfigureCrons, Status: model.JobPending, RequiredForCompletion: false, Dependencies: []string{"j3"}},
	}
	require.NoError(t, s.CreateJobs(context.Background(), jobs))
	return d
}

func TestRunSucceedsWhenAllRequiredJobsSucceed(t *testing.T) {
	s := store.NewMemory()
	seedDAG(t, s)

	e := New(s, nil, nil)
	e.RegisterHandler(model.JobDownloadRepo, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })
	e.RegisterHandler(model.JobBuildImage, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })
	e.RegisterHandler(model.JobMarkComplete, markDeploymentCompleteHandler(s, nil))
	e.RegisterHandler(model.JobConfigureCrons, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })

	require.NoError(t, e.Run(context.Background(), "d1"))

	d, err := s.GetDeployment(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, model.DeploymentCompleted, d.State)

	env, err := s.GetEnvironment(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, env.CurrentDeploymentID)
	require.Equal(t, "d1", *env.CurrentDeploymentID)
}

func TestRunFailsDeploymentWhenRequiredJobFails(t *testing.T) {
	s := store.NewMemory()
	seedDAG(t, s)

	e := New(s, nil, nil)
	e.RegisterHandler(model.JobDownloadRepo, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })
	e.RegisterHandler(model.JobBuildImage, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error {
		return require.AnError
	})
	e.RegisterHandler(model.JobMarkComplete, markDeploymentCompleteHandler(s, nil))
	e.RegisterHandler(model.JobConfigureCrons, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })

	require.NoError(t, e.Run(context.Background(), "d1"))

	d, err := s.GetDeployment(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, model.DeploymentFailed, d.State)
	require.NotEmpty(t, d.CancelledReason)

	jobs, err := s.ListJobs(context.Background(), "d1")
	require.NoError(t, err)
	var markJob, cronsJob model.DeploymentJob
	for _, j := range jobs {
		if j.JobID == "j3" {
			markJob = j
		}
		if j.JobID == "j4" {
			cronsJob = j
		}
	}
	require.Equal(t, model.JobSkipped, markJob.Status)
	require.Equal(t, model.JobSkipped, cronsJob.Status)
}

func TestOptionalJobFailureDoesNotFailDeployment(t *testing.T) {
	s := store.NewMemory()
	seedDAG(t, s)

	e := New(s, nil, nil)
	e.RegisterHandler(model.JobDownloadRepo, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })
	e.RegisterHandler(model.JobBuildImage, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })
	e.RegisterHandler(model.JobMarkComplete, markDeploymentCompleteHandler(s, nil))
	e.RegisterHandler(model.JobConfigureCrons, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error {
		return require.AnError
	})

	require.NoError(t, e.Run(context.Background(), "d1"))

	d, err := s.GetDeployment(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, model.DeploymentCompleted, d.State)
}
