package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/model"
)

func mustParse(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMemoryProjectRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.CreateProject(ctx, model.Project{ID: "p1", Slug: "p1", Name: "P One"})
	require.NoError(t, err)

	_, err = m.GetProject(ctx, "missing")
	require.Error(t, err)

	got, err := m.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "P One", got.Name)

	require.NoError(t, m.TouchLastDeployment(ctx, "p1"))
	got, _ = m.GetProject(ctx, "p1")
	require.NotNil(t, got.LastDeployment)
}

func TestMemoryJobsScopedByDeployment(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateJobs(ctx, []model.DeploymentJob{
		{DeploymentID: "d1", JobID: "j1", JobType: model.JobDownloadRepo, Status: model.JobPending},
		{DeploymentID: "d1", JobID: "j2", JobType: model.JobBuildImage, Status: model.JobPending},
		{DeploymentID: "d2", JobID: "j1", JobType: model.JobDownloadRepo, Status: model.JobPending},
	}))

	jobs, err := m.ListJobs(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	jobs[0].Status = model.JobSucceeded
	require.NoError(t, m.UpdateJob(ctx, jobs[0]))
	updatedID := jobs[0].JobID

	jobs, _ = m.ListJobs(ctx, "d1")
	var found bool
	for _, j := range jobs {
		if j.JobID == updatedID && j.Status == model.JobSucceeded {
			found = true
		}
	}
	require.True(t, found)

	d2jobs, err := m.ListJobs(ctx, "d2")
	require.NoError(t, err)
	require.Len(t, d2jobs, 1)
}

func TestMemoryLinkServiceIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateService(ctx, model.ExternalService{ID: "s1", Slug: "s1", Name: "svc"}))
	require.NoError(t, m.LinkService(ctx, "p1", "s1"))
	require.NoError(t, m.LinkService(ctx, "p1", "s1"))

	linked, err := m.ListLinkedServices(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, linked, 1)

	require.NoError(t, m.UnlinkService(ctx, "p1", "s1"))
	linked, _ = m.ListLinkedServices(ctx, "p1")
	require.Len(t, linked, 0)
}

func TestMemoryWithTxCommitsAtomically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateProject(ctx, model.Project{ID: "p1", Slug: "p1"}))
	require.NoError(t, m.CreateDeployment(ctx, model.Deployment{ID: "d1", ProjectID: "p1", State: model.DeploymentRunning}))
	m.PutEnvironment(model.Environment{ID: "e1", ProjectID: "p1"})

	err := m.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.UpdateDeploymentState(ctx, "d1", model.DeploymentCompleted, ""); err != nil {
			return err
		}
		if err := tx.SetCurrentDeployment(ctx, "e1", "d1"); err != nil {
			return err
		}
		return tx.TouchLastDeployment(ctx, "p1")
	})
	require.NoError(t, err)

	d, _ := m.GetDeployment(ctx, "d1")
	require.Equal(t, model.DeploymentCompleted, d.State)
	require.NotNil(t, d.FinishedAt)

	e, _ := m.GetEnvironment(ctx, "e1")
	require.NotNil(t, e.CurrentDeploymentID)
	require.Equal(t, "d1", *e.CurrentDeploymentID)
}

func TestMemoryListExpiredBackups(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	past := mustParse("2020-01-01T00:00:00Z")
	future := mustParse("2099-01-01T00:00:00Z")

	require.NoError(t, m.CreateBackup(ctx, model.Backup{ID: "b1", ExpiresAt: &past}))
	require.NoError(t, m.CreateBackup(ctx, model.Backup{ID: "b2", ExpiresAt: &future}))

	expired, err := m.ListExpiredBackups(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "b1", expired[0].ID)
}
