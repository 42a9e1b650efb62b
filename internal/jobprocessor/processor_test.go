package jobprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/executor"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/planner"
	"github.com/temps-sh/temps-core/internal/store"
)

func TestSelectEnvironmentPrefersLowestIDMatchingBranch(t *testing.T) {
	s := store.NewMemory()
	s.PutEnvironment(model.Environment{ID: "e2", ProjectID: "p1", BranchFilter: "main"})
	s.PutEnvironment(model.Environment{ID: "e1", ProjectID: "p1", BranchFilter: "main"})
	s.PutEnvironment(model.Environment{ID: "e3", ProjectID: "p1", BranchFilter: "staging"})

	p := New(s, events.New(nil), nil, nil, nil, nil)
	env, err := p.selectEnvironment(context.Background(), "p1", "main")
	require.NoError(t, err)
	require.Equal(t, "e1", env.ID)
}

func TestSelectEnvironmentFallsBackToEmptyFilter(t *testing.T) {
	s := store.NewMemory()
	s.PutEnvironment(model.Environment{ID: "e1", ProjectID: "p1", BranchFilter: ""})
	s.PutEnvironment(model.Environment{ID: "e2", ProjectID: "p1", BranchFilter: "staging"})

	p := New(s, events.New(nil), nil, nil, nil, nil)
	env, err := p.selectEnvironment(context.Background(), "p1", "feature/x")
	require.NoError(t, err)
	require.Equal(t, "e1", env.ID)
}

func TestProcessCreatesDeploymentAndRunsExecutor(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.CreateProject(context.Background(), model.Project{ID: "p1", Slug: "p1", MainBranch: "main"}))
	s.PutEnvironment(model.Environment{ID: "e1", ProjectID: "p1"})

	bus := events.New(nil)
	pl := planner.New(s, nil)
	ex := executor.New(s, bus, nil)
	ex.RegisterHandler(model.JobMarkComplete, func(ctx context.Context, job model.DeploymentJob, d model.Deployment) error { return nil })

	proc := New(s, bus, pl, ex, nil, nil)

	deploymentID, err := proc.process(context.Background(), events.GitPushPayload{ProjectID: "p1", Branch: "main", Commit: "abc123"})
	require.NoError(t, err)
	require.NotEmpty(t, deploymentID)

	d, err := s.GetDeployment(context.Background(), deploymentID)
	require.NoError(t, err)
	require.Equal(t, "main", d.BranchRef)

	// give the background executor goroutine a moment to settle the DAG.
	require.Eventually(t, func() bool {
		d, _ := s.GetDeployment(context.Background(), deploymentID)
		return d.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}
