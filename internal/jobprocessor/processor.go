// Package jobprocessor implements the Job Processor (C9): it subscribes to
// the event bus, filters to GitPushEvent, and materialises + runs a
// deployment for each qualifying push.
package jobprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/executor"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/planner"
	"github.com/temps-sh/temps-core/internal/store"
)

// CommitFetcher resolves commit metadata for a push; it is an injection
// seam since the concrete git provider client is out of this core's scope.
type CommitFetcher func(ctx context.Context, connectionID, owner, repo, ref string) (model.CommitInfo, error)

// Processor drives deployment creation from git push events (§4.9).
type Processor struct {
	store   store.Store
	bus     *events.Bus
	planner *planner.Planner
	exec    *executor.Executor
	commits CommitFetcher
	log     *zap.Logger
}

func New(s store.Store, bus *events.Bus, p *planner.Planner, e *executor.Executor, commits CommitFetcher, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	if commits == nil {
		commits = func(ctx context.Context, connectionID, owner, repo, ref string) (model.CommitInfo, error) {
			return model.CommitInfo{}, nil
		}
	}
	return &Processor{store: s, bus: bus, planner: p, exec: e, commits: commits, log: log}
}

// Run subscribes to the bus and processes GitPushEvents until ctx is done.
// Each event is handled in its own goroutine so a slow planner never blocks
// later webhooks (§4.9).
func (p *Processor) Run(ctx context.Context) {
	sub := p.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.Kind != events.KindGitPush || ev.GitPush == nil {
				continue
			}
			push := *ev.GitPush
			go p.handlePush(ctx, push)
		}
	}
}

func (p *Processor) handlePush(ctx context.Context, push events.GitPushPayload) {
	deploymentID, err := p.process(ctx, push)
	if err != nil {
		p.log.Warn("jobprocessor: push handling failed",
			zap.String("project", push.ProjectID), zap.Error(err))
		if deploymentID != "" {
			_ = p.store.UpdateDeploymentState(ctx, deploymentID, model.DeploymentFailed, err.Error())
		}
		return
	}
}

func (p *Processor) process(ctx context.Context, push events.GitPushPayload) (string, error) {
	project, err := p.store.GetProject(ctx, push.ProjectID)
	if err != nil {
		// Per §4.9 step 1: ignore pushes for a project that no longer exists.
		return "", nil
	}

	env, err := p.selectEnvironment(ctx, project.ID, push.Branch)
	if err != nil {
		return "", err
	}

	n, err := p.store.CountDeploymentsForProject(ctx, project.ID)
	if err != nil {
		return "", err
	}

	commit, err := p.commits(ctx, project.ConnectionID, push.Owner, push.Repo, push.Commit)
	if err != nil {
		p.log.Warn("jobprocessor: commit metadata fetch failed, continuing with empty fields",
			zap.String("project", project.ID), zap.Error(err))
	}

	deployment := model.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		EnvironmentID: env.ID,
		Slug:          fmt.Sprintf("%s-%d", project.Slug, n+1),
		BranchRef:     push.Branch,
		TagRef:        push.Tag,
		CommitSHA:     push.Commit,
		CommitMessage: commit.Message,
		CommitAuthor:  commit.Author,
		Commit:        commit,
		State:         model.DeploymentPending,
		CreatedAt:     now(),
	}
	if err := p.store.CreateDeployment(ctx, deployment); err != nil {
		return "", err
	}
	if err := p.store.TouchLastDeployment(ctx, project.ID); err != nil {
		return deployment.ID, err
	}

	jobs, err := p.planner.Plan(ctx, deployment.ID)
	if err != nil {
		return deployment.ID, err
	}
	if len(jobs) == 0 {
		return deployment.ID, nil
	}

	if err := p.store.UpdateDeploymentState(ctx, deployment.ID, model.DeploymentRunning, ""); err != nil {
		return deployment.ID, err
	}

	go func() {
		runCtx := context.Background()
		if err := p.exec.Run(runCtx, deployment.ID); err != nil {
			p.log.Warn("jobprocessor: executor run failed", zap.String("deployment", deployment.ID), zap.Error(err))
		}
	}()

	return deployment.ID, nil
}

// selectEnvironment applies the Open Question resolution: the first
// environment (ascending id) whose branch filter matches the push branch or
// is empty (matches every branch).
func (p *Processor) selectEnvironment(ctx context.Context, projectID, branch string) (model.Environment, error) {
	envs, err := p.store.ListEnvironmentsByProject(ctx, projectID)
	if err != nil {
		return model.Environment{}, err
	}
	var candidates []model.Environment
	for _, e := range envs {
		if e.MatchesBranch(branch) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return model.Environment{}, apperr.NotFoundf("jobprocessor: no environment matches branch %q for project %s", branch, projectID)
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ID < best.ID {
			best = c
		}
	}
	return best, nil
}

var now = time.Now
