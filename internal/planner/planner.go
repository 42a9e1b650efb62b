// Package planner implements the Workflow Planner (C7): given a deployment
// id it emits an ordered job DAG and persists it as DeploymentJobs. The
// planner never executes anything — that is internal/executor's job.
package planner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/extsvcmgr"
	"github.com/temps-sh/temps-core/internal/logstore"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

const defaultExposedPort = 3000

// Planner resolves a deployment's effective config and env vars, then emits
// its job DAG.
type Planner struct {
	store store.Store
	svcs  *extsvcmgr.Manager
}

func New(s store.Store, svcs *extsvcmgr.Manager) *Planner {
	return &Planner{store: s, svcs: svcs}
}

// Plan loads the deployment, resolves config and env vars, and persists
// the emitted DeploymentJobs (§4.7). It returns the jobs in emission order.
func (p *Planner) Plan(ctx context.Context, deploymentID string) ([]model.DeploymentJob, error) {
	deployment, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	project, err := p.store.GetProject(ctx, deployment.ProjectID)
	if err != nil {
		return nil, err
	}
	env, err := p.store.GetEnvironment(ctx, deployment.EnvironmentID)
	if err != nil {
		return nil, err
	}

	mergedConfig := mergeProjectEnvConfig(project, env)

	envVars, err := p.resolveEnvVars(ctx, project, env)
	if err != nil {
		return nil, err
	}

	snapshot := model.DeploymentConfigSnapshot{
		MergedConfig:      mergedConfig,
		EnvVarsAtPlanTime: envVars,
	}
	if err := p.store.UpdateDeploymentConfigSnapshot(ctx, deployment.ID, snapshot); err != nil {
		return nil, err
	}

	jobs := p.emitJobs(project, env, deployment, mergedConfig, envVars)

	if err := p.store.CreateJobs(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// mergeProjectEnvConfig merges project config with environment overrides
// (environment wins on conflicting keys, §4.7 step 2).
func mergeProjectEnvConfig(project model.Project, env model.Environment) map[string]any {
	out := map[string]any{}
	for k, v := range project.PresetConfig {
		out[k] = v
	}
	if env.ResourceCaps != nil {
		out["resourceCaps"] = env.ResourceCaps
	} else if project.ResourceCaps != nil {
		out["resourceCaps"] = project.ResourceCaps
	}
	buildArgs := map[string]string{}
	for k, v := range project.BuildArgs {
		buildArgs[k] = v
	}
	for k, v := range env.BuildArgs {
		buildArgs[k] = v
	}
	out["buildArgs"] = buildArgs
	out["exposedPort"] = resolveExposedPort(project, env)
	out["screenshotsEnabled"] = resolveScreenshots(project, env)
	return out
}

func resolveExposedPort(project model.Project, env model.Environment) int {
	if env.ExposedPort != nil {
		return *env.ExposedPort
	}
	if project.ExposedPort != nil {
		return *project.ExposedPort
	}
	return defaultExposedPort
}

func resolveScreenshots(project model.Project, env model.Environment) bool {
	if env.ScreenshotsEnabled != nil {
		return *env.ScreenshotsEnabled
	}
	return project.ScreenshotsEnabled
}

// resolveEnvVars assembles env vars ∪ runtime env vars from linked services
// ∪ automatic entries (§4.7 step 2).
func (p *Planner) resolveEnvVars(ctx context.Context, project model.Project, env model.Environment) (map[string]string, error) {
	out := map[string]string{}

	if p.svcs != nil {
		runtime, err := p.svcs.EffectiveEnvVars(ctx, project.ID, env.Slug)
		if err != nil {
			return nil, apperr.Wrap(apperr.External, err, "planner: failed to resolve linked service env vars")
		}
		for k, v := range runtime {
			out[k] = v
		}
	}

	out["HOST"] = "0.0.0.0"
	out["ERROR_TRACKING_DSN"] = fmt.Sprintf("noop://%s/%s", project.Slug, env.Slug)

	return out, nil
}

// resolveBranchRef applies the §4.7 priority: deployment.branch_ref →
// deployment.commit_sha → project.main_branch.
func resolveBranchRef(d model.Deployment, project model.Project) string {
	if d.BranchRef != "" {
		return d.BranchRef
	}
	if d.CommitSHA != "" {
		return d.CommitSHA
	}
	return project.MainBranch
}

func newJobID() string {
	return uuid.NewString()
}

func (p *Planner) emitJobs(project model.Project, env model.Environment, d model.Deployment, mergedConfig map[string]any, envVars map[string]string) []model.DeploymentJob {
	var jobs []model.DeploymentJob
	order := 0
	next := func() int {
		order++
		return order
	}

	var downloadJobID string
	if project.HasGitInfo() {
		downloadJobID = newJobID()
		jobs = append(jobs, model.DeploymentJob{
			DeploymentID:          d.ID,
			JobID:                 downloadJobID,
			JobType:               model.JobDownloadRepo,
			Name:                  "Download repository",
			RequiredForCompletion: true,
			Status:                model.JobPending,
			ExecutionOrder:        next(),
			LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, downloadJobID),
			Config: map[string]any{
				"repoOwner":    project.RepoOwner,
				"repoName":     project.RepoName,
				"branchRef":    resolveBranchRef(d, project),
				"connectionId": project.ConnectionID,
			},
		})
	}

	buildJobID := newJobID()
	var buildDeps []string
	if downloadJobID != "" {
		buildDeps = []string{downloadJobID}
	}
	jobs = append(jobs, model.DeploymentJob{
		DeploymentID:          d.ID,
		JobID:                 buildJobID,
		JobType:               model.JobBuildImage,
		Name:                  "Build image",
		Dependencies:          buildDeps,
		RequiredForCompletion: true,
		Status:                model.JobPending,
		ExecutionOrder:        next(),
		LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, buildJobID),
		Config: map[string]any{
			"dockerfilePath": ".temps/Dockerfile",
			"buildContext":   ".",
			"buildArgs":      copyStringMap(envVars),
			"preset":         project.Preset,
			"imageTag":       fmt.Sprintf("temps-%s:%s", project.Slug, d.ID),
		},
	})

	deployJobID := newJobID()
	jobs = append(jobs, model.DeploymentJob{
		DeploymentID:          d.ID,
		JobID:                 deployJobID,
		JobType:               model.JobDeployContainer,
		Name:                  "Deploy container",
		Dependencies:          []string{buildJobID},
		RequiredForCompletion: true,
		Status:                model.JobPending,
		ExecutionOrder:        next(),
		LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, deployJobID),
		Config: map[string]any{
			"exposedPort": mergedConfig["exposedPort"],
			"replicas":    1,
			"envVars":     copyStringMap(envVars),
			"image":       fmt.Sprintf("temps-%s:%s", project.Slug, d.ID),
		},
	})

	markJobID := newJobID()
	jobs = append(jobs, model.DeploymentJob{
		DeploymentID:          d.ID,
		JobID:                 markJobID,
		JobType:               model.JobMarkComplete,
		Name:                  "Mark deployment complete",
		Dependencies:          []string{deployJobID},
		RequiredForCompletion: true,
		Status:                model.JobPending,
		ExecutionOrder:        next(),
		LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, markJobID),
		Config:                map[string]any{},
	})

	if project.HasGitInfo() {
		cronsJobID := newJobID()
		jobs = append(jobs, model.DeploymentJob{
			DeploymentID:          d.ID,
			JobID:                 cronsJobID,
			JobType:               model.JobConfigureCrons,
			Name:                  "Configure crons",
			Dependencies:          []string{markJobID},
			RequiredForCompletion: false,
			Status:                model.JobPending,
			ExecutionOrder:        next(),
			LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, cronsJobID),
			Config:                map[string]any{"manifestPath": ".temps.yaml"},
		})
	}

	if screenshots, _ := mergedConfig["screenshotsEnabled"].(bool); screenshots {
		shotJobID := newJobID()
		jobs = append(jobs, model.DeploymentJob{
			DeploymentID:          d.ID,
			JobID:                 shotJobID,
			JobType:               model.JobTakeScreenshot,
			Name:                  "Take screenshot",
			Dependencies:          []string{markJobID},
			RequiredForCompletion: false,
			Status:                model.JobPending,
			ExecutionOrder:        next(),
			LogPath:               logstore.Path(project.Slug, env.Slug, d.CreatedAt, d.ID, shotJobID),
			Config:                map[string]any{},
		})
	}

	return jobs
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
