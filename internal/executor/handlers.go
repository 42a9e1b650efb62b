package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// DefaultHandlers wires the built-in job handlers (§4.8) against a
// container adapter, a repo fetcher, the store and the event bus, and
// registers them on e.
func DefaultHandlers(e *Executor, s store.Store, adapter container.Adapter, fetch RepoFetcher, bus *events.Bus) {
	e.RegisterHandler(model.JobDownloadRepo, downloadRepoHandler(fetch))
	e.RegisterHandler(model.JobBuildImage, buildImageHandler(adapter))
	e.RegisterHandler(model.JobDeployContainer, deployContainerHandler(adapter, s))
	e.RegisterHandler(model.JobMarkComplete, markDeploymentCompleteHandler(s, bus))
	e.RegisterHandler(model.JobConfigureCrons, configureCronsHandler())
	e.RegisterHandler(model.JobTakeScreenshot, takeScreenshotHandler())
}

// downloadRepoHandler fetches and unpacks the project tree at the
// configured ref into this deployment's workspace directory via fetch. A
// nil fetch makes the missing git-provider boundary an explicit failure
// rather than a silent success.
func downloadRepoHandler(fetch RepoFetcher) Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		branchRef, _ := job.Config["branchRef"].(string)
		if branchRef == "" {
			return apperr.Validationf("download_repo: branchRef is required")
		}
		if fetch == nil {
			return apperr.New(apperr.Internal, "download_repo: no repo fetcher configured", nil)
		}
		owner, _ := job.Config["repoOwner"].(string)
		repo, _ := job.Config["repoName"].(string)
		connectionID, _ := job.Config["connectionId"].(string)

		if err := fetch(ctx, connectionID, owner, repo, branchRef, workspaceDir(deployment.ID)); err != nil {
			return apperr.Wrap(apperr.External, err, "download_repo: fetch failed")
		}
		return nil
	}
}

// buildImageHandler generates a Dockerfile from the project's preset if the
// workspace doesn't already carry one, tars the workspace as the build
// context, and invokes the container runtime build (§4.8).
func buildImageHandler(adapter container.Adapter) Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		if adapter == nil {
			return apperr.New(apperr.Internal, "build_image: no container adapter configured", nil)
		}
		imageTag, _ := job.Config["imageTag"].(string)
		if imageTag == "" {
			return apperr.Validationf("build_image: imageTag is required")
		}
		dockerfilePath, _ := job.Config["dockerfilePath"].(string)
		if dockerfilePath == "" {
			dockerfilePath = "Dockerfile"
		}

		dir := workspaceDir(deployment.ID)
		fullPath := filepath.Join(dir, dockerfilePath)
		if _, err := os.Stat(fullPath); err != nil {
			preset, _ := job.Config["preset"].(string)
			if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
				return apperr.Wrap(apperr.Internal, err, "build_image: failed to prepare workspace")
			}
			if err := os.WriteFile(fullPath, []byte(generateDockerfile(preset)), 0o644); err != nil {
				return apperr.Wrap(apperr.Internal, err, "build_image: failed to write generated Dockerfile")
			}
		}

		buildCtx, err := container.TarDir(dir)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "build_image: failed to archive build context")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		return adapter.Build(ctx, buildCtx, container.BuildOptions{Tags: []string{imageTag}, Dockerfile: dockerfilePath})
	}
}

// deployContainerHandler creates and starts the deployment's container,
// tolerating (and superseding) a prior container for the same deployment id.
func deployContainerHandler(adapter container.Adapter, s store.Store) Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		if adapter == nil {
			return apperr.New(apperr.Internal, "deploy_container: no container adapter configured", nil)
		}
		image, _ := job.Config["image"].(string)
		if image == "" {
			return apperr.Validationf("deploy_container: image is required")
		}
		exposedPort := 3000
		if p, ok := job.Config["exposedPort"].(int); ok {
			exposedPort = p
		} else if p, ok := job.Config["exposedPort"].(float64); ok {
			exposedPort = int(p)
		}
		env := map[string]string{}
		if raw, ok := job.Config["envVars"].(map[string]string); ok {
			env = raw
		}

		name := fmt.Sprintf("temps-deploy-%s", deployment.ID)

		existing, err := adapter.FindByLabels(ctx, map[string]string{container.LabelDeploymentID: deployment.ID})
		if err != nil {
			return apperr.Wrap(apperr.External, err, "deploy_container: lookup existing containers failed")
		}
		for _, priorID := range existing {
			_ = adapter.Stop(ctx, priorID, 10*time.Second)
			_ = adapter.Remove(ctx, priorID, true)
		}

		if err := adapter.Pull(ctx, image, ""); err != nil {
			return err
		}

		id, err := adapter.Create(ctx, container.Spec{
			Name:  name,
			Image: image,
			Env:   env,
			Labels: map[string]string{
				container.LabelDeploymentID: deployment.ID,
			},
			Ports:         []container.PortBinding{{ContainerPort: exposedPort, HostPort: 0}},
			RestartPolicy: "unless-stopped",
		})
		if err != nil {
			return err
		}
		if err := adapter.Start(ctx, id); err != nil {
			return err
		}
		if err := adapter.WaitHealthy(ctx, id, 2*time.Minute); err != nil {
			return err
		}
		// Record the container name and port so C11 can compute the proxy
		// upstream. Spec.Network is left empty, so the container is not
		// attached to the shared network by this handler.
		return s.UpdateDeploymentContainer(ctx, deployment.ID, name, exposedPort)
	}
}

// markDeploymentCompleteHandler is the §4.8 atomic cutover barrier: it sets
// the deployment Completed, repoints the environment's current deployment,
// and touches the project's last deployment in a single store transaction,
// then publishes DeploymentCompleted once that transaction has committed.
func markDeploymentCompleteHandler(s store.Store, bus *events.Bus) Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
			if err := tx.UpdateDeploymentState(ctx, deployment.ID, model.DeploymentCompleted, ""); err != nil {
				return err
			}
			if err := tx.SetCurrentDeployment(ctx, deployment.EnvironmentID, deployment.ID); err != nil {
				return err
			}
			return tx.TouchLastDeployment(ctx, deployment.ProjectID)
		})
		if err != nil {
			return err
		}
		if bus != nil {
			bus.Publish(events.Event{
				Kind: events.KindDeploymentCompleted,
				Deployment: &events.DeploymentPayload{
					DeploymentID:  deployment.ID,
					ProjectID:     deployment.ProjectID,
					EnvironmentID: deployment.EnvironmentID,
				},
			})
		}
		return nil
	}
}

// manifest is the subset of .temps.yaml this core understands: named cron
// jobs with a standard five-field schedule and a shell command.
type manifest struct {
	Crons []struct {
		Name     string `yaml:"name"`
		Schedule string `yaml:"schedule"`
		Command  string `yaml:"command"`
	} `yaml:"crons"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// configureCronsHandler parses the project manifest's cron section and
// validates each schedule expression. The manifest itself is supplied
// inline via job.Config["manifestYAML"] (workspace file access is out of
// this core's scope, §1 Non-goals, same seam deploy_container uses for
// "image"); an absent manifest is a no-op, since crons are optional (§4.7).
func configureCronsHandler() Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		raw, _ := job.Config["manifestYAML"].(string)
		if raw == "" {
			return nil
		}

		var m manifest
		if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
			return apperr.Wrap(apperr.Validation, err, "configure_crons: invalid manifest")
		}
		seen := make(map[string]struct{}, len(m.Crons))
		for _, c := range m.Crons {
			if c.Name == "" {
				return apperr.Validationf("configure_crons: cron entry missing name")
			}
			if _, dup := seen[c.Name]; dup {
				return apperr.Validationf("configure_crons: duplicate cron name %q", c.Name)
			}
			seen[c.Name] = struct{}{}
			if _, err := cronParser.Parse(c.Schedule); err != nil {
				return apperr.Wrap(apperr.Validation, err, fmt.Sprintf("configure_crons: cron %q has an invalid schedule %q", c.Name, c.Schedule))
			}
			if c.Command == "" {
				return apperr.Validationf("configure_crons: cron %q missing command", c.Name)
			}
		}
		return nil
	}
}

// takeScreenshotHandler succeeds without doing anything: screenshot capture
// is out of this core's scope (§1 Non-goals), and this handler is a seam the
// cmd layer can override via RegisterHandler.
func takeScreenshotHandler() Handler {
	return func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
		return nil
	}
}
