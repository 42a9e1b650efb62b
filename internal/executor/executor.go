// Package executor implements the Workflow Executor (C8): it runs a
// deployment's job DAG to completion or failure, dispatching each job to a
// registered Handler and enforcing the required/optional and timeout rules
// of §4.8.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// defaultTimeouts are the per-job-type wall-clock deadlines (§4.8).
var defaultTimeouts = map[model.JobType]time.Duration{
	model.JobBuildImage:      30 * time.Minute,
	model.JobDeployContainer: 5 * time.Minute,
}

const defaultJobTimeout = 10 * time.Minute

// Handler executes one job. Implementations read job.Config, stream logs
// elsewhere, and return an error on failure; ctx carries the job's deadline
// and is cancelled on deployment-level cancellation.
type Handler func(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error

// Executor drives deployment DAGs to completion.
type Executor struct {
	store       store.Store
	bus         *events.Bus
	log         *zap.Logger
	handlers    map[model.JobType]Handler
	parallelism int

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

func New(s store.Store, bus *events.Bus, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		store:       s,
		bus:         bus,
		log:         log,
		handlers:    map[model.JobType]Handler{},
		parallelism: runtime.NumCPU(),
		cancelFuncs: map[string]context.CancelFunc{},
	}
}

// RegisterHandler binds a Handler to a job type; later calls for the same
// type replace the previous handler.
func (e *Executor) RegisterHandler(t model.JobType, h Handler) {
	e.handlers[t] = h
}

// Cancel requests cooperative stop of a running deployment (§4.8). It is a
// no-op if the deployment isn't currently executing in this process.
func (e *Executor) Cancel(deploymentID string) {
	e.mu.Lock()
	cancel, ok := e.cancelFuncs[deploymentID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Run drives the DAG for one deployment. It blocks until the deployment
// reaches a terminal state.
func (e *Executor) Run(ctx context.Context, deploymentID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFuncs[deploymentID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancelFuncs, deploymentID)
		e.mu.Unlock()
		cancel()
	}()

	deployment, err := e.store.GetDeployment(runCtx, deploymentID)
	if err != nil {
		return err
	}
	jobs, err := e.store.ListJobs(runCtx, deploymentID)
	if err != nil {
		return err
	}

	byID := make(map[string]model.DeploymentJob, len(jobs))
	for _, j := range jobs {
		byID[j.JobID] = j
	}

	sem := make(chan struct{}, e.parallelism)
	var mu sync.Mutex
	var firstRequiredFailure string

	for {
		ready, pendingExists := readySet(byID)
		if len(ready) == 0 {
			if !pendingExists {
				break
			}
			// Nothing ready but jobs remain pending: fall through so
			// skipUpstreamFailed below can settle jobs blocked behind a
			// failed or skipped dependency.
		}

		if len(ready) > 0 {
			g, gctx := errgroup.WithContext(runCtx)
			for _, job := range ready {
				job := job
				mu.Lock()
				job.Status = model.JobRunning
				now := time.Now()
				job.StartedAt = &now
				byID[job.JobID] = job
				mu.Unlock()
				_ = e.store.UpdateJob(runCtx, job)

				g.Go(func() error {
					sem <- struct{}{}
					defer func() { <-sem }()

					jobCtx, jobCancel := context.WithTimeout(gctx, timeoutFor(job.JobType))
					defer jobCancel()

					runErr := e.dispatch(jobCtx, job, deployment)

					mu.Lock()
					defer mu.Unlock()
					finished := time.Now()
					job.FinishedAt = &finished
					if runErr != nil {
						job.Status = model.JobFailed
						job.ErrorMessage = runErr.Error()
						if job.RequiredForCompletion && firstRequiredFailure == "" {
							firstRequiredFailure = fmt.Sprintf("%s: %s", job.Name, runErr.Error())
						}
					} else {
						job.Status = model.JobSucceeded
					}
					byID[job.JobID] = job
					_ = e.store.UpdateJob(runCtx, job)
					return nil
				})
			}
			_ = g.Wait()
		}

		mu.Lock()
		skipUpstreamFailed(byID)
		mu.Unlock()

		if !anyPendingOrRunning(byID) {
			break
		}
		if runCtx.Err() != nil {
			mu.Lock()
			cancelRemaining(byID)
			mu.Unlock()
			break
		}
	}

	return e.finalize(ctx, deployment, byID, firstRequiredFailure, runCtx.Err() != nil)
}

func (e *Executor) dispatch(ctx context.Context, job model.DeploymentJob, deployment model.Deployment) error {
	h, ok := e.handlers[job.JobType]
	if !ok {
		return apperr.Validationf("executor: no handler registered for job type %q", job.JobType)
	}
	err := h(ctx, job, deployment)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return apperr.Wrap(apperr.Timeout, err, "executor: job %s timed out", job.Name)
	}
	if err != nil && ctx.Err() == context.Canceled {
		return apperr.Wrap(apperr.Cancelled, err, "executor: job %s cancelled", job.Name)
	}
	return err
}

func (e *Executor) finalize(ctx context.Context, deployment model.Deployment, byID map[string]model.DeploymentJob, firstRequiredFailure string, cancelled bool) error {
	if cancelled {
		if err := e.store.UpdateDeploymentState(ctx, deployment.ID, model.DeploymentCancelled, "cancelled"); err != nil {
			return err
		}
		return nil
	}

	allRequiredSucceeded := true
	for _, j := range byID {
		if j.RequiredForCompletion && j.Status != model.JobSucceeded {
			allRequiredSucceeded = false
			break
		}
	}

	if allRequiredSucceeded {
		// MarkDeploymentCompleteJob already performed the atomic cutover and
		// published DeploymentCompleted; nothing further to do here.
		return nil
	}

	reason := firstRequiredFailure
	if reason == "" {
		reason = "required job did not complete"
	}
	if err := e.store.UpdateDeploymentState(ctx, deployment.ID, model.DeploymentFailed, reason); err != nil {
		return err
	}
	return nil
}

// readySet computes jobs whose dependencies are all satisfied (§4.8 step 1):
// a required dependency must be Succeeded; an optional (required_for_completion=false)
// dependency satisfies readiness if Succeeded or Skipped.
func readySet(byID map[string]model.DeploymentJob) ([]model.DeploymentJob, bool) {
	var ready []model.DeploymentJob
	pendingExists := false
	for _, j := range byID {
		if j.Status != model.JobPending {
			continue
		}
		pendingExists = true
		if dependenciesSatisfied(j, byID) {
			ready = append(ready, j)
		}
	}
	return ready, pendingExists
}

func dependenciesSatisfied(job model.DeploymentJob, byID map[string]model.DeploymentJob) bool {
	for _, depID := range job.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if !dep.Status.Terminal() {
			return false
		}
		if dep.Status == model.JobSkipped && !dep.RequiredForCompletion {
			continue
		}
		if dep.Status != model.JobSucceeded {
			return false
		}
	}
	return true
}

// skipUpstreamFailed marks pending jobs Skipped when a dependency has Failed
// ("upstream failed") or a required dependency was Skipped ("upstream
// skipped") (§4.8 step 1).
func skipUpstreamFailed(byID map[string]model.DeploymentJob) {
	changed := true
	for changed {
		changed = false
		for id, j := range byID {
			if j.Status != model.JobPending {
				continue
			}
			for _, depID := range j.Dependencies {
				dep, ok := byID[depID]
				if !ok {
					continue
				}
				if dep.Status == model.JobFailed {
					j.Status = model.JobSkipped
					j.StatusDetail = "upstream failed"
					byID[id] = j
					changed = true
					break
				}
				if dep.Status == model.JobSkipped && dep.RequiredForCompletion {
					j.Status = model.JobSkipped
					j.StatusDetail = "upstream skipped"
					byID[id] = j
					changed = true
					break
				}
			}
		}
	}
}

func cancelRemaining(byID map[string]model.DeploymentJob) {
	for id, j := range byID {
		if j.Status == model.JobPending {
			j.Status = model.JobSkipped
			j.StatusDetail = "cancelled"
			byID[id] = j
		}
	}
}

func anyPendingOrRunning(byID map[string]model.DeploymentJob) bool {
	for _, j := range byID {
		if j.Status == model.JobPending || j.Status == model.JobRunning {
			return true
		}
	}
	return false
}

func timeoutFor(t model.JobType) time.Duration {
	if d, ok := defaultTimeouts[t]; ok {
		return d
	}
	return defaultJobTimeout
}
