// Package store defines the relational store contract (C13) for every
// entity in §3, plus an in-memory fake for tests and a Postgres-backed
// implementation over jmoiron/sqlx + jackc/pgx/v5 for production use.
package store

import (
	"context"

	"github.com/temps-sh/temps-core/internal/model"
)

// Store is the single source of truth the rest of the core depends on. All
// writers use transactions (§5); the executor's mark_deployment_complete
// handler is the one caller that must commit three effects atomically, which
// it does through WithTx (§4.8, §5).
type Store interface {
	ProjectStore
	EnvironmentStore
	DeploymentStore
	ServiceStore
	BackupStore

	// WithTx runs fn inside a single transaction; fn's Store argument is
	// scoped to that transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type ProjectStore interface {
	GetProject(ctx context.Context, id string) (model.Project, error)
	CreateProject(ctx context.Context, p model.Project) error
	TouchLastDeployment(ctx context.Context, projectID string) error
}

type EnvironmentStore interface {
	GetEnvironment(ctx context.Context, id string) (model.Environment, error)
	ListEnvironmentsByProject(ctx context.Context, projectID string) ([]model.Environment, error)
	SetCurrentDeployment(ctx context.Context, environmentID, deploymentID string) error

	// SetEnvironmentUpstream records the newly active proxy upstream,
	// pushing the previous head down so the caller can tear it down after
	// the grace period (§4.11 step 3).
	SetEnvironmentUpstream(ctx context.Context, environmentID, upstream string) (previous string, err error)

	GetDNSProviderConfig(ctx context.Context, id string) (model.DnsProviderConfig, error)
}

type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d model.Deployment) error
	GetDeployment(ctx context.Context, id string) (model.Deployment, error)
	CountDeploymentsForProject(ctx context.Context, projectID string) (int, error)
	UpdateDeploymentState(ctx context.Context, id string, state model.DeploymentState, cancelledReason string) error
	UpdateDeploymentConfigSnapshot(ctx context.Context, id string, snapshot model.DeploymentConfigSnapshot) error
	UpdateDeploymentContainer(ctx context.Context, id, containerName string, containerPort int) error

	CreateJobs(ctx context.Context, jobs []model.DeploymentJob) error
	ListJobs(ctx context.Context, deploymentID string) ([]model.DeploymentJob, error)
	UpdateJob(ctx context.Context, job model.DeploymentJob) error
}

type ServiceStore interface {
	CreateService(ctx context.Context, s model.ExternalService) error
	GetService(ctx context.Context, id string) (model.ExternalService, error)
	ListServices(ctx context.Context) ([]model.ExternalService, error)
	UpdateService(ctx context.Context, s model.ExternalService) error
	DeleteService(ctx context.Context, id string) error

	LinkService(ctx context.Context, projectID, serviceID string) error
	UnlinkService(ctx context.Context, projectID, serviceID string) error
	ListLinkedServices(ctx context.Context, projectID string) ([]model.ExternalService, error)
}

type BackupStore interface {
	CreateBackup(ctx context.Context, b model.Backup) error
	UpdateBackup(ctx context.Context, b model.Backup) error
	GetBackup(ctx context.Context, id string) (model.Backup, error)
	ListBackups(ctx context.Context) ([]model.Backup, error)
	ListExpiredBackups(ctx context.Context) ([]model.Backup, error)
	DeleteBackup(ctx context.Context, id string) error

	CreateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error
	UpdateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error
	ListServiceBackups(ctx context.Context, backupID string) ([]model.ExternalServiceBackup, error)

	GetS3Source(ctx context.Context, id string) (model.S3Source, error)
	ListSchedules(ctx context.Context) ([]model.BackupSchedule, error)
	UpdateSchedule(ctx context.Context, s model.BackupSchedule) error
}
