package store

import (
	"context"
	"sync"
	"time"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/model"
)

// Memory is an in-process Store used by tests and by the reconciliation
// properties in §8; it trades durability for simplicity, serialising every
// mutation behind a single mutex (only per-deployment serialisation is
// required, §5, so one global lock is sufficient).
type Memory struct {
	mu sync.Mutex

	projects     map[string]model.Project
	environments map[string]model.Environment
	deployments  map[string]model.Deployment
	jobs         map[string]map[string]model.DeploymentJob // deploymentID -> jobID -> job
	services     map[string]model.ExternalService
	links        map[string]map[string]bool // projectID -> serviceID -> true
	backups      map[string]model.Backup
	svcBackups   map[string]map[string]model.ExternalServiceBackup // backupID -> serviceID -> record
	s3Sources    map[string]model.S3Source
	schedules    map[string]model.BackupSchedule
	dnsProviders map[string]model.DnsProviderConfig
}

// NewMemory allocates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:     map[string]model.Project{},
		environments: map[string]model.Environment{},
		deployments:  map[string]model.Deployment{},
		jobs:         map[string]map[string]model.DeploymentJob{},
		services:     map[string]model.ExternalService{},
		links:        map[string]map[string]bool{},
		backups:      map[string]model.Backup{},
		svcBackups:   map[string]map[string]model.ExternalServiceBackup{},
		s3Sources:    map[string]model.S3Source{},
		schedules:    map[string]model.BackupSchedule{},
		dnsProviders: map[string]model.DnsProviderConfig{},
	}
}

// WithTx runs fn against the same in-memory store under the single global
// lock, which is sufficient to give fn a consistent, isolated view for the
// in-memory fake (a real Postgres implementation uses an actual transaction).
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &txView{m})
}

// txView re-enters Memory's methods without re-acquiring the lock, since
// WithTx already holds it for the duration of fn.
type txView struct{ m *Memory }

func (t *txView) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}
func (t *txView) GetProject(ctx context.Context, id string) (model.Project, error) {
	return t.m.getProjectLocked(id)
}
func (t *txView) CreateProject(ctx context.Context, p model.Project) error {
	return t.m.createProjectLocked(p)
}
func (t *txView) TouchLastDeployment(ctx context.Context, projectID string) error {
	return t.m.touchLastDeploymentLocked(projectID)
}
func (t *txView) GetEnvironment(ctx context.Context, id string) (model.Environment, error) {
	return t.m.getEnvironmentLocked(id)
}
func (t *txView) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]model.Environment, error) {
	return t.m.listEnvironmentsByProjectLocked(projectID)
}
func (t *txView) SetCurrentDeployment(ctx context.Context, environmentID, deploymentID string) error {
	return t.m.setCurrentDeploymentLocked(environmentID, deploymentID)
}
func (t *txView) SetEnvironmentUpstream(ctx context.Context, environmentID, upstream string) (string, error) {
	return t.m.setEnvironmentUpstreamLocked(environmentID, upstream)
}
func (t *txView) GetDNSProviderConfig(ctx context.Context, id string) (model.DnsProviderConfig, error) {
	return t.m.getDNSProviderConfigLocked(id)
}
func (t *txView) CreateDeployment(ctx context.Context, d model.Deployment) error {
	return t.m.createDeploymentLocked(d)
}
func (t *txView) GetDeployment(ctx context.Context, id string) (model.Deployment, error) {
	return t.m.getDeploymentLocked(id)
}
func (t *txView) CountDeploymentsForProject(ctx context.Context, projectID string) (int, error) {
	return t.m.countDeploymentsForProjectLocked(projectID)
}
func (t *txView) UpdateDeploymentState(ctx context.Context, id string, state model.DeploymentState, reason string) error {
	return t.m.updateDeploymentStateLocked(id, state, reason)
}
func (t *txView) UpdateDeploymentConfigSnapshot(ctx context.Context, id string, snapshot model.DeploymentConfigSnapshot) error {
	return t.m.updateDeploymentConfigSnapshotLocked(id, snapshot)
}
func (t *txView) UpdateDeploymentContainer(ctx context.Context, id, containerName string, containerPort int) error {
	return t.m.updateDeploymentContainerLocked(id, containerName, containerPort)
}
func (t *txView) CreateJobs(ctx context.Context, jobs []model.DeploymentJob) error {
	return t.m.createJobsLocked(jobs)
}
func (t *txView) ListJobs(ctx context.Context, deploymentID string) ([]model.DeploymentJob, error) {
	return t.m.listJobsLocked(deploymentID)
}
func (t *txView) UpdateJob(ctx context.Context, job model.DeploymentJob) error {
	return t.m.updateJobLocked(job)
}
func (t *txView) CreateService(ctx context.Context, s model.ExternalService) error {
	return t.m.createServiceLocked(s)
}
func (t *txView) GetService(ctx context.Context, id string) (model.ExternalService, error) {
	return t.m.getServiceLocked(id)
}
func (t *txView) ListServices(ctx context.Context) ([]model.ExternalService, error) {
	return t.m.listServicesLocked()
}
func (t *txView) UpdateService(ctx context.Context, s model.ExternalService) error {
	return t.m.updateServiceLocked(s)
}
func (t *txView) DeleteService(ctx context.Context, id string) error {
	return t.m.deleteServiceLocked(id)
}
func (t *txView) LinkService(ctx context.Context, projectID, serviceID string) error {
	return t.m.linkServiceLocked(projectID, serviceID)
}
func (t *txView) UnlinkService(ctx context.Context, projectID, serviceID string) error {
	return t.m.unlinkServiceLocked(projectID, serviceID)
}
func (t *txView) ListLinkedServices(ctx context.Context, projectID string) ([]model.ExternalService, error) {
	return t.m.listLinkedServicesLocked(projectID)
}
func (t *txView) CreateBackup(ctx context.Context, b model.Backup) error {
	return t.m.createBackupLocked(b)
}
func (t *txView) UpdateBackup(ctx context.Context, b model.Backup) error {
	return t.m.updateBackupLocked(b)
}
func (t *txView) GetBackup(ctx context.Context, id string) (model.Backup, error) {
	return t.m.getBackupLocked(id)
}
func (t *txView) ListBackups(ctx context.Context) ([]model.Backup, error) {
	return t.m.listBackupsLocked()
}
func (t *txView) ListExpiredBackups(ctx context.Context) ([]model.Backup, error) {
	return t.m.listExpiredBackupsLocked()
}
func (t *txView) DeleteBackup(ctx context.Context, id string) error {
	return t.m.deleteBackupLocked(id)
}
func (t *txView) CreateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	return t.m.createServiceBackupLocked(b)
}
func (t *txView) UpdateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	return t.m.updateServiceBackupLocked(b)
}
func (t *txView) ListServiceBackups(ctx context.Context, backupID string) ([]model.ExternalServiceBackup, error) {
	return t.m.listServiceBackupsLocked(backupID)
}
func (t *txView) GetS3Source(ctx context.Context, id string) (model.S3Source, error) {
	return t.m.getS3SourceLocked(id)
}
func (t *txView) ListSchedules(ctx context.Context) ([]model.BackupSchedule, error) {
	return t.m.listSchedulesLocked()
}
func (t *txView) UpdateSchedule(ctx context.Context, s model.BackupSchedule) error {
	return t.m.updateScheduleLocked(s)
}

// ---- public (locking) entrypoints ----

func (m *Memory) GetProject(ctx context.Context, id string) (model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getProjectLocked(id)
}
func (m *Memory) CreateProject(ctx context.Context, p model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createProjectLocked(p)
}
func (m *Memory) TouchLastDeployment(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touchLastDeploymentLocked(projectID)
}
func (m *Memory) GetEnvironment(ctx context.Context, id string) (model.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEnvironmentLocked(id)
}
func (m *Memory) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]model.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listEnvironmentsByProjectLocked(projectID)
}
func (m *Memory) SetCurrentDeployment(ctx context.Context, environmentID, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCurrentDeploymentLocked(environmentID, deploymentID)
}
func (m *Memory) SetEnvironmentUpstream(ctx context.Context, environmentID, upstream string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEnvironmentUpstreamLocked(environmentID, upstream)
}
func (m *Memory) GetDNSProviderConfig(ctx context.Context, id string) (model.DnsProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getDNSProviderConfigLocked(id)
}
func (m *Memory) CreateDeployment(ctx context.Context, d model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createDeploymentLocked(d)
}
func (m *Memory) GetDeployment(ctx context.Context, id string) (model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getDeploymentLocked(id)
}
func (m *Memory) CountDeploymentsForProject(ctx context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countDeploymentsForProjectLocked(projectID)
}
func (m *Memory) UpdateDeploymentState(ctx context.Context, id string, state model.DeploymentState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDeploymentStateLocked(id, state, reason)
}
func (m *Memory) UpdateDeploymentConfigSnapshot(ctx context.Context, id string, snapshot model.DeploymentConfigSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDeploymentConfigSnapshotLocked(id, snapshot)
}
func (m *Memory) UpdateDeploymentContainer(ctx context.Context, id, containerName string, containerPort int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDeploymentContainerLocked(id, containerName, containerPort)
}
func (m *Memory) CreateJobs(ctx context.Context, jobs []model.DeploymentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createJobsLocked(jobs)
}
func (m *Memory) ListJobs(ctx context.Context, deploymentID string) ([]model.DeploymentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listJobsLocked(deploymentID)
}
func (m *Memory) UpdateJob(ctx context.Context, job model.DeploymentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateJobLocked(job)
}
func (m *Memory) CreateService(ctx context.Context, s model.ExternalService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createServiceLocked(s)
}
func (m *Memory) GetService(ctx context.Context, id string) (model.ExternalService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getServiceLocked(id)
}
func (m *Memory) ListServices(ctx context.Context) ([]model.ExternalService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listServicesLocked()
}
func (m *Memory) UpdateService(ctx context.Context, s model.ExternalService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateServiceLocked(s)
}
func (m *Memory) DeleteService(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteServiceLocked(id)
}
func (m *Memory) LinkService(ctx context.Context, projectID, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkServiceLocked(projectID, serviceID)
}
func (m *Memory) UnlinkService(ctx context.Context, projectID, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlinkServiceLocked(projectID, serviceID)
}
func (m *Memory) ListLinkedServices(ctx context.Context, projectID string) ([]model.ExternalService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLinkedServicesLocked(projectID)
}
func (m *Memory) CreateBackup(ctx context.Context, b model.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBackupLocked(b)
}
func (m *Memory) UpdateBackup(ctx context.Context, b model.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBackupLocked(b)
}
func (m *Memory) GetBackup(ctx context.Context, id string) (model.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBackupLocked(id)
}
func (m *Memory) ListBackups(ctx context.Context) ([]model.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBackupsLocked()
}
func (m *Memory) ListExpiredBackups(ctx context.Context) ([]model.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listExpiredBackupsLocked()
}
func (m *Memory) DeleteBackup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBackupLocked(id)
}
func (m *Memory) CreateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createServiceBackupLocked(b)
}
func (m *Memory) UpdateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateServiceBackupLocked(b)
}
func (m *Memory) ListServiceBackups(ctx context.Context, backupID string) ([]model.ExternalServiceBackup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listServiceBackupsLocked(backupID)
}
func (m *Memory) GetS3Source(ctx context.Context, id string) (model.S3Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getS3SourceLocked(id)
}
func (m *Memory) ListSchedules(ctx context.Context) ([]model.BackupSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listSchedulesLocked()
}
func (m *Memory) UpdateSchedule(ctx context.Context, s model.BackupSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateScheduleLocked(s)
}

// PutS3Source and PutSchedule are test/bootstrap helpers with no Store
// interface counterpart (only reads are exposed through Store).
func (m *Memory) PutS3Source(s model.S3Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s3Sources[s.ID] = s
}
func (m *Memory) PutSchedule(s model.BackupSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

// ---- unlocked implementations ----

func (m *Memory) getProjectLocked(id string) (model.Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return model.Project{}, apperr.NotFoundf("project %s not found", id)
	}
	return p, nil
}
func (m *Memory) createProjectLocked(p model.Project) error {
	if _, exists := m.projects[p.ID]; exists {
		return apperr.Conflictf("project %s already exists", p.ID)
	}
	m.projects[p.ID] = p
	return nil
}
func (m *Memory) touchLastDeploymentLocked(projectID string) error {
	p, ok := m.projects[projectID]
	if !ok {
		return apperr.NotFoundf("project %s not found", projectID)
	}
	now := time.Now()
	p.LastDeployment = &now
	m.projects[projectID] = p
	return nil
}

func (m *Memory) getEnvironmentLocked(id string) (model.Environment, error) {
	e, ok := m.environments[id]
	if !ok {
		return model.Environment{}, apperr.NotFoundf("environment %s not found", id)
	}
	return e, nil
}
func (m *Memory) listEnvironmentsByProjectLocked(projectID string) ([]model.Environment, error) {
	var out []model.Environment
	for _, e := range m.environments {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *Memory) setCurrentDeploymentLocked(environmentID, deploymentID string) error {
	e, ok := m.environments[environmentID]
	if !ok {
		return apperr.NotFoundf("environment %s not found", environmentID)
	}
	e.CurrentDeploymentID = &deploymentID
	m.environments[environmentID] = e
	return nil
}

func (m *Memory) setEnvironmentUpstreamLocked(environmentID, upstream string) (string, error) {
	e, ok := m.environments[environmentID]
	if !ok {
		return "", apperr.NotFoundf("environment %s not found", environmentID)
	}
	var previous string
	if len(e.Upstreams) > 0 {
		previous = e.Upstreams[0]
	}
	if previous == upstream {
		return previous, nil
	}
	e.Upstreams = []string{upstream, previous}
	m.environments[environmentID] = e
	return previous, nil
}

func (m *Memory) getDNSProviderConfigLocked(id string) (model.DnsProviderConfig, error) {
	c, ok := m.dnsProviders[id]
	if !ok {
		return model.DnsProviderConfig{}, apperr.NotFoundf("dns provider config %s not found", id)
	}
	return c, nil
}

func (m *Memory) createDeploymentLocked(d model.Deployment) error {
	if _, exists := m.deployments[d.ID]; exists {
		return apperr.Conflictf("deployment %s already exists", d.ID)
	}
	m.deployments[d.ID] = d
	return nil
}
func (m *Memory) getDeploymentLocked(id string) (model.Deployment, error) {
	d, ok := m.deployments[id]
	if !ok {
		return model.Deployment{}, apperr.NotFoundf("deployment %s not found", id)
	}
	return d, nil
}
func (m *Memory) countDeploymentsForProjectLocked(projectID string) (int, error) {
	n := 0
	for _, d := range m.deployments {
		if d.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}
func (m *Memory) updateDeploymentStateLocked(id string, state model.DeploymentState, reason string) error {
	d, ok := m.deployments[id]
	if !ok {
		return apperr.NotFoundf("deployment %s not found", id)
	}
	d.State = state
	if reason != "" {
		d.CancelledReason = reason
	}
	if state.Terminal() {
		now := time.Now()
		d.FinishedAt = &now
	}
	m.deployments[id] = d
	return nil
}

func (m *Memory) updateDeploymentConfigSnapshotLocked(id string, snapshot model.DeploymentConfigSnapshot) error {
	d, ok := m.deployments[id]
	if !ok {
		return apperr.NotFoundf("deployment %s not found", id)
	}
	d.ConfigSnapshot = snapshot
	m.deployments[id] = d
	return nil
}

func (m *Memory) updateDeploymentContainerLocked(id, containerName string, containerPort int) error {
	d, ok := m.deployments[id]
	if !ok {
		return apperr.NotFoundf("deployment %s not found", id)
	}
	d.ContainerName = containerName
	d.ContainerPort = containerPort
	m.deployments[id] = d
	return nil
}

func (m *Memory) createJobsLocked(jobs []model.DeploymentJob) error {
	for _, j := range jobs {
		if m.jobs[j.DeploymentID] == nil {
			m.jobs[j.DeploymentID] = map[string]model.DeploymentJob{}
		}
		m.jobs[j.DeploymentID][j.JobID] = j
	}
	return nil
}
func (m *Memory) listJobsLocked(deploymentID string) ([]model.DeploymentJob, error) {
	byID := m.jobs[deploymentID]
	out := make([]model.DeploymentJob, 0, len(byID))
	for _, j := range byID {
		out = append(out, j)
	}
	return out, nil
}
func (m *Memory) updateJobLocked(job model.DeploymentJob) error {
	if m.jobs[job.DeploymentID] == nil {
		return apperr.NotFoundf("deployment %s has no jobs", job.DeploymentID)
	}
	m.jobs[job.DeploymentID][job.JobID] = job
	return nil
}

func (m *Memory) createServiceLocked(s model.ExternalService) error {
	for _, existing := range m.services {
		if existing.Slug == s.Slug || existing.Name == s.Name {
			return apperr.Conflictf("service slug/name %s already in use", s.Slug)
		}
	}
	m.services[s.ID] = s
	return nil
}
func (m *Memory) getServiceLocked(id string) (model.ExternalService, error) {
	s, ok := m.services[id]
	if !ok {
		return model.ExternalService{}, apperr.NotFoundf("service %s not found", id)
	}
	return s, nil
}
func (m *Memory) listServicesLocked() ([]model.ExternalService, error) {
	out := make([]model.ExternalService, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	return out, nil
}
func (m *Memory) updateServiceLocked(s model.ExternalService) error {
	if _, ok := m.services[s.ID]; !ok {
		return apperr.NotFoundf("service %s not found", s.ID)
	}
	m.services[s.ID] = s
	return nil
}
func (m *Memory) deleteServiceLocked(id string) error {
	delete(m.services, id)
	return nil
}

func (m *Memory) linkServiceLocked(projectID, serviceID string) error {
	if m.links[projectID] == nil {
		m.links[projectID] = map[string]bool{}
	}
	// Idempotent: linking an already-linked pair is a no-op, not a Conflict (§8).
	m.links[projectID][serviceID] = true
	return nil
}
func (m *Memory) unlinkServiceLocked(projectID, serviceID string) error {
	if m.links[projectID] != nil {
		delete(m.links[projectID], serviceID)
	}
	return nil
}
func (m *Memory) listLinkedServicesLocked(projectID string) ([]model.ExternalService, error) {
	var out []model.ExternalService
	for serviceID := range m.links[projectID] {
		if s, ok := m.services[serviceID]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) createBackupLocked(b model.Backup) error {
	m.backups[b.ID] = b
	return nil
}
func (m *Memory) updateBackupLocked(b model.Backup) error {
	m.backups[b.ID] = b
	return nil
}
func (m *Memory) getBackupLocked(id string) (model.Backup, error) {
	b, ok := m.backups[id]
	if !ok {
		return model.Backup{}, apperr.NotFoundf("backup %s not found", id)
	}
	return b, nil
}
func (m *Memory) listBackupsLocked() ([]model.Backup, error) {
	out := make([]model.Backup, 0, len(m.backups))
	for _, b := range m.backups {
		out = append(out, b)
	}
	return out, nil
}
func (m *Memory) listExpiredBackupsLocked() ([]model.Backup, error) {
	now := time.Now()
	var out []model.Backup
	for _, b := range m.backups {
		if b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (m *Memory) deleteBackupLocked(id string) error {
	delete(m.backups, id)
	delete(m.svcBackups, id)
	return nil
}

func (m *Memory) createServiceBackupLocked(b model.ExternalServiceBackup) error {
	if m.svcBackups[b.BackupID] == nil {
		m.svcBackups[b.BackupID] = map[string]model.ExternalServiceBackup{}
	}
	m.svcBackups[b.BackupID][b.ServiceID] = b
	return nil
}
func (m *Memory) updateServiceBackupLocked(b model.ExternalServiceBackup) error {
	return m.createServiceBackupLocked(b)
}
func (m *Memory) listServiceBackupsLocked(backupID string) ([]model.ExternalServiceBackup, error) {
	byID := m.svcBackups[backupID]
	out := make([]model.ExternalServiceBackup, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) getS3SourceLocked(id string) (model.S3Source, error) {
	s, ok := m.s3Sources[id]
	if !ok {
		return model.S3Source{}, apperr.NotFoundf("s3 source %s not found", id)
	}
	return s, nil
}
func (m *Memory) listSchedulesLocked() ([]model.BackupSchedule, error) {
	out := make([]model.BackupSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}
func (m *Memory) updateScheduleLocked(s model.BackupSchedule) error {
	m.schedules[s.ID] = s
	return nil
}

// PutEnvironment is a test/bootstrap helper.
func (m *Memory) PutEnvironment(e model.Environment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.environments[e.ID] = e
}

// PutDNSProviderConfig is a test/bootstrap helper.
func (m *Memory) PutDNSProviderConfig(c model.DnsProviderConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dnsProviders[c.ID] = c
}
