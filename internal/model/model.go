// Package model holds the core entity shapes of the deployment orchestration
// subsystem: Project, Environment, Deployment, Deployment Job, External
// Service, and the backup/S3 entities. Types are plain structs with JSON
// tags; free-form configs (preset config, job config, the config snapshot)
// are untyped maps, and ExternalServiceBackup and DnsProviderConfig carry a
// Metadata map for data no dedicated field holds.
package model

import "time"

// Project is the top-level unit of deployment: a source repository plus a
// build preset and deployment overrides.
type Project struct {
	ID       string `json:"id" db:"id"`
	Slug     string `json:"slug" db:"slug"`
	Name     string `json:"name" db:"name"`
	RepoOwner string `json:"repoOwner,omitempty" db:"repo_owner"`
	RepoName  string `json:"repoName,omitempty" db:"repo_name"`
	MainBranch string `json:"mainBranch" db:"main_branch"`
	ConnectionID string `json:"connectionId,omitempty" db:"connection_id"`

	Preset       string         `json:"preset" db:"preset"`
	PresetConfig map[string]any `json:"presetConfig,omitempty" db:"preset_config"`

	ExposedPort *int           `json:"exposedPort,omitempty" db:"exposed_port"`
	ResourceCaps map[string]any `json:"resourceCaps,omitempty" db:"resource_caps"`
	BuildArgs    map[string]string `json:"buildArgs,omitempty" db:"build_args"`
	ScreenshotsEnabled bool `json:"screenshotsEnabled" db:"screenshots_enabled"`

	LastDeployment *time.Time `json:"lastDeployment,omitempty" db:"last_deployment"`

	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// HasGitInfo reports whether the project carries a source repo reference,
// which gates the planner's download_repo/configure_crons jobs (§4.7).
func (p Project) HasGitInfo() bool {
	return p.RepoOwner != "" && p.RepoName != ""
}

// Environment is a named routing slot belonging to a Project.
type Environment struct {
	ID        string `json:"id" db:"id"`
	ProjectID string `json:"projectId" db:"project_id"`
	Slug      string `json:"slug" db:"slug"`

	Subdomain    string   `json:"subdomain,omitempty" db:"subdomain"`
	Host         string   `json:"host,omitempty" db:"host"`
	Upstreams    []string `json:"upstreams,omitempty" db:"upstreams"`
	BranchFilter string   `json:"branchFilter,omitempty" db:"branch_filter"`

	ExposedPort  *int              `json:"exposedPort,omitempty" db:"exposed_port"`
	ResourceCaps map[string]any    `json:"resourceCaps,omitempty" db:"resource_caps"`
	BuildArgs    map[string]string `json:"buildArgs,omitempty" db:"build_args"`
	ScreenshotsEnabled *bool       `json:"screenshotsEnabled,omitempty" db:"screenshots_enabled"`

	CustomDNS     *bool   `json:"customDns,omitempty" db:"custom_dns"`
	DNSProviderID string  `json:"dnsProviderId,omitempty" db:"dns_provider_id"`
	DNSRecordName string  `json:"dnsRecordName,omitempty" db:"dns_record_name"`

	CurrentDeploymentID *string `json:"currentDeploymentId,omitempty" db:"current_deployment_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// MatchesBranch reports whether this environment accepts a push to branch b.
// An empty BranchFilter matches every branch (§9 Open Questions decision).
func (e Environment) MatchesBranch(b string) bool {
	return e.BranchFilter == "" || e.BranchFilter == b
}

// DeploymentState is the deployment lifecycle state machine (§3).
type DeploymentState string

const (
	DeploymentPending   DeploymentState = "pending"
	DeploymentRunning   DeploymentState = "running"
	DeploymentBuilt     DeploymentState = "built"
	DeploymentCompleted DeploymentState = "completed"
	DeploymentFailed    DeploymentState = "failed"
	DeploymentCancelled DeploymentState = "cancelled"
)

// Terminal reports whether this state is terminal (§3 invariant: once
// Completed/Failed/Cancelled, state never transitions again).
func (s DeploymentState) Terminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentCancelled:
		return true
	default:
		return false
	}
}

// CommitInfo is the structured commit metadata attached to a Deployment.
type CommitInfo struct {
	SHA     string         `json:"sha"`
	Message string         `json:"message"`
	Author  string         `json:"author"`
	Date    string         `json:"date,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// DeploymentConfigSnapshot freezes the effective config and env vars at plan
// time so a later config change never mutates a completed deployment's
// definition of "what ran".
type DeploymentConfigSnapshot struct {
	MergedConfig     map[string]any    `json:"mergedConfig"`
	EnvVarsAtPlanTime map[string]string `json:"envVarsAtPlanTime"`
}

// Deployment is one attempt to build and run a specific commit of a project
// in an environment.
type Deployment struct {
	ID            string `json:"id" db:"id"`
	ProjectID     string `json:"projectId" db:"project_id"`
	EnvironmentID string `json:"environmentId" db:"environment_id"`
	Slug          string `json:"slug" db:"slug"`

	BranchRef     string     `json:"branchRef,omitempty" db:"branch_ref"`
	TagRef        string     `json:"tagRef,omitempty" db:"tag_ref"`
	CommitSHA     string     `json:"commitSha,omitempty" db:"commit_sha"`
	CommitMessage string     `json:"commitMessage,omitempty" db:"commit_message"`
	CommitAuthor  string     `json:"commitAuthor,omitempty" db:"commit_author"`
	Commit        CommitInfo `json:"commit" db:"commit_json"`

	ConfigSnapshot DeploymentConfigSnapshot `json:"configSnapshot" db:"deployment_config_snapshot"`

	State DeploymentState `json:"state" db:"state"`

	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	DeployingAt *time.Time `json:"deployingAt,omitempty" db:"deploying_at"`
	ReadyAt     *time.Time `json:"readyAt,omitempty" db:"ready_at"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" db:"finished_at"`

	CancelledReason string `json:"cancelledReason,omitempty" db:"cancelled_reason"`
	Image           string `json:"image,omitempty" db:"image"`
	ScreenshotPath  string `json:"screenshotPath,omitempty" db:"screenshot_path"`
	StaticDirPath   string `json:"staticDirPath,omitempty" db:"static_dir_path"`

	// ContainerName/ContainerPort identify the running container's
	// in-network address, published by deploy_container (§4.7) and consumed
	// by C11 to compute the proxy upstream.
	ContainerName string `json:"containerName,omitempty" db:"container_name"`
	ContainerPort int    `json:"containerPort,omitempty" db:"container_port"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// JobStatus is the per-job state machine (§4.8).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// Terminal reports whether a job status never transitions further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSkipped:
		return true
	default:
		return false
	}
}

// JobType discriminates DeploymentJob.Config's tagged variant and selects
// the executor's dispatch handler (§4.7, §9).
type JobType string

const (
	JobDownloadRepo       JobType = "download_repo"
	JobBuildImage         JobType = "build_image"
	JobDeployContainer    JobType = "deploy_container"
	JobMarkComplete       JobType = "mark_deployment_complete"
	JobConfigureCrons     JobType = "configure_crons"
	JobTakeScreenshot     JobType = "take_screenshot"
)

// DeploymentJob is one node in a deployment's job DAG.
type DeploymentJob struct {
	DeploymentID string   `json:"deploymentId" db:"deployment_id"`
	JobID        string   `json:"jobId" db:"job_id"`
	JobType      JobType  `json:"jobType" db:"job_type"`
	Name         string   `json:"name" db:"name"`
	Description  string   `json:"description,omitempty" db:"description"`
	Dependencies []string `json:"dependencies,omitempty" db:"dependencies"`
	ExecutionOrder int    `json:"executionOrder" db:"execution_order"`

	Status              JobStatus `json:"status" db:"status"`
	RequiredForCompletion bool    `json:"requiredForCompletion" db:"required_for_completion"`

	LogPath      string         `json:"logPath,omitempty" db:"log_path"`
	Config       map[string]any `json:"config" db:"job_config"`
	StatusDetail string         `json:"statusDetail,omitempty" db:"status_detail"`
	ErrorMessage string         `json:"errorMessage,omitempty" db:"error_message"`

	StartedAt  *time.Time `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}

// ServiceType tags the external service kind, selecting the C5 driver.
type ServiceType string

const (
	ServicePostgres ServiceType = "postgres"
	ServiceMongoDB  ServiceType = "mongodb"
	ServiceBlob     ServiceType = "blob"
)

// ServiceHealth mirrors the container health states the adapter surfaces.
type ServiceHealth string

const (
	HealthUnknown   ServiceHealth = "unknown"
	HealthStarting  ServiceHealth = "starting"
	HealthHealthy   ServiceHealth = "healthy"
	HealthUnhealthy ServiceHealth = "unhealthy"
)

// ExternalService is a long-lived stateful dependency managed as a
// container on the shared network.
type ExternalService struct {
	ID            string        `json:"id" db:"id"`
	Slug          string        `json:"slug" db:"slug"`
	Name          string        `json:"name" db:"name"`
	Type          ServiceType   `json:"type" db:"type"`
	EncryptedConfig []byte      `json:"-" db:"encrypted_config"`
	Health        ServiceHealth `json:"health" db:"health"`
	ContainerName string        `json:"containerName,omitempty" db:"container_name"`
	ContainerID   string        `json:"containerId,omitempty" db:"container_id"`
	Status        string        `json:"status" db:"status"` // pending|running|stopped

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ProjectServiceLink records that a project's deployments receive a
// service's runtime env vars and a per-project logical resource.
type ProjectServiceLink struct {
	ProjectID string    `json:"projectId" db:"project_id"`
	ServiceID string    `json:"serviceId" db:"service_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// LogicalResource is the per-(project,environment) slice of an external
// service (a database, a bucket prefix) a deployment consumes.
type LogicalResource struct {
	Name        string            `json:"name"`
	Type        ServiceType       `json:"type"`
	Credentials map[string]string `json:"credentials"`
}

// BackupState mirrors the Backup/ExternalServiceBackup lifecycle (§3).
type BackupState string

const (
	BackupPending   BackupState = "pending"
	BackupRunning   BackupState = "running"
	BackupCompleted BackupState = "completed"
	BackupFailed    BackupState = "failed"
)

// BackupSchedule drives periodic backups of an S3Source.
type BackupSchedule struct {
	ID             string     `json:"id" db:"id"`
	S3SourceID     string     `json:"s3SourceId" db:"s3_source_id"`
	Cron           string     `json:"cron" db:"cron"`
	BackupType     string     `json:"backupType" db:"backup_type"`
	RetentionDays  int        `json:"retentionDays" db:"retention_days"`
	Enabled        bool       `json:"enabled" db:"enabled"`
	NextRun        *time.Time `json:"nextRun,omitempty" db:"next_run"`
	LastRun        *time.Time `json:"lastRun,omitempty" db:"last_run"`
}

// Backup is the record of a single backup run.
type Backup struct {
	ID              string      `json:"id" db:"id"`
	ScheduleID      *string     `json:"scheduleId,omitempty" db:"schedule_id"`
	State           BackupState `json:"state" db:"state"`
	StartedAt       *time.Time  `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt      *time.Time  `json:"finishedAt,omitempty" db:"finished_at"`
	SizeBytes       int64       `json:"sizeBytes" db:"size_bytes"`
	S3Location      string      `json:"s3Location,omitempty" db:"s3_location"`
	Checksum        string      `json:"checksum,omitempty" db:"checksum"`
	CompressionType string      `json:"compressionType,omitempty" db:"compression_type"`
	Tags            map[string]string `json:"tags,omitempty" db:"tags"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty" db:"expires_at"`
}

// ExternalServiceBackup is a per-service sub-record of a Backup.
type ExternalServiceBackup struct {
	BackupID   string         `json:"backupId" db:"backup_id"`
	ServiceID  string         `json:"serviceId" db:"service_id"`
	S3Location string         `json:"s3Location,omitempty" db:"s3_location"`
	SizeBytes  *int64         `json:"sizeBytes,omitempty" db:"size_bytes"`
	State      BackupState    `json:"state" db:"state"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// S3Source is a target bucket configuration used by the backup engine.
type S3Source struct {
	ID              string `json:"id" db:"id"`
	Bucket          string `json:"bucket" db:"bucket"`
	PathPrefix      string `json:"pathPrefix" db:"path_prefix"`
	Region          string `json:"region" db:"region"`
	Endpoint        string `json:"endpoint,omitempty" db:"endpoint"`
	ForcePathStyle  bool   `json:"forcePathStyle" db:"force_path_style"`
	AccessKeyID     string `json:"accessKeyId" db:"access_key_id"`
	EncryptedSecretKey []byte `json:"-" db:"encrypted_secret_key"`
}

// DnsProviderKind selects the C11 provider driver (§4.11).
type DnsProviderKind string

const (
	DnsCloudflare   DnsProviderKind = "cloudflare"
	DnsDigitalOcean DnsProviderKind = "digitalocean"
	DnsRoute53      DnsProviderKind = "route53"
	DnsNamecheap    DnsProviderKind = "namecheap"
)

// DnsProviderConfig is a configured DNS account credentials record one or
// more environments can point their CustomDNS at.
type DnsProviderConfig struct {
	ID                 string            `json:"id" db:"id"`
	Kind               DnsProviderKind   `json:"kind" db:"kind"`
	EncryptedCredentials []byte          `json:"-" db:"encrypted_credentials"`
	Metadata           map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
