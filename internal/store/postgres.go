package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	// Registers the pgx stdlib driver ("pgx") that sqlx opens connections
	// through.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/model"
)

// queryer is the subset of *sqlx.DB and *sqlx.Tx every Postgres method uses.
// WithTx swaps q for the active transaction so every method call inside fn
// runs against it, without duplicating every method for the tx case.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

// Postgres is the production Store backed by jmoiron/sqlx over
// jackc/pgx/v5's database/sql driver.
type Postgres struct {
	db *sqlx.DB
	q  queryer
}

// OpenPostgres connects to dsn and verifies connectivity.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "store: connect to postgres failed")
	}
	return &Postgres{db: db, q: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql. Every statement is an idempotent
// CREATE TABLE/INDEX IF NOT EXISTS, so Migrate is safe to run on every boot.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "store: migrate failed")
	}
	return nil
}

// jsonColumn adapts an arbitrary Go value to a jsonb column via
// database/sql's Scanner/Valuer, since sqlx has no native map/slice support.
type jsonColumn struct{ v any }

func (j jsonColumn) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	return json.Marshal(j.v)
}

func (j *jsonColumn) Scan(src any) error {
	if src == nil {
		return nil
	}
	var blob []byte
	switch t := src.(type) {
	case []byte:
		blob = t
	case string:
		blob = []byte(t)
	default:
		return fmt.Errorf("store: unsupported jsonb scan source %T", src)
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, j.v)
}

func marshalJSON(v any) jsonColumn      { return jsonColumn{v: v} }
func unmarshalJSON(dst any) *jsonColumn { return &jsonColumn{v: dst} }

func isNoRows(err error) error {
	if err == sql.ErrNoRows {
		return apperr.NotFoundf("not found")
	}
	return err
}

// --- ProjectStore ---

func (p *Postgres) GetProject(ctx context.Context, id string) (model.Project, error) {
	var row struct {
		model.Project
		PresetConfig jsonColumn `db:"preset_config"`
		ResourceCaps jsonColumn `db:"resource_caps"`
		BuildArgs    jsonColumn `db:"build_args"`
	}
	row.PresetConfig = *unmarshalJSON(&row.Project.PresetConfig)
	row.ResourceCaps = *unmarshalJSON(&row.Project.ResourceCaps)
	row.BuildArgs = *unmarshalJSON(&row.Project.BuildArgs)

	err := p.q.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return model.Project{}, isNoRows(err)
	}
	return row.Project, nil
}

func (p *Postgres) CreateProject(ctx context.Context, proj model.Project) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO projects (id, slug, name, repo_owner, repo_name, main_branch, connection_id,
			preset, preset_config, exposed_port, resource_caps, build_args, screenshots_enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		proj.ID, proj.Slug, proj.Name, proj.RepoOwner, proj.RepoName, proj.MainBranch, proj.ConnectionID,
		proj.Preset, marshalJSON(proj.PresetConfig), proj.ExposedPort, marshalJSON(proj.ResourceCaps),
		marshalJSON(proj.BuildArgs), proj.ScreenshotsEnabled, proj.CreatedAt)
	return err
}

func (p *Postgres) TouchLastDeployment(ctx context.Context, projectID string) error {
	_, err := p.q.ExecContext(ctx, `UPDATE projects SET last_deployment = now() WHERE id = $1`, projectID)
	return err
}

// --- EnvironmentStore ---

func (p *Postgres) GetEnvironment(ctx context.Context, id string) (model.Environment, error) {
	env, err := p.scanEnvironment(ctx, `SELECT * FROM environments WHERE id = $1`, id)
	if err != nil {
		return model.Environment{}, isNoRows(err)
	}
	return env, nil
}

func (p *Postgres) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]model.Environment, error) {
	rows, err := p.q.QueryxContext(ctx, `SELECT * FROM environments WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Environment
	for rows.Next() {
		env, err := scanEnvironmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (p *Postgres) SetCurrentDeployment(ctx context.Context, environmentID, deploymentID string) error {
	_, err := p.q.ExecContext(ctx, `UPDATE environments SET current_deployment_id = $1 WHERE id = $2`, deploymentID, environmentID)
	return err
}

func (p *Postgres) SetEnvironmentUpstream(ctx context.Context, environmentID, upstream string) (string, error) {
	var previous sql.NullString
	// RETURNING sees the updated row, so the old head is read in a CTE.
	err := p.q.GetContext(ctx, &previous, `
		WITH old AS (SELECT COALESCE(upstreams[1], '') AS head FROM environments WHERE id = $2 FOR UPDATE)
		UPDATE environments
		SET upstreams = ARRAY[$1::text, old.head]
		FROM old
		WHERE environments.id = $2
		RETURNING old.head`, upstream, environmentID)
	if err != nil {
		return "", isNoRows(err)
	}
	return previous.String, nil
}

func (p *Postgres) GetDNSProviderConfig(ctx context.Context, id string) (model.DnsProviderConfig, error) {
	var row struct {
		model.DnsProviderConfig
		Metadata jsonColumn `db:"metadata"`
	}
	row.Metadata = *unmarshalJSON(&row.DnsProviderConfig.Metadata)
	err := p.q.GetContext(ctx, &row, `SELECT * FROM dns_provider_configs WHERE id = $1`, id)
	if err != nil {
		return model.DnsProviderConfig{}, isNoRows(err)
	}
	return row.DnsProviderConfig, nil
}

func (p *Postgres) scanEnvironment(ctx context.Context, query string, args ...any) (model.Environment, error) {
	var row struct {
		model.Environment
		ResourceCaps jsonColumn `db:"resource_caps"`
		BuildArgs    jsonColumn `db:"build_args"`
	}
	row.ResourceCaps = *unmarshalJSON(&row.Environment.ResourceCaps)
	row.BuildArgs = *unmarshalJSON(&row.Environment.BuildArgs)
	err := p.q.GetContext(ctx, &row, query, args...)
	return row.Environment, err
}

func scanEnvironmentRow(rows *sqlx.Rows) (model.Environment, error) {
	var row struct {
		model.Environment
		ResourceCaps jsonColumn `db:"resource_caps"`
		BuildArgs    jsonColumn `db:"build_args"`
	}
	row.ResourceCaps = *unmarshalJSON(&row.Environment.ResourceCaps)
	row.BuildArgs = *unmarshalJSON(&row.Environment.BuildArgs)
	if err := rows.StructScan(&row); err != nil {
		return model.Environment{}, err
	}
	return row.Environment, nil
}

// --- DeploymentStore ---

func (p *Postgres) CreateDeployment(ctx context.Context, d model.Deployment) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO deployments (id, project_id, environment_id, slug, branch_ref, tag_ref, commit_sha,
			commit_message, commit_author, commit_json, deployment_config_snapshot, state, image, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.ProjectID, d.EnvironmentID, d.Slug, d.BranchRef, d.TagRef, d.CommitSHA,
		d.CommitMessage, d.CommitAuthor, marshalJSON(d.Commit), marshalJSON(d.ConfigSnapshot), d.State, d.Image, d.CreatedAt)
	return err
}

func (p *Postgres) GetDeployment(ctx context.Context, id string) (model.Deployment, error) {
	var row struct {
		model.Deployment
		Commit         jsonColumn `db:"commit_json"`
		ConfigSnapshot jsonColumn `db:"deployment_config_snapshot"`
	}
	row.Commit = *unmarshalJSON(&row.Deployment.Commit)
	row.ConfigSnapshot = *unmarshalJSON(&row.Deployment.ConfigSnapshot)
	err := p.q.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = $1`, id)
	if err != nil {
		return model.Deployment{}, isNoRows(err)
	}
	return row.Deployment, nil
}

func (p *Postgres) CountDeploymentsForProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := p.q.GetContext(ctx, &n, `SELECT count(*) FROM deployments WHERE project_id = $1`, projectID)
	return n, err
}

func (p *Postgres) UpdateDeploymentState(ctx context.Context, id string, state model.DeploymentState, cancelledReason string) error {
	_, err := p.q.ExecContext(ctx, `UPDATE deployments SET state = $1, cancelled_reason = $2 WHERE id = $3`, state, cancelledReason, id)
	return err
}

func (p *Postgres) UpdateDeploymentConfigSnapshot(ctx context.Context, id string, snapshot model.DeploymentConfigSnapshot) error {
	_, err := p.q.ExecContext(ctx, `UPDATE deployments SET deployment_config_snapshot = $1 WHERE id = $2`, marshalJSON(snapshot), id)
	return err
}

func (p *Postgres) UpdateDeploymentContainer(ctx context.Context, id, containerName string, containerPort int) error {
	_, err := p.q.ExecContext(ctx, `UPDATE deployments SET container_name = $1, container_port = $2 WHERE id = $3`, containerName, containerPort, id)
	return err
}

func (p *Postgres) CreateJobs(ctx context.Context, jobs []model.DeploymentJob) error {
	return p.WithTx(ctx, func(ctx context.Context, tx Store) error {
		pt := tx.(*Postgres)
		for _, j := range jobs {
			_, err := pt.q.ExecContext(ctx, `
				INSERT INTO deployment_jobs (deployment_id, job_id, job_type, name, description, dependencies,
					execution_order, status, required_for_completion, job_config)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				j.DeploymentID, j.JobID, j.JobType, j.Name, j.Description, pqStringArray(j.Dependencies),
				j.ExecutionOrder, j.Status, j.RequiredForCompletion, marshalJSON(j.Config))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) ListJobs(ctx context.Context, deploymentID string) ([]model.DeploymentJob, error) {
	rows, err := p.q.QueryxContext(ctx, `SELECT * FROM deployment_jobs WHERE deployment_id = $1 ORDER BY execution_order`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DeploymentJob
	for rows.Next() {
		var row struct {
			model.DeploymentJob
			Config jsonColumn `db:"job_config"`
		}
		row.Config = *unmarshalJSON(&row.DeploymentJob.Config)
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out = append(out, row.DeploymentJob)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateJob(ctx context.Context, job model.DeploymentJob) error {
	_, err := p.q.ExecContext(ctx, `
		UPDATE deployment_jobs SET status = $1, status_detail = $2, error_message = $3,
			started_at = $4, finished_at = $5, log_path = $6
		WHERE deployment_id = $7 AND job_id = $8`,
		job.Status, job.StatusDetail, job.ErrorMessage, job.StartedAt, job.FinishedAt, job.LogPath,
		job.DeploymentID, job.JobID)
	return err
}

// --- ServiceStore ---

func (p *Postgres) CreateService(ctx context.Context, s model.ExternalService) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO external_services (id, slug, name, type, encrypted_config, health, container_name, container_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.Slug, s.Name, s.Type, s.EncryptedConfig, s.Health, s.ContainerName, s.ContainerID, s.Status, s.CreatedAt)
	return err
}

func (p *Postgres) GetService(ctx context.Context, id string) (model.ExternalService, error) {
	var s model.ExternalService
	err := p.q.GetContext(ctx, &s, `SELECT * FROM external_services WHERE id = $1`, id)
	if err != nil {
		return model.ExternalService{}, isNoRows(err)
	}
	return s, nil
}

func (p *Postgres) ListServices(ctx context.Context) ([]model.ExternalService, error) {
	var out []model.ExternalService
	err := p.q.SelectContext(ctx, &out, `SELECT * FROM external_services ORDER BY id`)
	return out, err
}

func (p *Postgres) UpdateService(ctx context.Context, s model.ExternalService) error {
	_, err := p.q.ExecContext(ctx, `
		UPDATE external_services SET name = $1, encrypted_config = $2, health = $3,
			container_name = $4, container_id = $5, status = $6 WHERE id = $7`,
		s.Name, s.EncryptedConfig, s.Health, s.ContainerName, s.ContainerID, s.Status, s.ID)
	return err
}

func (p *Postgres) DeleteService(ctx context.Context, id string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM external_services WHERE id = $1`, id)
	return err
}

func (p *Postgres) LinkService(ctx context.Context, projectID, serviceID string) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO project_service_links (project_id, service_id, created_at) VALUES ($1,$2,now())
		ON CONFLICT DO NOTHING`, projectID, serviceID)
	return err
}

func (p *Postgres) UnlinkService(ctx context.Context, projectID, serviceID string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM project_service_links WHERE project_id = $1 AND service_id = $2`, projectID, serviceID)
	return err
}

func (p *Postgres) ListLinkedServices(ctx context.Context, projectID string) ([]model.ExternalService, error) {
	var out []model.ExternalService
	err := p.q.SelectContext(ctx, &out, `
		SELECT es.* FROM external_services es
		JOIN project_service_links l ON l.service_id = es.id
		WHERE l.project_id = $1 ORDER BY es.id`, projectID)
	return out, err
}

// --- BackupStore ---

func (p *Postgres) CreateBackup(ctx context.Context, b model.Backup) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO backups (id, schedule_id, state, started_at, finished_at, size_bytes,
			s3_location, checksum, compression_type, tags, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.ScheduleID, b.State, b.StartedAt, b.FinishedAt, b.SizeBytes,
		b.S3Location, b.Checksum, b.CompressionType, marshalJSON(b.Tags), b.ExpiresAt)
	return err
}

func (p *Postgres) UpdateBackup(ctx context.Context, b model.Backup) error {
	_, err := p.q.ExecContext(ctx, `
		UPDATE backups SET state = $1, started_at = $2, finished_at = $3, size_bytes = $4,
			s3_location = $5, checksum = $6, compression_type = $7, tags = $8, expires_at = $9
		WHERE id = $10`,
		b.State, b.StartedAt, b.FinishedAt, b.SizeBytes, b.S3Location, b.Checksum,
		b.CompressionType, marshalJSON(b.Tags), b.ExpiresAt, b.ID)
	return err
}

func (p *Postgres) GetBackup(ctx context.Context, id string) (model.Backup, error) {
	var row struct {
		model.Backup
		Tags jsonColumn `db:"tags"`
	}
	row.Tags = *unmarshalJSON(&row.Backup.Tags)
	err := p.q.GetContext(ctx, &row, `SELECT * FROM backups WHERE id = $1`, id)
	if err != nil {
		return model.Backup{}, isNoRows(err)
	}
	return row.Backup, nil
}

func (p *Postgres) ListBackups(ctx context.Context) ([]model.Backup, error) {
	return p.queryBackups(ctx, `SELECT * FROM backups ORDER BY started_at DESC NULLS LAST`)
}

func (p *Postgres) ListExpiredBackups(ctx context.Context) ([]model.Backup, error) {
	return p.queryBackups(ctx, `SELECT * FROM backups WHERE expires_at IS NOT NULL AND expires_at < now()`)
}

func (p *Postgres) queryBackups(ctx context.Context, query string, args ...any) ([]model.Backup, error) {
	rows, err := p.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		var row struct {
			model.Backup
			Tags jsonColumn `db:"tags"`
		}
		row.Tags = *unmarshalJSON(&row.Backup.Tags)
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out = append(out, row.Backup)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteBackup(ctx context.Context, id string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM backups WHERE id = $1`, id)
	return err
}

func (p *Postgres) CreateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO external_service_backups (backup_id, service_id, s3_location, size_bytes, state, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		b.BackupID, b.ServiceID, b.S3Location, b.SizeBytes, b.State, marshalJSON(b.Metadata))
	return err
}

func (p *Postgres) UpdateServiceBackup(ctx context.Context, b model.ExternalServiceBackup) error {
	_, err := p.q.ExecContext(ctx, `
		UPDATE external_service_backups SET s3_location = $1, size_bytes = $2, state = $3, metadata = $4
		WHERE backup_id = $5 AND service_id = $6`,
		b.S3Location, b.SizeBytes, b.State, marshalJSON(b.Metadata), b.BackupID, b.ServiceID)
	return err
}

func (p *Postgres) ListServiceBackups(ctx context.Context, backupID string) ([]model.ExternalServiceBackup, error) {
	rows, err := p.q.QueryxContext(ctx, `SELECT * FROM external_service_backups WHERE backup_id = $1`, backupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExternalServiceBackup
	for rows.Next() {
		var row struct {
			model.ExternalServiceBackup
			Metadata jsonColumn `db:"metadata"`
		}
		row.Metadata = *unmarshalJSON(&row.ExternalServiceBackup.Metadata)
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out = append(out, row.ExternalServiceBackup)
	}
	return out, rows.Err()
}

func (p *Postgres) GetS3Source(ctx context.Context, id string) (model.S3Source, error) {
	var s model.S3Source
	err := p.q.GetContext(ctx, &s, `SELECT * FROM s3_sources WHERE id = $1`, id)
	if err != nil {
		return model.S3Source{}, isNoRows(err)
	}
	return s, nil
}

func (p *Postgres) ListSchedules(ctx context.Context) ([]model.BackupSchedule, error) {
	var out []model.BackupSchedule
	err := p.q.SelectContext(ctx, &out, `SELECT * FROM backup_schedules WHERE enabled`)
	return out, err
}

func (p *Postgres) UpdateSchedule(ctx context.Context, s model.BackupSchedule) error {
	_, err := p.q.ExecContext(ctx, `UPDATE backup_schedules SET next_run = $1, last_run = $2 WHERE id = $3`, s.NextRun, s.LastRun, s.ID)
	return err
}

// pqStringArray renders a Go string slice as a Postgres text[] literal.
func pqStringArray(ss []string) string {
	if len(ss) == 0 {
		return "{}"
	}
	blob, _ := json.Marshal(ss)
	// {"a","b"} is valid array-literal syntax for a JSON-escaped text array.
	return "{" + string(blob[1:len(blob)-1]) + "}"
}

// --- WithTx ---

// WithTx runs fn against a Postgres view whose q is the active *sqlx.Tx, so
// every Store method called inside fn commits or rolls back atomically,
// mirroring Memory's txView pattern for WithTx (§5).
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "store: begin transaction failed")
	}

	view := &Postgres{db: p.db, q: tx}
	if err := fn(ctx, view); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
