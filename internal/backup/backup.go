// Package backup implements the Backup Engine (C10): per-service dump and
// restore routines that stream through the container runtime into and out
// of S3, plus a bucket-level index and a cron-driven schedule runner.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/crypto"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// DumpCommand returns the argv that produces a dump of svc's data on stdout.
// Grounded on §4.10's per-service tool table.
func DumpCommand(svc model.ExternalService, config map[string]any) ([]string, error) {
	switch svc.Type {
	case model.ServicePostgres:
		return []string{"pg_dumpall", "--clean", "--if-exists"}, nil
	case model.ServiceMongoDB:
		user, _ := config["user"].(string)
		password, _ := config["password"].(string)
		db := fmt.Sprintf("%s_%s", svc.Slug, "production")
		return []string{"mongodump", "--archive", "--gzip", "--db", db, "-u", user, "-p", password, "--authenticationDatabase", "admin"}, nil
	default:
		return nil, apperr.Validationf("backup: service type %q has no dump command", svc.Type)
	}
}

// RestoreCommand returns the argv that restores a dump placed at destPath
// inside the container.
func RestoreCommand(svc model.ExternalService, destPath string) ([]string, error) {
	switch svc.Type {
	case model.ServicePostgres:
		return []string{"psql", "-f", destPath}, nil
	case model.ServiceMongoDB:
		return []string{"mongorestore", fmt.Sprintf("--archive=%s", destPath), "--gzip", "--drop"}, nil
	default:
		return nil, apperr.Validationf("backup: service type %q has no restore command", svc.Type)
	}
}

// Engine drives backup/restore runs and the bucket index (§4.10).
type Engine struct {
	store   store.Store
	adapter container.Adapter
	crypt   *crypto.Service
	log     *zap.Logger
}

func New(s store.Store, adapter container.Adapter, crypt *crypto.Service, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, adapter: adapter, crypt: crypt, log: log}
}

func (e *Engine) s3Client(ctx context.Context, src model.S3Source) (*s3.Client, error) {
	secretKey, err := e.crypt.DecryptString(src.EncryptedSecretKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, err, "backup: failed to decrypt s3 secret key")
	}
	region := src.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(src.AccessKeyID, secretKey, "")),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "backup: failed to load aws config")
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if src.Endpoint != "" {
			o.BaseEndpoint = aws.String(src.Endpoint)
		}
		o.UsePathStyle = src.ForcePathStyle
	}), nil
}

// BackupService runs the §4.10 per-service backup pattern for one external
// service into src, recording Backup and ExternalServiceBackup rows and
// updating index.json. retentionDays, when positive, sets ExpiresAt so the
// retention sweep (PruneExpired) later reclaims this backup; 0 means keep
// indefinitely (manual, non-scheduled backups).
func (e *Engine) BackupService(ctx context.Context, svc model.ExternalService, config map[string]any, src model.S3Source, scheduleID *string, retentionDays int) (model.Backup, error) {
	now := time.Now()
	b := model.Backup{ID: uuid.NewString(), ScheduleID: scheduleID, State: model.BackupRunning, StartedAt: &now, ExpiresAt: computeExpiresAt(now, retentionDays)}
	if err := e.store.CreateBackup(ctx, b); err != nil {
		return model.Backup{}, err
	}
	svcBackup := model.ExternalServiceBackup{BackupID: b.ID, ServiceID: svc.ID, State: model.BackupRunning}
	if err := e.store.CreateServiceBackup(ctx, svcBackup); err != nil {
		return model.Backup{}, err
	}

	size, location, err := e.dumpAndUpload(ctx, svc, config, src)
	if err != nil {
		svcBackup.State = model.BackupFailed
		_ = e.store.UpdateServiceBackup(ctx, svcBackup)
		b.State = model.BackupFailed
		finished := time.Now()
		b.FinishedAt = &finished
		_ = e.store.UpdateBackup(ctx, b)
		return model.Backup{}, err
	}

	svcBackup.State = model.BackupCompleted
	svcBackup.S3Location = location
	svcBackup.SizeBytes = &size
	if err := e.store.UpdateServiceBackup(ctx, svcBackup); err != nil {
		return model.Backup{}, err
	}

	finished := time.Now()
	b.State = model.BackupCompleted
	b.FinishedAt = &finished
	b.SizeBytes = size
	b.S3Location = location
	if err := e.store.UpdateBackup(ctx, b); err != nil {
		return model.Backup{}, err
	}

	if err := e.appendIndexEntry(ctx, src, IndexEntry{
		BackupID:  b.ID,
		Name:      svc.Slug,
		Type:      string(svc.Type),
		CreatedAt: finished,
		SizeBytes: size,
		Location:  location,
	}); err != nil {
		e.log.Warn("backup: index update failed", zap.String("backup", b.ID), zap.Error(err))
	}

	return b, nil
}

// computeExpiresAt returns now + retentionDays, or nil when retentionDays
// is not positive (keep indefinitely).
func computeExpiresAt(now time.Time, retentionDays int) *time.Time {
	if retentionDays <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, retentionDays)
	return &t
}

func (e *Engine) dumpAndUpload(ctx context.Context, svc model.ExternalService, config map[string]any, src model.S3Source) (int64, string, error) {
	argv, err := DumpCommand(svc, config)
	if err != nil {
		return 0, "", err
	}
	if svc.ContainerID == "" {
		return 0, "", apperr.Validationf("backup: service %s has no running container", svc.Slug)
	}

	result, err := e.adapter.Exec(ctx, svc.ContainerID, argv, nil)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.External, err, "backup: dump exec failed for %s", svc.Slug)
	}
	if result.ExitCode != 0 {
		return 0, "", apperr.New(apperr.External, fmt.Sprintf("backup: dump tool exited %d for %s: %s", result.ExitCode, svc.Slug, string(result.Stderr)), nil)
	}

	compressed, ext, err := ensureGzip(result.Stdout, svc.Type)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.Internal, err, "backup: compression failed")
	}

	key := fmt.Sprintf("%s/%s/%s_backup_%s.%s", src.PathPrefix, svc.Slug, svc.Type, time.Now().Format("20060102_150405"), ext)
	cli, err := e.s3Client(ctx, src)
	if err != nil {
		return 0, "", err
	}
	if _, err := cli.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(src.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/gzip"),
	}); err != nil {
		return 0, "", apperr.Wrap(apperr.External, err, "backup: s3 put failed")
	}

	return int64(len(compressed)), key, nil
}

// ensureGzip compresses raw unless it's already the mongodump archive
// format, which is already gzip-compressed at the source (§4.10 step 3).
func ensureGzip(raw []byte, kind model.ServiceType) ([]byte, string, error) {
	if kind == model.ServiceMongoDB {
		return raw, "archive.gz", nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, "", err
	}
	if err := gw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "sql.gz", nil
}

// RestoreService downloads the named object, decompresses it, uploads it
// into the container, and runs the restore tool (§4.10, inverse of backup).
func (e *Engine) RestoreService(ctx context.Context, svc model.ExternalService, src model.S3Source, key string) error {
	cli, err := e.s3Client(ctx, src)
	if err != nil {
		return err
	}
	out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(src.Bucket), Key: aws.String(key)})
	if err != nil {
		return apperr.Wrap(apperr.External, err, "backup: s3 get failed for restore")
	}
	defer out.Body.Close()
	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "backup: reading restore object failed")
	}

	destPath := "/backup.sql"
	if svc.Type == model.ServiceMongoDB {
		destPath = "/backup.gz"
	} else {
		blob, err = gunzip(blob)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "backup: decompression failed")
		}
	}

	tarball, err := container.TarSingleFile(lastPathSegment(destPath), blob, 0o600)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "backup: tar build failed")
	}
	if err := e.adapter.Upload(ctx, svc.ContainerID, tarball, pathDir(destPath)); err != nil {
		return apperr.Wrap(apperr.External, err, "backup: upload into container failed")
	}

	argv, err := RestoreCommand(svc, destPath)
	if err != nil {
		return err
	}
	result, err := e.adapter.Exec(ctx, svc.ContainerID, argv, nil)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "backup: restore exec failed")
	}
	if result.ExitCode != 0 {
		return apperr.New(apperr.External, fmt.Sprintf("backup: restore tool exited %d: %s", result.ExitCode, string(result.Stderr)), nil)
	}
	return nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func lastPathSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func pathDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "/"
}

// Scheduler drives BackupSchedule rows with robfig/cron, invoking the
// manager's backup routine on each fire and pruning expired backups.
type Scheduler struct {
	engine *Engine
	store  store.Store
	cron   *cron.Cron
	log    *zap.Logger
}

func NewScheduler(engine *Engine, s store.Store, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: engine, store: s, cron: cron.New(), log: log}
}

// Start loads enabled schedules and registers a cron entry for each, plus a
// daily retention sweep per S3 source in use.
func (sc *Scheduler) Start(ctx context.Context, run func(ctx context.Context, schedule model.BackupSchedule) error, sourceOf func(ctx context.Context, scheduleID string) (model.S3Source, error)) error {
	schedules, err := sc.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	seenSources := map[string]bool{}
	for _, s := range schedules {
		s := s
		if !s.Enabled {
			continue
		}
		if _, err := sc.cron.AddFunc(s.Cron, func() {
			if err := run(ctx, s); err != nil {
				sc.log.Warn("backup: scheduled run failed", zap.String("schedule", s.ID), zap.Error(err))
			}
		}); err != nil {
			sc.log.Warn("backup: invalid cron expression", zap.String("schedule", s.ID), zap.Error(err))
		}

		if seenSources[s.S3SourceID] {
			continue
		}
		seenSources[s.S3SourceID] = true
		src, err := sourceOf(ctx, s.ID)
		if err != nil {
			sc.log.Warn("backup: failed to resolve s3 source for retention sweep", zap.String("schedule", s.ID), zap.Error(err))
			continue
		}
		if _, err := sc.cron.AddFunc("@daily", func() {
			if _, err := sc.PruneExpired(ctx, src); err != nil {
				sc.log.Warn("backup: retention sweep failed", zap.String("source", src.ID), zap.Error(err))
			}
		}); err != nil {
			return apperr.Wrap(apperr.Internal, err, "backup: failed to register retention sweep")
		}
	}
	sc.cron.Start()
	return nil
}

func (sc *Scheduler) Stop() {
	sc.cron.Stop()
}

// PruneExpired deletes S3 objects and rows for backups past expires_at, and
// rewrites index.json to drop the corresponding entries (§9 Open Question
// decision: delete-then-atomic-rewrite rather than a conditional-write CAS,
// since the sweep runs single-threaded against one bucket at a time). src
// identifies the bucket this sweep owns; the scheduler invokes one sweep per
// S3 source.
func (sc *Scheduler) PruneExpired(ctx context.Context, src model.S3Source) (int, error) {
	expired, err := sc.store.ListExpiredBackups(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	var removedLocations []string
	for _, b := range expired {
		svcBackups, err := sc.store.ListServiceBackups(ctx, b.ID)
		if err != nil {
			sc.log.Warn("backup: list service backups failed during prune", zap.String("backup", b.ID), zap.Error(err))
			continue
		}
		for _, sb := range svcBackups {
			if err := sc.engine.deleteObject(ctx, src, sb.S3Location); err != nil {
				sc.log.Warn("backup: delete object failed during prune", zap.String("location", sb.S3Location), zap.Error(err))
			}
		}
		if b.S3Location != "" {
			if err := sc.engine.deleteObject(ctx, src, b.S3Location); err != nil {
				sc.log.Warn("backup: delete object failed during prune", zap.String("location", b.S3Location), zap.Error(err))
			}
			removedLocations = append(removedLocations, b.S3Location)
		}
		if err := sc.store.DeleteBackup(ctx, b.ID); err != nil {
			sc.log.Warn("backup: delete backup row failed during prune", zap.String("backup", b.ID), zap.Error(err))
			continue
		}
		pruned++
	}
	if pruned > 0 {
		if err := sc.engine.removeIndexEntries(ctx, src, removedLocations); err != nil {
			sc.log.Warn("backup: index rewrite failed during prune", zap.Error(err))
		}
	}
	return pruned, nil
}

func (e *Engine) deleteObject(ctx context.Context, src model.S3Source, key string) error {
	if key == "" {
		return nil
	}
	cli, err := e.s3Client(ctx, src)
	if err != nil {
		return err
	}
	_, err = cli.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(src.Bucket), Key: aws.String(key)})
	return err
}
