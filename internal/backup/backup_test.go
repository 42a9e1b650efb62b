package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/model"
)

func TestDumpCommandPerServiceType(t *testing.T) {
	argv, err := DumpCommand(model.ExternalService{Type: model.ServicePostgres}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"pg_dumpall", "--clean", "--if-exists"}, argv)

	argv, err = DumpCommand(model.ExternalService{Slug: "mongo-1", Type: model.ServiceMongoDB}, map[string]any{
		"user": "root", "password": "secret",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"mongodump", "--archive", "--gzip", "--db", "mongo-1_production", "-u", "root", "-p", "secret", "--authenticationDatabase", "admin"}, argv)

	_, err = DumpCommand(model.ExternalService{Type: model.ServiceBlob}, nil)
	require.Error(t, err, "blob services have no dump tool")
}

func TestRestoreCommandPerServiceType(t *testing.T) {
	argv, err := RestoreCommand(model.ExternalService{Type: model.ServicePostgres}, "/backup.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"psql", "-f", "/backup.sql"}, argv)

	argv, err = RestoreCommand(model.ExternalService{Type: model.ServiceMongoDB}, "/backup.gz")
	require.NoError(t, err)
	require.Equal(t, []string{"mongorestore", "--archive=/backup.gz", "--gzip", "--drop"}, argv)
}

func TestEnsureGzipSkipsAlreadyCompressedMongoArchive(t *testing.T) {
	raw := []byte("mongodump archive bytes")

	out, ext, err := ensureGzip(raw, model.ServiceMongoDB)
	require.NoError(t, err)
	require.Equal(t, raw, out, "mongodump output is already gzip-compressed")
	require.Equal(t, "archive.gz", ext)

	out, ext, err = ensureGzip(raw, model.ServicePostgres)
	require.NoError(t, err)
	require.NotEqual(t, raw, out)
	require.Equal(t, "sql.gz", ext)

	roundTrip, err := gunzip(out)
	require.NoError(t, err)
	require.Equal(t, raw, roundTrip)
}

func TestPathHelpers(t *testing.T) {
	require.Equal(t, "backup.sql", lastPathSegment("/backup.sql"))
	require.Equal(t, "/", pathDir("/backup.sql"))
	require.Equal(t, "/tmp", pathDir("/tmp/backup.sql"))
}

func TestComputeExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.Nil(t, computeExpiresAt(now, 0), "manual backups with no schedule keep indefinitely")
	require.Nil(t, computeExpiresAt(now, -1))

	got := computeExpiresAt(now, 30)
	require.NotNil(t, got)
	require.Equal(t, now.AddDate(0, 0, 30), *got)
}
