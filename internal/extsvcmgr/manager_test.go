package extsvcmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/temps-sh/temps-core/internal/crypto"
	_ "github.com/temps-sh/temps-core/internal/extsvc"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

func testCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	c, err := crypto.New(key)
	require.NoError(t, err)
	return c
}

func TestCreateRollsBackOnDriverInitFailure(t *testing.T) {
	s := store.NewMemory()
	mgr := New(s, nil, testCrypto(t), zaptest.NewLogger(t))

	// A blob config without a slug is stored as a pending row and then
	// rejected by the blob driver's Init, which forces the rollback path.
	_, err := mgr.Create(context.Background(), "svc-1", "svc-1", "My Service", model.ServiceBlob, map[string]any{})
	require.Error(t, err)

	_, getErr := s.GetService(context.Background(), "svc-1")
	require.Error(t, getErr, "rolled-back create must not leave a row behind")
}

func TestCreateBlobServicePersistsEncryptedConfig(t *testing.T) {
	s := store.NewMemory()
	mgr := New(s, nil, testCrypto(t), zaptest.NewLogger(t))

	svc, err := mgr.Create(context.Background(), "svc-1", "blob-1", "Blob One", model.ServiceBlob, map[string]any{"slug": "blob-1"})
	require.NoError(t, err)
	require.Equal(t, "running", svc.Status)
	require.NotEmpty(t, svc.EncryptedConfig)

	cfg, err := mgr.DecryptConfig(svc)
	require.NoError(t, err)
	require.Equal(t, "blob-1", cfg["slug"])
}

func TestLinkAndEffectiveEnvVars(t *testing.T) {
	s := store.NewMemory()
	mgr := New(s, nil, testCrypto(t), zaptest.NewLogger(t))

	svc, err := mgr.Create(context.Background(), "svc-1", "blob-1", "Blob One", model.ServiceBlob, map[string]any{"slug": "blob-1"})
	require.NoError(t, err)

	require.NoError(t, mgr.Link(context.Background(), "proj-1", svc.ID))

	vars, err := mgr.EffectiveEnvVars(context.Background(), "proj-1", "production")
	require.NoError(t, err)
	require.Contains(t, vars, "S3_BUCKET")
	require.Contains(t, vars, "S3_ACCESS_KEY")

	preview, err := mgr.PreviewEnvVars(context.Background(), "proj-1", "production")
	require.NoError(t, err)
	var sawMaskedKey bool
	for _, p := range preview {
		if p.Name == "S3_ACCESS_KEY" {
			sawMaskedKey = true
			require.Equal(t, "***", p.Value)
		}
	}
	require.True(t, sawMaskedKey)
}

func TestDeleteIsNoOpSafeWhenMissing(t *testing.T) {
	s := store.NewMemory()
	mgr := New(s, nil, testCrypto(t), zaptest.NewLogger(t))
	require.NoError(t, mgr.Delete(context.Background(), "does-not-exist"))
}
