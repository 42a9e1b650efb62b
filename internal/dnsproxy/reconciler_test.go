package dnsproxy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/crypto"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// fakeAdapter records Stop/Remove calls; every other method is a no-op.
type fakeAdapter struct {
	stopped  []string
	removed  []string
}

func (f *fakeAdapter) Pull(ctx context.Context, image, tag string) error { return nil }
func (f *fakeAdapter) Build(ctx context.Context, buildContext []byte, opts container.BuildOptions) error {
	return nil
}
func (f *fakeAdapter) EnsureNetwork(ctx context.Context, name string) error { return nil }
func (f *fakeAdapter) Create(ctx context.Context, spec container.Spec) (string, error) {
	return "", nil
}
func (f *fakeAdapter) Start(ctx context.Context, id string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, id string, grace time.Duration) error {
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeAdapter) Remove(ctx context.Context, id string, force bool) error {
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeAdapter) Exec(ctx context.Context, id string, argv []string, env map[string]string) (container.ExecResult, error) {
	return container.ExecResult{}, nil
}
func (f *fakeAdapter) Upload(ctx context.Context, id string, tarBytes []byte, destPath string) error {
	return nil
}
func (f *fakeAdapter) Download(ctx context.Context, id string, path string) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) Inspect(ctx context.Context, id string) (container.Status, error) {
	return container.Status{}, nil
}
func (f *fakeAdapter) WaitHealthy(ctx context.Context, id string, deadline time.Duration) error {
	return nil
}
func (f *fakeAdapter) FindByLabels(ctx context.Context, labels map[string]string) ([]string, error) {
	return nil, nil
}

func testCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	svc, err := crypto.New(key)
	require.NoError(t, err)
	return svc
}

func TestReconcileSwapsUpstreamAndSchedulesTeardown(t *testing.T) {
	mem := store.NewMemory()
	mem.PutEnvironment(model.Environment{ID: "env1", ProjectID: "p1"})
	require.NoError(t, mem.CreateDeployment(context.Background(), model.Deployment{
		ID: "d1", ProjectID: "p1", EnvironmentID: "env1",
		ContainerName: "temps-deploy-d1", ContainerPort: 3000,
	}))

	adapter := &fakeAdapter{}
	r := New(mem, adapter, testCrypto(t), "", nil)
	r.teardownGrace = time.Millisecond

	err := r.Reconcile(context.Background(), "env1", "d1")
	require.NoError(t, err)

	env, err := mem.GetEnvironment(context.Background(), "env1")
	require.NoError(t, err)
	require.Equal(t, "temps-deploy-d1:3000", env.Upstreams[0])

	// Second deployment supersedes the first; teardown of the previous
	// upstream is scheduled after the grace period.
	require.NoError(t, mem.CreateDeployment(context.Background(), model.Deployment{
		ID: "d2", ProjectID: "p1", EnvironmentID: "env1",
		ContainerName: "temps-deploy-d2", ContainerPort: 3000,
	}))
	err = r.Reconcile(context.Background(), "env1", "d2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(adapter.stopped) == 1 && adapter.stopped[0] == "temps-deploy-d1"
	}, time.Second, time.Millisecond, "expected previous container to be torn down")
}

func TestReconcileSyncsDNSRecordWhenCustomDNSEnabled(t *testing.T) {
	mem := store.NewMemory()
	crypt := testCrypto(t)

	creds, err := json.Marshal(map[string]string{"api_token": "tok"})
	require.NoError(t, err)
	encrypted, err := crypt.Encrypt(creds)
	require.NoError(t, err)
	mem.PutDNSProviderConfig(model.DnsProviderConfig{ID: "prov1", Kind: model.DnsProviderKind("fake"), EncryptedCredentials: encrypted})

	_ = RegisterProvider(model.DnsProviderKind("fake"), func(creds map[string]string) (Provider, error) {
		return newFakeProvider(), nil
	})

	enabled := true
	mem.PutEnvironment(model.Environment{
		ID: "env2", ProjectID: "p1", Host: "example.com", Subdomain: "app",
		CustomDNS: &enabled, DNSProviderID: "prov1",
	})
	require.NoError(t, mem.CreateDeployment(context.Background(), model.Deployment{
		ID: "d3", ProjectID: "p1", EnvironmentID: "env2",
		ContainerName: "temps-deploy-d3", ContainerPort: 3000,
	}))

	r := New(mem, &fakeAdapter{}, crypt, "platform.example.net", nil)
	err = r.Reconcile(context.Background(), "env2", "d3")
	require.NoError(t, err)
}
