package dnsproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/crypto"
	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// defaultTeardownGrace is the configurable grace period (§4.11 step 5)
// between a new upstream going live and the previous container's teardown.
const defaultTeardownGrace = 30 * time.Second

// Reconciler subscribes to DeploymentCompleted and drives the environment's
// proxy upstream + optional DNS record to match the new current deployment.
type Reconciler struct {
	store         store.Store
	adapter       container.Adapter
	crypt         *crypto.Service
	log           *zap.Logger
	teardownGrace time.Duration
	publicAddr    string
}

// New constructs a Reconciler. publicAddr is the platform's externally
// reachable address, used as the A/AAAA/CNAME target for environments with
// custom DNS configured (§4.11 step 4).
func New(s store.Store, adapter container.Adapter, crypt *crypto.Service, publicAddr string, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: s, adapter: adapter, crypt: crypt, log: log, teardownGrace: defaultTeardownGrace, publicAddr: publicAddr}
}

// Run subscribes to the bus and reconciles every DeploymentCompleted event
// until ctx is done.
func (r *Reconciler) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.Kind != events.KindDeploymentCompleted || ev.Deployment == nil {
				continue
			}
			payload := *ev.Deployment
			if err := r.Reconcile(ctx, payload.EnvironmentID, payload.DeploymentID); err != nil {
				r.log.Warn("dnsproxy: reconcile failed",
					zap.String("environment", payload.EnvironmentID), zap.String("deployment", payload.DeploymentID), zap.Error(err))
			}
		}
	}
}

// Reconcile implements §4.11 steps 1-5 for one DeploymentCompleted event.
func (r *Reconciler) Reconcile(ctx context.Context, environmentID, deploymentID string) error {
	env, err := r.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}
	deployment, err := r.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if deployment.ContainerName == "" {
		return apperr.New(apperr.Internal, "dnsproxy: completed deployment has no container recorded", nil)
	}

	upstream := fmt.Sprintf("%s:%d", deployment.ContainerName, deployment.ContainerPort)
	previous, err := r.store.SetEnvironmentUpstream(ctx, environmentID, upstream)
	if err != nil {
		return err
	}

	if env.CustomDNS != nil && *env.CustomDNS && env.DNSProviderID != "" {
		if err := r.syncDNSRecord(ctx, env); err != nil {
			r.log.Warn("dnsproxy: dns record sync failed", zap.String("environment", environmentID), zap.Error(err))
		}
	}

	if previous == "" || previous == upstream {
		return nil
	}
	go r.teardownPrevious(previous)
	return nil
}

// syncDNSRecord points env's configured DNS record at the platform's public
// address (§4.11 step 4).
func (r *Reconciler) syncDNSRecord(ctx context.Context, env model.Environment) error {
	if r.publicAddr == "" {
		return apperr.New(apperr.Internal, "dnsproxy: no public address configured for DNS sync", nil)
	}
	cfg, err := r.store.GetDNSProviderConfig(ctx, env.DNSProviderID)
	if err != nil {
		return err
	}
	provider, err := r.buildProvider(cfg)
	if err != nil {
		return err
	}

	recordType := RecordCNAME
	content := RecordContent{Type: RecordCNAME, Target: r.publicAddr}
	if !provider.Capabilities().Supports(recordType) {
		recordType = RecordA
		content = RecordContent{Type: RecordA, Address: r.publicAddr}
		if !provider.Capabilities().Supports(recordType) {
			return apperr.Validationf("dnsproxy: provider %s supports neither CNAME nor A records", provider.Kind())
		}
	}

	name := env.DNSRecordName
	if name == "" {
		name = env.Subdomain
	}
	_, err = SetRecord(ctx, provider, env.Host, RecordRequest{Name: name, Content: content, TTL: 300})
	return err
}

func (r *Reconciler) buildProvider(cfg model.DnsProviderConfig) (Provider, error) {
	ctor, ok := LookupProvider(cfg.Kind)
	if !ok {
		return nil, apperr.Validationf("dnsproxy: unknown provider kind %q", cfg.Kind)
	}
	creds, err := r.decryptCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return ctor(creds)
}

func (r *Reconciler) decryptCredentials(cfg model.DnsProviderConfig) (map[string]string, error) {
	blob, err := r.crypt.Decrypt(cfg.EncryptedCredentials)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, err, "dnsproxy: failed to decrypt provider credentials")
	}
	var creds map[string]string
	if err := json.Unmarshal(blob, &creds); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "dnsproxy: failed to parse provider credentials")
	}
	return creds, nil
}

// teardownPrevious stops and removes the previous upstream's container after
// the grace period (§4.11 step 5). The upstream string is "name:port"; only
// the name identifies the container to the runtime.
func (r *Reconciler) teardownPrevious(upstream string) {
	time.Sleep(r.teardownGrace)
	name := upstream
	for i, c := range upstream {
		if c == ':' {
			name = upstream[:i]
			break
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.adapter.Stop(ctx, name, 10*time.Second); err != nil {
		r.log.Warn("dnsproxy: teardown stop failed", zap.String("container", name), zap.Error(err))
		return
	}
	if err := r.adapter.Remove(ctx, name, true); err != nil {
		r.log.Warn("dnsproxy: teardown remove failed", zap.String("container", name), zap.Error(err))
	}
}
