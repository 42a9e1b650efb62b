// Package extsvcmgr implements the External Service Manager (C6): it owns
// the registry records and mediates every user-facing operation on them,
// dispatching to the driver registered for a service's type (internal/extsvc)
// and persisting through internal/store.
package extsvcmgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/crypto"
	"github.com/temps-sh/temps-core/internal/extsvc"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

// Manager mediates CRUD, linking and effective-env-var computation for
// external services.
type Manager struct {
	store   store.Store
	adapter container.Adapter
	crypt   *crypto.Service
	log     *zap.Logger
}

// New builds a Manager. crypt encrypts/decrypts the per-service config blob
// at rest (§7: service configs carry credentials).
func New(s store.Store, adapter container.Adapter, crypt *crypto.Service, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: s, adapter: adapter, crypt: crypt, log: log}
}

func (m *Manager) driverFor(kind model.ServiceType) (extsvc.ExternalService, error) {
	ctor, ok := extsvc.LookupDriver(kind)
	if !ok {
		return nil, apperr.Validationf("extsvcmgr: no driver registered for service type %q", kind)
	}
	return ctor(m.adapter), nil
}

// Create persists a pending row, materialises the container via
// driver.Init, then promotes the row to running — or rolls it back on
// failure (§4.6). config is not checked against the driver's parameter
// schema here; a missing or malformed field surfaces as a driver.Init error.
func (m *Manager) Create(ctx context.Context, id, slug, name string, kind model.ServiceType, config map[string]any) (model.ExternalService, error) {
	driver, err := m.driverFor(kind)
	if err != nil {
		return model.ExternalService{}, err
	}

	svc := model.ExternalService{
		ID:     id,
		Slug:   slug,
		Name:   name,
		Type:   kind,
		Health: model.HealthUnknown,
		Status: "pending",
	}
	if err := m.persistConfig(&svc, config); err != nil {
		return model.ExternalService{}, err
	}
	if err := m.store.CreateService(ctx, svc); err != nil {
		return model.ExternalService{}, err
	}

	eff, err := driver.Init(ctx, config)
	if err != nil {
		// Roll back: the row never reached "running", delete it so a retry
		// doesn't trip the slug/name uniqueness check.
		_ = m.store.DeleteService(ctx, svc.ID)
		return model.ExternalService{}, apperr.Wrap(apperr.External, err, "extsvcmgr: driver init failed for %s", slug)
	}

	if err := m.persistConfig(&svc, eff); err != nil {
		return model.ExternalService{}, err
	}
	svc.Status = "running"
	svc.Health = model.HealthHealthy
	if containerID, ok := eff["containerId"].(string); ok {
		svc.ContainerID = containerID
	}
	if containerName, ok := eff["containerName"].(string); ok {
		svc.ContainerName = containerName
	}
	if err := m.store.UpdateService(ctx, svc); err != nil {
		return model.ExternalService{}, err
	}
	return svc, nil
}

// Update merges patch over the current effective config and applies it with
// a stop/remove/recreate cycle: it stops and removes the current container,
// then re-runs driver.Init with the merged config (§4.6). No field is
// applied in place; every change, whatever the field, recreates the
// container.
func (m *Manager) Update(ctx context.Context, id string, patch map[string]any) (model.ExternalService, error) {
	svc, err := m.store.GetService(ctx, id)
	if err != nil {
		return model.ExternalService{}, err
	}
	driver, err := m.driverFor(svc.Type)
	if err != nil {
		return model.ExternalService{}, err
	}

	current, err := m.DecryptConfig(svc)
	if err != nil {
		return model.ExternalService{}, err
	}
	merged := mergeConfig(current, patch)

	if err := driver.Stop(ctx, current); err != nil {
		m.log.Warn("extsvcmgr: stop before update failed", zap.String("service", svc.Slug), zap.Error(err))
	}
	if err := driver.Remove(ctx, current); err != nil {
		m.log.Warn("extsvcmgr: remove before update failed", zap.String("service", svc.Slug), zap.Error(err))
	}

	eff, err := driver.Init(ctx, merged)
	if err != nil {
		return model.ExternalService{}, apperr.Wrap(apperr.External, err, "extsvcmgr: driver re-init failed for %s", svc.Slug)
	}
	if err := m.persistConfig(&svc, eff); err != nil {
		return model.ExternalService{}, err
	}
	if containerID, ok := eff["containerId"].(string); ok {
		svc.ContainerID = containerID
	}
	svc.Status = "running"
	if err := m.store.UpdateService(ctx, svc); err != nil {
		return model.ExternalService{}, err
	}
	return svc, nil
}

// Delete stops and removes the container, then deletes the row. It is a
// no-op safe if the container is already absent: driver.Stop/Remove on a
// config whose containerId no longer exists return nil (§4.6).
func (m *Manager) Delete(ctx context.Context, id string) error {
	svc, err := m.store.GetService(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	driver, err := m.driverFor(svc.Type)
	if err != nil {
		return err
	}
	eff, err := m.DecryptConfig(svc)
	if err != nil {
		return err
	}
	if err := driver.Stop(ctx, eff); err != nil {
		m.log.Warn("extsvcmgr: stop during delete failed", zap.String("service", svc.Slug), zap.Error(err))
	}
	if err := driver.Remove(ctx, eff); err != nil {
		m.log.Warn("extsvcmgr: remove during delete failed", zap.String("service", svc.Slug), zap.Error(err))
	}
	return m.store.DeleteService(ctx, id)
}

// Link records that a project consumes a service; it does not provision
// anything — provisioning happens lazily the first time EffectiveEnvVars is
// called for a (project, env) pair (§4.6).
func (m *Manager) Link(ctx context.Context, projectID, serviceID string) error {
	if _, err := m.store.GetService(ctx, serviceID); err != nil {
		return err
	}
	return m.store.LinkService(ctx, projectID, serviceID)
}

// Unlink removes the (project, service) association.
func (m *Manager) Unlink(ctx context.Context, projectID, serviceID string) error {
	return m.store.UnlinkService(ctx, projectID, serviceID)
}

// EffectiveEnvVars merges every linked service's runtime env vars for the
// given (project, env) pair. On key collisions the last service (store
// iteration order) wins and a warning is logged (§4.6 dedup policy); callers
// that need a deterministic order should sort the returned keys themselves.
func (m *Manager) EffectiveEnvVars(ctx context.Context, projectID, env string) (map[string]string, error) {
	linked, err := m.store.ListLinkedServices(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, svc := range linked {
		driver, err := m.driverFor(svc.Type)
		if err != nil {
			return nil, err
		}
		eff, err := m.DecryptConfig(svc)
		if err != nil {
			return nil, err
		}
		vars, err := driver.GetRuntimeEnvVars(ctx, eff, projectID, env)
		if err != nil {
			return nil, apperr.Wrap(apperr.External, err, "extsvcmgr: runtime env vars failed for %s", svc.Slug)
		}
		for k, v := range vars {
			if _, exists := out[k]; exists {
				m.log.Warn("extsvcmgr: env var key collision across linked services",
					zap.String("key", k), zap.String("project", projectID), zap.String("service", svc.Slug))
			}
			out[k] = v
		}
	}
	return out, nil
}

// PreviewEnvVar is a single entry in a masked preview response.
type PreviewEnvVar struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Sensitive bool   `json:"sensitive"`
}

// PreviewEnvVars returns each name with its value, sensitive values replaced
// by "***" (§4.6) so the value is safe to render in a UI without a secondary
// auth check.
func (m *Manager) PreviewEnvVars(ctx context.Context, projectID, env string) ([]PreviewEnvVar, error) {
	linked, err := m.store.ListLinkedServices(ctx, projectID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []PreviewEnvVar
	for _, svc := range linked {
		driver, err := m.driverFor(svc.Type)
		if err != nil {
			return nil, err
		}
		sensitiveNames := map[string]bool{}
		for _, def := range driver.GetRuntimeEnvDefinitions() {
			sensitiveNames[def.Name] = def.Sensitive
		}
		eff, err := m.DecryptConfig(svc)
		if err != nil {
			return nil, err
		}
		vars, err := driver.GetRuntimeEnvVars(ctx, eff, projectID, env)
		if err != nil {
			return nil, apperr.Wrap(apperr.External, err, "extsvcmgr: preview failed for %s", svc.Slug)
		}
		for k, v := range vars {
			sensitive := sensitiveNames[k]
			value := v
			if sensitive {
				value = "***"
			}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, PreviewEnvVar{Name: k, Value: value, Sensitive: sensitive})
		}
	}
	return out, nil
}

// Reconcile inspects the recorded container of every service whose row
// claims "running", flagging those whose container is gone or not running
// (crash-safety, §4.6).
func (m *Manager) Reconcile(ctx context.Context) ([]string, error) {
	services, err := m.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, svc := range services {
		if svc.Status != "running" || svc.ContainerID == "" {
			continue
		}
		status, err := m.adapter.Inspect(ctx, svc.ContainerID)
		if err != nil || !status.Running {
			stale = append(stale, svc.ID)
		}
	}
	return stale, nil
}

func (m *Manager) persistConfig(svc *model.ExternalService, config map[string]any) error {
	blob, err := encodeConfig(config)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "extsvcmgr: config encode failed")
	}
	enc, err := m.crypt.Encrypt(blob)
	if err != nil {
		return apperr.Wrap(apperr.Crypto, err, "extsvcmgr: config encrypt failed")
	}
	svc.EncryptedConfig = enc
	return nil
}

// DecryptConfig decrypts svc's stored config, for callers outside this
// package that need the plaintext config map (e.g. the backup scheduler
// resolving dump credentials before invoking the backup engine).
func (m *Manager) DecryptConfig(svc model.ExternalService) (map[string]any, error) {
	if len(svc.EncryptedConfig) == 0 {
		return map[string]any{}, nil
	}
	blob, err := m.crypt.Decrypt(svc.EncryptedConfig)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, err, "extsvcmgr: config decrypt failed for %s", svc.Slug)
	}
	return decodeConfig(blob)
}

func mergeConfig(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
