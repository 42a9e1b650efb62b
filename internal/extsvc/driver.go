// Package extsvc is the External Service Registry (C5): one driver per
// service kind (Postgres, MongoDB, S3-compatible object store) implementing
// a common ExternalService contract, held behind the generic registry type
// shared with every other pluggable-driver package in this module.
package extsvc

import (
	"context"
	"time"

	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/registry"
)

// RuntimeEnvDef describes one env var a driver can inject, for preview UIs (§4.5).
type RuntimeEnvDef struct {
	Name        string
	Description string
	Example     string
	Sensitive   bool
}

// ExternalService is the capability interface every service-kind driver
// implements (§4.5 table).
type ExternalService interface {
	// Init materialises (or reuses) the backing container and fills in any
	// input config fields the caller omitted (passwords, ports). Idempotent
	// per service id.
	Init(ctx context.Context, config map[string]any) (effective map[string]any, err error)

	Start(ctx context.Context, effective map[string]any) error
	Stop(ctx context.Context, effective map[string]any) error
	Remove(ctx context.Context, effective map[string]any) error

	// HealthCheck performs a semantic probe (SELECT 1, ping, list-buckets).
	HealthCheck(ctx context.Context, effective map[string]any) (bool, error)

	// GetConnectionInfo returns a connection URL with the secret redacted.
	GetConnectionInfo(effective map[string]any) string

	GetParameterSchema() map[string]any

	// GetEnvironmentVariables returns the host-network view (localhost:PORT).
	GetEnvironmentVariables(effective map[string]any) map[string]string

	// GetDockerEnvironmentVariables returns the intra-network view
	// (container name as host), injected into deployment containers.
	GetDockerEnvironmentVariables(effective map[string]any) map[string]string

	// ProvisionResource creates the per-project logical resource (a
	// database, a bucket prefix) a deployment is entitled to.
	ProvisionResource(ctx context.Context, effective map[string]any, projectID, env string) (model.LogicalResource, error)

	DeprovisionResource(ctx context.Context, effective map[string]any, projectID, env string) error

	GetRuntimeEnvDefinitions() []RuntimeEnvDef

	// GetRuntimeEnvVars returns the env vars a specific project/env should
	// receive from this service, provisioning the logical resource lazily
	// if it doesn't exist yet (§4.6 Link algorithm).
	GetRuntimeEnvVars(ctx context.Context, effective map[string]any, projectID, env string) (map[string]string, error)
}

// Constructor builds a driver bound to one runtime adapter.
type Constructor func(adapter container.Adapter) ExternalService

var drivers = registry.New[Constructor]()

// RegisterDriver adds a driver constructor for a service type.
func RegisterDriver(kind model.ServiceType, ctor Constructor) error {
	return drivers.Register(string(kind), ctor)
}

// LookupDriver finds a driver constructor by service type.
func LookupDriver(kind model.ServiceType) (Constructor, bool) {
	return drivers.Get(string(kind))
}

// Kinds lists every registered service kind.
func Kinds() []string {
	return drivers.Names()
}

// waitHealthyDeadline is the default Init health-gating deadline (§4.5).
const waitHealthyDeadline = 2 * time.Minute
