// Package container implements the Container Runtime Adapter (C4): a thin
// abstraction over the container daemon used by every other core component
// that needs to pull, build, create, start, stop, exec, or inspect a
// container. Backed by github.com/docker/docker's client.
package container

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
)

// LabelPrefix namespaces every label the adapter writes, so resources can be
// enumerated without the relational store (§4.4).
const LabelPrefix = "sh.temps"

const (
	LabelServiceType  = LabelPrefix + ".service_type"
	LabelServiceName  = LabelPrefix + ".service_name"
	LabelDeploymentID = LabelPrefix + ".deployment_id"
)

// PortBinding is a single published host:container port mapping.
type PortBinding struct {
	ContainerPort int
	Protocol      string // "tcp" or "udp", defaults to tcp
	HostIP        string
	HostPort      int // 0 lets the daemon/OS pick
}

// Mount describes a bind or named-volume mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
	IsVolume bool
}

// HealthCheck mirrors a Docker HEALTHCHECK definition.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// Spec is the input to Create.
type Spec struct {
	Name         string
	Image        string
	Env          map[string]string
	Labels       map[string]string
	Ports        []PortBinding
	Mounts       []Mount
	Network      string
	RestartPolicy string // "", "always", "unless-stopped", "on-failure"
	HealthCheck  *HealthCheck
	Cmd          []string
}

// Status is the normalized result of Inspect.
type Status struct {
	ID            string
	Running       bool
	Health        string // "", "starting", "healthy", "unhealthy"
	Image         string
	ExposedPorts  map[int]int // containerPort -> hostPort
	Labels        map[string]string
}

// ExecResult is the outcome of Exec.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// BuildOptions configures an image build from a tar-encoded context.
type BuildOptions struct {
	Tags       []string
	Dockerfile string // path within the build context; defaults to "Dockerfile"
}

// Adapter is the capability surface the rest of the core depends on (§4.4).
// A single interface keeps every caller testable against a fake without
// pulling in the Docker SDK.
type Adapter interface {
	Pull(ctx context.Context, image, tag string) error
	Build(ctx context.Context, buildContext []byte, opts BuildOptions) error
	EnsureNetwork(ctx context.Context, name string) error
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string, force bool) error
	Exec(ctx context.Context, id string, argv []string, env map[string]string) (ExecResult, error)
	Upload(ctx context.Context, id string, tarBytes []byte, destPath string) error
	Download(ctx context.Context, id string, path string) ([]byte, error)
	Inspect(ctx context.Context, id string) (Status, error)
	WaitHealthy(ctx context.Context, id string, deadline time.Duration) error
	FindByLabels(ctx context.Context, labels map[string]string) ([]string, error)
}

// DockerAdapter is the production Adapter backed by the Docker Engine API.
type DockerAdapter struct {
	cli    *client.Client
	logger *zap.Logger
}

// New constructs a DockerAdapter from the standard DOCKER_HOST environment
// variables, the way client.FromEnv is used across the pack's reference
// deployment tooling.
func New(logger *zap.Logger) (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "container: failed to construct docker client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerAdapter{cli: cli, logger: logger}, nil
}

// Pull streams an image pull to completion.
func (d *DockerAdapter) Pull(ctx context.Context, image, tag string) error {
	ref := image
	if tag != "" {
		ref = image + ":" + tag
	}
	rc, err := d.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return apperr.Wrap(apperr.External, err, fmt.Sprintf("container: pull %s failed", ref))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return apperr.Wrap(apperr.External, err, "container: pull stream read failed")
	}
	return nil
}

// Build builds an image from a tar-encoded context, failing on the first
// error message the daemon reports in its JSON build-log stream.
func (d *DockerAdapter) Build(ctx context.Context, buildContext []byte, opts BuildOptions) error {
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	resp, err := d.cli.ImageBuild(ctx, bytes.NewReader(buildContext), types.ImageBuildOptions{
		Tags:       opts.Tags,
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return apperr.Wrap(apperr.External, err, "container: build failed")
	}
	defer resp.Body.Close()
	return readBuildLog(resp.Body)
}

type buildLogLine struct {
	Stream string `json:"stream,omitempty"`
	Error  string `json:"error,omitempty"`
}

// readBuildLog drains the daemon's newline-delimited JSON build log,
// surfacing the first reported error.
func readBuildLog(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var line buildLogLine
		if err := dec.Decode(&line); err != nil {
			if err == io.EOF {
				return nil
			}
			return apperr.Wrap(apperr.External, err, "container: build log read failed")
		}
		if line.Error != "" {
			return apperr.New(apperr.External, "container: build failed: "+line.Error, nil)
		}
	}
}

// EnsureNetwork creates the shared network if absent, tolerating a
// concurrent creator's AlreadyExists (§5 shared-resource policy).
func (d *DockerAdapter) EnsureNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkInspect(ctx, name, types.NetworkInspectOptions{})
	if err == nil {
		return nil
	}
	_, err = d.cli.NetworkCreate(ctx, name, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return apperr.Wrap(apperr.External, err, "container: network create failed")
	}
	return nil
}

// Create builds a container from spec without starting it.
func (d *DockerAdapter) Create(ctx context.Context, spec Spec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pb := range spec.Ports {
		proto := pb.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, fmt.Sprintf("%d", pb.ContainerPort))
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, err, "container: invalid port spec")
		}
		exposed[port] = struct{}{}
		hostPort := ""
		if pb.HostPort != 0 {
			hostPort = fmt.Sprintf("%d", pb.HostPort)
		}
		bindings[port] = append(bindings[port], nat.PortBinding{HostIP: pb.HostIP, HostPort: hostPort})
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mType := mount.TypeBind
		if m.IsVolume {
			mType = mount.TypeVolume
		}
		mounts = append(mounts, mount.Mount{Type: mType, Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	restartPolicy := container.RestartPolicy{}
	if spec.RestartPolicy != "" {
		restartPolicy.Name = container.RestartPolicyMode(spec.RestartPolicy)
	}

	var hc *container.HealthConfig
	if spec.HealthCheck != nil {
		hc = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
		Healthcheck:  hc,
		Cmd:          spec.Cmd,
	}, &container.HostConfig{
		PortBindings:  bindings,
		RestartPolicy: restartPolicy,
		Mounts:        mounts,
	}, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", apperr.Wrap(apperr.External, err, "container: create failed")
	}

	if spec.Network != "" {
		if err := d.cli.NetworkConnect(ctx, spec.Network, resp.ID, &network.EndpointSettings{}); err != nil {
			d.logger.Warn("container: failed to attach network", zap.String("container", resp.ID), zap.Error(err))
		}
	}

	return resp.ID, nil
}

// Start starts a previously created container.
func (d *DockerAdapter) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return apperr.Wrap(apperr.External, err, "container: start failed")
	}
	return nil
}

// Stop stops a running container, tolerating it being absent or already stopped.
func (d *DockerAdapter) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return apperr.Wrap(apperr.External, err, "container: stop failed")
	}
	return nil
}

// Remove removes a container, tolerating it being already absent.
func (d *DockerAdapter) Remove(ctx context.Context, id string, force bool) error {
	err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: force, RemoveVolumes: force})
	if err != nil && !client.IsErrNotFound(err) {
		return apperr.Wrap(apperr.External, err, "container: remove failed")
	}
	return nil
}

// Exec runs argv inside the container, returning separated stdout/stderr and
// the exit status, used by the backup engine to run dump/restore tools.
func (d *DockerAdapter) Exec(ctx context.Context, id string, argv []string, env map[string]string) (ExecResult, error) {
	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	created, err := d.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          argv,
		Env:          envSlice,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.External, err, "container: exec create failed")
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.External, err, "container: exec attach failed")
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, apperr.Wrap(apperr.External, err, "container: exec stream read failed")
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.External, err, "container: exec inspect failed")
	}

	return ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}, nil
}

// Upload writes a tar archive into the container at destPath.
func (d *DockerAdapter) Upload(ctx context.Context, id string, tarBytes []byte, destPath string) error {
	if err := d.cli.CopyToContainer(ctx, id, destPath, bytes.NewReader(tarBytes), types.CopyToContainerOptions{}); err != nil {
		return apperr.Wrap(apperr.External, err, "container: upload failed")
	}
	return nil
}

// Download reads path from the container as a tar archive.
func (d *DockerAdapter) Download(ctx context.Context, id string, path string) ([]byte, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "container: download failed")
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, apperr.Wrap(apperr.External, err, "container: download stream read failed")
	}
	return buf.Bytes(), nil
}

// Inspect returns status, health, image reference, and exposed ports.
func (d *DockerAdapter) Inspect(ctx context.Context, id string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Status{}, apperr.NotFoundf("container: %s not found", id)
		}
		return Status{}, apperr.Wrap(apperr.External, err, "container: inspect failed")
	}

	health := ""
	if info.State != nil && info.State.Health != nil {
		health = info.State.Health.Status
	}

	ports := map[int]int{}
	if info.NetworkSettings != nil {
		for cport, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			var hostPort, containerPort int
			fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
			fmt.Sscanf(cport.Port(), "%d", &containerPort)
			ports[containerPort] = hostPort
		}
	}

	return Status{
		ID:      info.ID,
		Running: info.State != nil && info.State.Running,
		Health:  health,
		Image:   info.Config.Image,
		ExposedPorts: ports,
		Labels:  info.Config.Labels,
	}, nil
}

// WaitHealthy polls Inspect with exponential back-off (start 100ms, factor
// 1.5, cap 60s) until the container reports healthy or deadline elapses (§4.4).
func (d *DockerAdapter) WaitHealthy(ctx context.Context, id string, deadline time.Duration) error {
	deadlineAt := time.Now().Add(deadline)
	backoff := 100 * time.Millisecond
	const factor = 1.5
	const maxBackoff = 60 * time.Second

	for {
		status, err := d.Inspect(ctx, id)
		if err == nil && (status.Health == "healthy" || (status.Health == "" && status.Running)) {
			return nil
		}
		if time.Now().After(deadlineAt) {
			return apperr.New(apperr.Timeout, fmt.Sprintf("container: %s did not become healthy in time", id), nil)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperr.Wrap(apperr.Cancelled, ctx.Err(), "container: wait_healthy cancelled")
		}

		backoff = time.Duration(float64(backoff) * factor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// FindByLabels enumerates container IDs carrying every given label, used for
// crash-safe reconciliation (§4.6) without consulting the relational store.
func (d *DockerAdapter) FindByLabels(ctx context.Context, labels map[string]string) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "container: list failed")
	}

	var ids []string
outer:
	for _, c := range containers {
		for k, v := range labels {
			if c.Labels[k] != v {
				continue outer
			}
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// TarDir archives a directory tree rooted at dir into a tar stream, used as
// a docker build context.
func TarDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TarSingleFile builds a minimal single-entry tar archive, used by callers
// (e.g. the backup engine) that need to Upload a restore payload.
func TarSingleFile(name string, content []byte, mode int64) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: mode, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
