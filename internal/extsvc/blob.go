package extsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/model"
)

func init() {
	RegisterDriver(model.ServiceBlob, func(adapter container.Adapter) ExternalService {
		return &blobDriver{adapter: adapter}
	})
}

// blobDriver manages an S3-compatible object store. Unlike Postgres/Mongo,
// a "container" is optional: a blob service can point at a real AWS bucket
// (no adapter-managed container) or at a self-hosted MinIO-style container.
const blobDefaultPort = 9000

type blobDriver struct {
	adapter container.Adapter
}

func (d *blobDriver) Init(ctx context.Context, config map[string]any) (map[string]any, error) {
	eff := cloneConfig(config)

	slug, _ := eff["slug"].(string)
	if slug == "" {
		return nil, apperr.Validationf("extsvc/blob: config.slug is required")
	}
	if _, ok := eff["accessKeyId"].(string); !ok {
		ak, err := GenerateAccessKeyID()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "extsvc/blob: access key generation failed")
		}
		eff["accessKeyId"] = ak
	}
	if _, ok := eff["secretAccessKey"].(string); !ok {
		sk, err := GenerateSecretKey()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "extsvc/blob: secret key generation failed")
		}
		eff["secretAccessKey"] = sk
	}
	if _, ok := eff["bucket"].(string); !ok {
		eff["bucket"] = "temps-" + slug
	}
	if _, ok := eff["selfHosted"].(bool); !ok {
		eff["selfHosted"] = false
	}

	selfHosted, _ := eff["selfHosted"].(bool)
	if !selfHosted {
		// Points at an externally managed bucket (real AWS S3 or another
		// provider); no container lifecycle to drive.
		return eff, nil
	}

	if _, ok := eff["image"].(string); !ok {
		eff["image"] = "minio/minio:latest"
	}
	containerName := "temps-svc-blob-" + slug
	eff["containerName"] = containerName

	port, err := requestedOrFreePort(ctx, d.adapter, eff, containerName, blobDefaultPort)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "extsvc/blob: port allocation failed")
	}
	eff["port"] = port
	eff["endpoint"] = fmt.Sprintf("http://localhost:%d", port)

	if d.adapter == nil {
		return eff, nil
	}

	if err := d.adapter.Pull(ctx, eff["image"].(string), ""); err != nil {
		return nil, err
	}

	id, err := d.adapter.Create(ctx, container.Spec{
		Name:  containerName,
		Image: eff["image"].(string),
		Env: map[string]string{
			"MINIO_ROOT_USER":     str(eff["accessKeyId"]),
			"MINIO_ROOT_PASSWORD": str(eff["secretAccessKey"]),
		},
		Labels: map[string]string{
			container.LabelServiceType: string(model.ServiceBlob),
			container.LabelServiceName: slug,
		},
		Ports: []container.PortBinding{{ContainerPort: blobDefaultPort, HostPort: port}},
		Cmd:   []string{"server", "/data"},
		HealthCheck: &container.HealthCheck{
			Test:     []string{"CMD", "mc", "ready", "local"},
			Interval: 2 * time.Second,
			Timeout:  3 * time.Second,
			Retries:  20,
		},
		RestartPolicy: "unless-stopped",
	})
	if err != nil {
		return nil, err
	}
	eff["containerId"] = id

	if err := d.adapter.Start(ctx, id); err != nil {
		return nil, err
	}
	if err := d.adapter.WaitHealthy(ctx, id, waitHealthyDeadline); err != nil {
		return nil, err
	}

	return eff, nil
}

func (d *blobDriver) Start(ctx context.Context, eff map[string]any) error {
	id, _ := eff["containerId"].(string)
	if id == "" || d.adapter == nil {
		return nil
	}
	return d.adapter.Start(ctx, id)
}

func (d *blobDriver) Stop(ctx context.Context, eff map[string]any) error {
	id, _ := eff["containerId"].(string)
	if id == "" || d.adapter == nil {
		return nil
	}
	return d.adapter.Stop(ctx, id, 10*time.Second)
}

func (d *blobDriver) Remove(ctx context.Context, eff map[string]any) error {
	id, _ := eff["containerId"].(string)
	if id == "" || d.adapter == nil {
		return nil
	}
	return d.adapter.Remove(ctx, id, true)
}

func (d *blobDriver) client(ctx context.Context, eff map[string]any) (*s3.Client, error) {
	region, _ := eff["region"].(string)
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(str(eff["accessKeyId"]), str(eff["secretAccessKey"]), "")),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "extsvc/blob: failed to load aws config")
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint, ok := eff["endpoint"].(string); ok && endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

func (d *blobDriver) HealthCheck(ctx context.Context, eff map[string]any) (bool, error) {
	cli, err := d.client(ctx, eff)
	if err != nil {
		return false, nil
	}
	_, err = cli.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err == nil, nil
}

func (d *blobDriver) GetConnectionInfo(eff map[string]any) string {
	return fmt.Sprintf("s3://%s/%s", str(eff["bucket"]), "***")
}

func (d *blobDriver) GetParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"slug":            map[string]any{"type": "string"},
			"bucket":          map[string]any{"type": "string"},
			"region":          map[string]any{"type": "string"},
			"endpoint":        map[string]any{"type": "string"},
			"accessKeyId":     map[string]any{"type": "string"},
			"secretAccessKey": map[string]any{"type": "string", "sensitive": true},
			"selfHosted":      map[string]any{"type": "boolean"},
		},
		"required": []string{"slug"},
	}
}

func (d *blobDriver) GetEnvironmentVariables(eff map[string]any) map[string]string {
	return map[string]string{
		"S3_ENDPOINT":   str(eff["endpoint"]),
		"S3_BUCKET":     str(eff["bucket"]),
		"S3_ACCESS_KEY": str(eff["accessKeyId"]),
		"S3_SECRET_KEY": str(eff["secretAccessKey"]),
	}
}

func (d *blobDriver) GetDockerEnvironmentVariables(eff map[string]any) map[string]string {
	endpoint := str(eff["endpoint"])
	if name := str(eff["containerName"]); name != "" {
		endpoint = fmt.Sprintf("http://%s:%d", name, blobDefaultPort)
	}
	return map[string]string{
		"S3_ENDPOINT":   endpoint,
		"S3_BUCKET":     str(eff["bucket"]),
		"S3_ACCESS_KEY": str(eff["accessKeyId"]),
		"S3_SECRET_KEY": str(eff["secretAccessKey"]),
	}
}

// ProvisionResource returns a per-(project,env) key prefix within the
// shared bucket; object stores don't need a CREATE analogous to a database.
func (d *blobDriver) ProvisionResource(ctx context.Context, eff map[string]any, projectID, env string) (model.LogicalResource, error) {
	prefix := fmt.Sprintf("%s/%s/", projectID, env)
	return model.LogicalResource{
		Name: prefix,
		Type: model.ServiceBlob,
		Credentials: map[string]string{
			"bucket":    str(eff["bucket"]),
			"prefix":    prefix,
			"accessKey": str(eff["accessKeyId"]),
			"secretKey": str(eff["secretAccessKey"]),
		},
	}, nil
}

// DeprovisionResource deletes every object under the project/env prefix.
func (d *blobDriver) DeprovisionResource(ctx context.Context, eff map[string]any, projectID, env string) error {
	cli, err := d.client(ctx, eff)
	if err != nil {
		return err
	}
	prefix := fmt.Sprintf("%s/%s/", projectID, env)
	bucket := str(eff["bucket"])

	out, err := cli.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(prefix)})
	if err != nil {
		return apperr.Wrap(apperr.External, err, "extsvc/blob: list objects failed")
	}
	for _, obj := range out.Contents {
		if _, err := cli.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
			return apperr.Wrap(apperr.External, err, "extsvc/blob: delete object failed")
		}
	}
	return nil
}

func (d *blobDriver) GetRuntimeEnvDefinitions() []RuntimeEnvDef {
	return []RuntimeEnvDef{
		{Name: "S3_BUCKET", Description: "Bucket name", Example: "temps-app"},
		{Name: "S3_PREFIX", Description: "Per-project/env key prefix", Example: "proj-1/production/"},
		{Name: "S3_ACCESS_KEY", Description: "Access key id", Sensitive: true},
		{Name: "S3_SECRET_KEY", Description: "Secret access key", Sensitive: true},
	}
}

func (d *blobDriver) GetRuntimeEnvVars(ctx context.Context, eff map[string]any, projectID, env string) (map[string]string, error) {
	res, err := d.ProvisionResource(ctx, eff, projectID, env)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"S3_BUCKET":     res.Credentials["bucket"],
		"S3_PREFIX":     res.Credentials["prefix"],
		"S3_ACCESS_KEY": res.Credentials["accessKey"],
		"S3_SECRET_KEY": res.Credentials["secretKey"],
	}, nil
}
