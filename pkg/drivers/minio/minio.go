package minio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
)

// drainTimeout bounds emptying a bucket during deprovision. A tenant
// with more media than this drains is a manual cleanup, not a blocked
// destruction queue.
const drainTimeout = 30 * time.Second

// Options configures the object store driver.
type Options struct {
	// Endpoint is the S3 API address instances also use.
	Endpoint string
	// AdminURL is the console admin API for user and policy management.
	AdminURL string
	// RootUser/RootPassword authenticate both APIs and double as the
	// fallback credentials when the admin API cannot mint a principal.
	RootUser     string
	RootPassword string
	UseSSL       bool
}

// Manager provisions per-instance buckets and principals. Bucket and
// object operations go over the S3 API as root; principals (one user
// and one bucket-scoped policy per instance) go over the console admin
// API. When the admin API is unreachable the bucket is still created
// and root credentials are handed back marked as a fallback, so
// provisioning degrades instead of blocking on the weakest dependency.
type Manager struct {
	opts   Options
	awsCfg aws.Config
	root   *s3.Client
	admin  *adminClient
}

var _ drivers.ObjectStoreManager = (*Manager)(nil)

// New builds the manager and its root S3 client.
func New(ctx context.Context, opts Options) (*Manager, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		// MinIO ignores the region but the SDK requires one for signing.
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.RootUser, opts.RootPassword, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading object store SDK config: %w", err)
	}

	m := &Manager{
		opts:   opts,
		awsCfg: awsCfg,
		admin:  newAdminClient(opts.AdminURL, opts.RootUser, opts.RootPassword),
	}
	m.root = m.s3Client(awsCfg)
	return m, nil
}

// s3Client builds a path-style client against the store endpoint.
func (m *Manager) s3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(m.opts.Endpoint)
		o.UsePathStyle = true
	})
}

// scopedClient returns an S3 client authenticated as the given
// principal, for permission-exercising reads.
func (m *Manager) scopedClient(accessKey, secretKey string) *s3.Client {
	cfg := m.awsCfg.Copy()
	cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	return m.s3Client(cfg)
}

// Ping lists buckets as root, for readiness probes.
func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.root.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err
}

// ProvisionBucket creates the bucket and a matching principal. Replays
// converge: an already-owned bucket is fine, and an existing principal
// is refreshed rather than duplicated.
func (m *Manager) ProvisionBucket(ctx context.Context, name, accessKey, secretKey string) (*drivers.BucketCredentials, error) {
	if err := m.createBucket(ctx, name); err != nil {
		return nil, err
	}

	if err := m.provisionPrincipal(ctx, name, accessKey, secretKey); err != nil {
		logger := log.WithComponent("objectstore")
		logger.Warn().Str("bucket", name).Err(err).
			Msg("admin API principal provisioning failed, handing back root credentials")
		return &drivers.BucketCredentials{
			AccessKey:    m.opts.RootUser,
			SecretKey:    m.opts.RootPassword,
			RootFallback: true,
		}, nil
	}
	return &drivers.BucketCredentials{AccessKey: accessKey, SecretKey: secretKey}, nil
}

func (m *Manager) createBucket(ctx context.Context, name string) error {
	_, err := m.root.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	return nil
}

// provisionPrincipal installs the bucket-scoped policy and the user
// carrying it. A leftover user from an interrupted attempt is removed
// first so the secret key is refreshed, not silently kept stale.
func (m *Manager) provisionPrincipal(ctx context.Context, bucket, accessKey, secretKey string) error {
	session, err := m.admin.login(ctx)
	if err != nil {
		return err
	}

	policy := policyName(bucket)
	if err := session.putPolicy(ctx, policy, bucketPolicy(bucket)); err != nil {
		return err
	}
	if err := session.deleteUser(ctx, accessKey); err != nil {
		return err
	}
	return session.createUser(ctx, accessKey, secretKey, policy)
}

// DeprovisionBucket removes the principal, drains the bucket, and
// deletes it. Every part treats an already-missing target as done; the
// root user is never deleted even when a fallback provision recorded it
// as the instance's access key.
func (m *Manager) DeprovisionBucket(ctx context.Context, name, accessKey string) error {
	if session, err := m.admin.login(ctx); err != nil {
		logger := log.WithComponent("objectstore")
		logger.Warn().Str("bucket", name).Err(err).
			Msg("admin API unreachable during deprovision, leaving principal for manual cleanup")
	} else {
		if accessKey != "" && accessKey != m.opts.RootUser {
			if err := session.deleteUser(ctx, accessKey); err != nil {
				return fmt.Errorf("deleting user for bucket %s: %w", name, err)
			}
		}
		if err := session.deletePolicy(ctx, policyName(name)); err != nil {
			return fmt.Errorf("deleting policy for bucket %s: %w", name, err)
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := m.drainBucket(drainCtx, name); err != nil {
		return err
	}

	_, err := m.root.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	if err != nil && !isAPIError(err, "NoSuchBucket") {
		return fmt.Errorf("deleting bucket %s: %w", name, err)
	}
	return nil
}

// drainBucket deletes objects in listing order until the bucket is
// empty. Missing bucket means nothing to drain.
func (m *Manager) drainBucket(ctx context.Context, name string) error {
	paginator := s3.NewListObjectsV2Paginator(m.root, &s3.ListObjectsV2Input{
		Bucket: aws.String(name),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isAPIError(err, "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("listing bucket %s for drain: %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := m.root.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(name),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		}); err != nil {
			return fmt.Errorf("draining bucket %s: %w", name, err)
		}
	}
	return nil
}

// VerifyBucket exercises the instance's own read permission with a
// real list call. A HEAD is not enough: it can succeed on 403 paths
// where listing would not.
func (m *Manager) VerifyBucket(ctx context.Context, name, accessKey, secretKey string) (bool, error) {
	client := m.scopedClient(accessKey, secretKey)
	_, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(name),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		// A definitive API answer (denied, no bucket, bad key) is a
		// failed verification; only transport trouble is an error.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return false, nil
		}
		return false, fmt.Errorf("listing bucket %s: %w", name, err)
	}
	return true, nil
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

func policyName(bucket string) string {
	return "xcord-" + bucket
}

// bucketPolicy is full access to one bucket and nothing else.
func bucketPolicy(bucket string) string {
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Action": ["s3:*"],
      "Resource": ["arn:aws:s3:::%s", "arn:aws:s3:::%s/*"]
    }
  ]
}`, bucket, bucket)
}
