// Package s3 stores distribution files in AWS S3 or any S3-compatible
// service (MinIO, DigitalOcean Spaces) via a configurable endpoint.
//
// Downloads are served through pre-signed URLs rather than proxied, keeping
// archive traffic off the registry's network path. Uploads set
// If-None-Match: * so a published filename can never be overwritten; S3
// answers the losing writer with 412 and the registry reports
// ErrAlreadyExists.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Storage implements the Storage interface on top of the AWS SDK v2 client.
type S3Storage struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	region        string
	endpoint      string
}

// New builds the backend. Credentials come from the configured auth_method:
// the default AWS chain, static keys, a web identity (OIDC) token file, or
// STS AssumeRole. With auth_method unset, static keys are used when present
// and the default chain otherwise.
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	awsCfg, err := buildAWSConfig(cfg)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Compatible services route by path, not virtual host.
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	return &S3Storage{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		endpoint:      cfg.Endpoint,
	}, nil
}

func buildAWSConfig(cfg *appconfig.S3StorageConfig) (aws.Config, error) {
	method := cfg.AuthMethod
	if method == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			method = "static"
		} else {
			method = "default"
		}
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	switch method {
	case "default":
		// Env vars, shared config files, IMDS, container credentials.
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return aws.Config{}, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "oidc", "assume_role":
		// Both wrap the base config's STS client, wired below.
	default:
		return aws.Config{}, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', 'oidc', or 'assume_role')", method)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	switch method {
	case "oidc":
		provider, err := webIdentityProvider(cfg, sts.NewFromConfig(awsCfg))
		if err != nil {
			return aws.Config{}, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	case "assume_role":
		provider, err := assumeRoleProvider(cfg, sts.NewFromConfig(awsCfg))
		if err != nil {
			return aws.Config{}, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return awsCfg, nil
}

func webIdentityProvider(cfg *appconfig.S3StorageConfig, stsClient *sts.Client) (aws.CredentialsProvider, error) {
	if cfg.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required for OIDC auth")
	}
	if cfg.WebIdentityTokenFile == "" {
		return nil, fmt.Errorf("web_identity_token_file is required for OIDC auth (or set AWS_WEB_IDENTITY_TOKEN_FILE)")
	}

	var opts []func(*stscreds.WebIdentityRoleOptions)
	if cfg.RoleSessionName != "" {
		opts = append(opts, func(o *stscreds.WebIdentityRoleOptions) {
			o.RoleSessionName = cfg.RoleSessionName
		})
	}
	return stscreds.NewWebIdentityRoleProvider(
		stsClient, cfg.RoleARN, stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile), opts...,
	), nil
}

func assumeRoleProvider(cfg *appconfig.S3StorageConfig, stsClient *sts.Client) (aws.CredentialsProvider, error) {
	if cfg.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required for assume_role auth")
	}

	var opts []func(*stscreds.AssumeRoleOptions)
	if cfg.RoleSessionName != "" {
		opts = append(opts, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.RoleSessionName
		})
	}
	if cfg.ExternalID != "" {
		opts = append(opts, func(o *stscreds.AssumeRoleOptions) {
			o.ExternalID = aws.String(cfg.ExternalID)
		})
	}
	return stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, opts...), nil
}

// isNotFound matches both shapes of S3's missing-key error: GetObject returns
// NoSuchKey, HeadObject returns a bodyless 404 the SDK maps to NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// isPreconditionFailed matches the 412 rejection of a conditional write. The
// SDK has no typed error for it, only a generic API error with this code.
func isPreconditionFailed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "PreconditionFailed")
}

// Upload stores the content under path. The write carries If-None-Match: *,
// so when two publishes race exactly one succeeds and the rest get
// ErrAlreadyExists. Content is buffered to hash it before the write; uploads
// are size-capped well before they reach storage.
func (s *S3Storage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	sha := sha256.Sum256(data)
	shaSum := hex.EncodeToString(sha[:])
	legacy := md5.Sum(data)
	md5sum := hex.EncodeToString(legacy[:])

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
		// GetMetadata reads these back instead of re-hashing the object.
		Metadata: map[string]string{
			"sha256": shaSum,
			"md5":    md5sum,
		},
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: shaSum,
		MD5:      md5sum,
	}, nil
}

// Download streams the object.
func (s *S3Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing key is
// not an error.
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// GetURL pre-signs a GetObject request valid for ttl.
func (s *S3Storage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

// Exists heads the object. Only a 404 means absent; other failures (auth,
// network) are reported rather than mistaken for a missing file.
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
}

// GetMetadata heads the object and prefers the sha256 recorded at upload
// time; objects written without one (migrated data) are downloaded and
// hashed.
func (s *S3Storage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	meta := &storage.FileMetadata{
		Path:     path,
		Checksum: out.Metadata["sha256"],
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}

	if meta.Checksum == "" {
		meta.Checksum, err = s.hashByDownload(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (s *S3Storage) hashByDownload(ctx context.Context, path string) (string, error) {
	reader, err := s.Download(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to download for checksum: %w", err)
	}
	defer reader.Close()
	return checksum.CalculateSHA256(reader)
}

// List pages through ListObjectsV2 and returns every key under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// EnsureBucket creates the bucket when it does not exist yet, for
// deployments pointed at a fresh MinIO or account.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
