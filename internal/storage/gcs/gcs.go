// Package gcs implements the Google Cloud Storage backend for package
// distribution files. Downloads use time-limited signed URLs generated via the
// GCS signing API; the registry never proxies archive content. Uploads are
// guarded by a DoesNotExist precondition so a published filename can never be
// overwritten. Supports Application Default Credentials, service account JSON
// keys, and Workload Identity Federation for keyless authentication in GKE and
// GitHub Actions environments.
package gcs

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appconfig "github.com/pratikychavan/PyPI-clone/internal/config"
	appstorage "github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage serves one bucket through a shared client.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// New builds the backend. Credentials come from, in order of auth_method:
// "service_account" (a key file or inline JSON), or "default" /
// "workload_identity" (Application Default Credentials, which cover
// GOOGLE_APPLICATION_CREDENTIALS, the GCE/GKE metadata service, and federated
// tokens). An empty auth_method is inferred: service_account when a key is
// configured, default otherwise.
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	// Custom endpoint for GCS emulators or compatible services.
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	method := cfg.AuthMethod
	if method == "" {
		method = "default"
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			method = "service_account"
		}
	}

	switch method {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}

	case "workload_identity", "default":
		// ADC needs no extra options; the client library resolves them.

	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", method)
	}

	return opts, nil
}

// Close releases the underlying client's connections.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path)
}

// isPreconditionFailed reports whether err is GCS's rejection of a write
// guarded by a DoesNotExist condition (HTTP 412).
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// Upload writes path, refusing to replace an existing object. The DoesNotExist
// precondition makes concurrent publishes of the same filename race safely:
// one writer wins, the rest see ErrAlreadyExists. Both digests are stored as
// object metadata so GetMetadata never has to re-read the content.
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	// Metadata must be set on the writer before the first byte goes out, so
	// the payload is buffered and hashed up front. Uploads are size-capped
	// well before they reach storage.
	var buf bytes.Buffer
	shaHash := sha256.New()
	md5Hash := md5.New()
	n, err := io.Copy(io.MultiWriter(&buf, shaHash, md5Hash), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	shaSum := hex.EncodeToString(shaHash.Sum(nil))
	md5sum := hex.EncodeToString(md5Hash.Sum(nil))

	w := s.object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.Metadata = map[string]string{
		"sha256": shaSum,
		"md5":    md5sum,
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		if isPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}

	// The precondition is evaluated at commit time, so the 412 for an
	// existing object typically surfaces from Close rather than Write.
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{
		Path:     path,
		Size:     n,
		Checksum: shaSum,
		MD5:      md5sum,
	}, nil
}

// Download streams the object's content. The caller owns the returned reader.
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := s.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes the object. Deleting a missing object is a no-op so retried
// cleanup jobs stay idempotent.
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// GetURL returns a V4 signed URL a client can fetch the object from directly.
// Signing requires the service account to hold iam.serviceAccountTokenCreator
// or ADC with signBlob permissions.
func (s *GCSStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

// Exists reports whether an object is present. Only ErrObjectNotExist means
// absent; auth or network failures are reported instead of being mistaken for
// a missing object.
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.object(path).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
}

// GetMetadata reads size, modification time, and the SHA256 digest from the
// object's attributes. Objects written by Upload carry the digest in metadata;
// for anything placed in the bucket out of band the object is downloaded and
// hashed as a fallback.
func (s *GCSStorage) GetMetadata(ctx context.Context, path string) (*appstorage.FileMetadata, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	meta := &appstorage.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     attrs.Metadata["sha256"],
		LastModified: attrs.Updated,
	}
	if meta.Checksum == "" {
		meta.Checksum, err = s.hashByDownload(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (s *GCSStorage) hashByDownload(ctx context.Context, path string) (string, error) {
	reader, err := s.Download(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to download for checksum: %w", err)
	}
	defer reader.Close()
	return checksum.CalculateSHA256(reader)
}

// List returns the names of all objects under prefix, walking the iterator to
// exhaustion.
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

// EnsureBucket creates the bucket if it doesn't exist. Run at startup so a
// fresh project works without manual provisioning; creation needs the project
// ID, which existence checks do not.
func (s *GCSStorage) EnsureBucket(ctx context.Context, projectID string) error {
	bucket := s.client.Bucket(s.bucket)

	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if projectID == "" {
		return fmt.Errorf("project_id is required to create a bucket")
	}
	if err := bucket.Create(ctx, projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
