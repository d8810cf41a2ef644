// Package azure implements the Azure Blob Storage backend for package
// distribution files. Uploads go directly to Blob Storage; downloads are served
// via time-limited SAS (Shared Access Signature) URLs generated on demand
// rather than proxied through the registry, keeping large archives off the
// registry's network path. Uploads carry an If-None-Match precondition so a
// published filename can never be overwritten. The SAS URL TTL is configurable
// to accommodate slow connections and large files.
package azure

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage talks to a single container in one storage account. The shared
// key credential is kept around because SAS signing needs it again after
// construction.
type AzureStorage struct {
	client        *azblob.Client
	cred          *azblob.SharedKeyCredential
	accountName   string
	containerName string
	cdnURL        string
}

// New builds the backend from static configuration. Shared key auth only;
// workload identity flows belong to the S3 backend's cloud and have no
// equivalent wiring here yet.
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	switch {
	case cfg.AccountName == "":
		return nil, fmt.Errorf("azure storage account name is required")
	case cfg.AccountKey == "":
		return nil, fmt.Errorf("azure storage account key is required")
	case cfg.ContainerName == "":
		return nil, fmt.Errorf("azure storage container name is required")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		client:        client,
		cred:          cred,
		accountName:   cfg.AccountName,
		containerName: cfg.ContainerName,
		cdnURL:        cfg.CDNURL,
	}, nil
}

func (s *AzureStorage) container() *container.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName)
}

func (s *AzureStorage) blobRef(path string) *blob.Client {
	return s.container().NewBlobClient(path)
}

// Upload writes path as a block blob, refusing to replace an existing one.
// The If-None-Match: * precondition makes concurrent publishes of the same
// filename race safely: one writer wins, the rest see ErrAlreadyExists. Both
// digests are stored as blob metadata so GetMetadata never has to re-read the
// content. Azure natively records only MD5.
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	// Buffer the payload while hashing it in one pass. Uploads are size-capped
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

	opts := &blockblob.UploadOptions{
		Metadata: map[string]*string{
			"sha256": &shaSum,
			"md5":    &md5sum,
		},
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	}
	_, err = s.container().NewBlockBlobClient(path).Upload(ctx, streaming.NopCloser(bytes.NewReader(buf.Bytes())), opts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     n,
		Checksum: shaSum,
		MD5:      md5sum,
	}, nil
}

// Download streams the blob's content. The caller owns the returned reader.
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.blobRef(path).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Delete removes the blob. Deleting a missing blob is a no-op so retried
// cleanup jobs stay idempotent.
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	_, err := s.blobRef(path).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// GetURL returns a URL a client can fetch the blob from directly. With a CDN
// configured the blob is public through it and no signature is needed;
// otherwise a read-only SAS URL is minted with the account key.
func (s *AzureStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}

	if s.cdnURL != "" {
		return fmt.Sprintf("%s/%s", s.cdnURL, path), nil
	}
	return s.signedURL(path, ttl)
}

// signedURL mints a read-only SAS URL for one blob. Signing is local HMAC
// work; no request goes to Azure. The start time is backdated so a client
// whose clock runs slightly ahead of ours doesn't get rejected.
func (s *AzureStorage) signedURL(path string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	perms := sas.BlobPermissions{Read: true}
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(ttl),
		Permissions:   perms.String(),
		ContainerName: s.containerName,
		BlobName:      path,
	}

	params, err := values.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		s.accountName, s.containerName, url.PathEscape(path))
	return fmt.Sprintf("%s?%s", blobURL, params.Encode()), nil
}

// Exists reports whether a blob is present. Only BlobNotFound means absent;
// the service sets x-ms-error-code as a response header, so the code survives
// even on bodyless HEAD responses and auth or network failures are reported
// instead of being mistaken for a missing blob.
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.blobRef(path).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
}

// GetMetadata reads size, modification time, and the SHA256 digest from the
// blob's properties. Blobs written by Upload carry the digest in metadata; for
// anything placed in the container out of band the blob is downloaded and
// hashed as a fallback.
func (s *AzureStorage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := s.blobRef(path).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	meta := &storage.FileMetadata{Path: path}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	// Metadata keys round-trip through HTTP headers and come back with
	// canonicalized casing, so match case-insensitively.
	for k, v := range props.Metadata {
		if strings.EqualFold(k, "sha256") && v != nil {
			meta.Checksum = *v
			break
		}
	}

	if meta.Checksum == "" {
		meta.Checksum, err = s.hashByDownload(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (s *AzureStorage) hashByDownload(ctx context.Context, path string) (string, error) {
	reader, err := s.Download(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to download for checksum: %w", err)
	}
	defer reader.Close()
	return checksum.CalculateSHA256(reader)
}

// List returns the names of all blobs under prefix, walking the flat listing
// to the last page.
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// EnsureContainer creates the container if it doesn't exist. Run at startup so
// a fresh account works without manual provisioning.
func (s *AzureStorage) EnsureContainer(ctx context.Context) error {
	_, err := s.container().Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}
