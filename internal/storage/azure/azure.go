// Package azure stores proof packs in an Azure Blob Storage container.
// Downloads are handed out as short-lived read-only SAS URLs.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
)

const (
	backendName  = "azure"
	checksumMeta = "sha256"
	clockSkew    = 5 * time.Minute
)

func init() {
	storage.Register(backendName, func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// Storage implements storage.Storage on a blob container
type Storage struct {
	client     *azblob.Client
	credential *azblob.SharedKeyCredential
	container  string
}

// New creates the blob client from a shared key
func New(cfg *config.AzureStorageConfig) (*Storage, error) {
	if cfg.AccountName == "" {
		return nil, errors.New("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, errors.New("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, errors.New("azure storage container name is required")
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

	return &Storage{client: client, credential: cred, container: cfg.ContainerName}, nil
}

// Name implements storage.Storage
func (s *Storage) Name() string { return backendName }

func (s *Storage) blob(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}

// Put uploads the archive as a block blob with its SHA-256 in blob metadata
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof pack: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("proof pack size mismatch: read %d bytes, expected %d", len(data), size)
	}
	sum := checksum.Sum(data)

	bb := s.client.ServiceClient().NewContainerClient(s.container).NewBlockBlobClient(key)
	_, err = bb.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata:    map[string]*string{checksumMeta: &sum},
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.Object{
		Key:          key,
		Size:         int64(len(data)),
		Checksum:     sum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Open implements storage.Storage
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.blob(key).DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Stat implements storage.Storage
func (s *Storage) Stat(ctx context.Context, key string) (*storage.Object, error) {
	props, err := s.blob(key).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	obj := &storage.Object{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		obj.ContentType = *props.ContentType
	}
	if props.LastModified != nil {
		obj.LastModified = *props.LastModified
	}
	// metadata keys come back header-canonicalized
	for k, v := range props.Metadata {
		if v != nil && strings.EqualFold(k, checksumMeta) {
			obj.Checksum = *v
		}
	}
	return obj, nil
}

// SignedURL returns a read-only SAS URL valid for ttl
func (s *Storage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-clockSkew),
		ExpiryTime:    now.Add(ttl),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.container,
		BlobName:      key,
	}.SignWithSharedKey(s.credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}
	return s.blob(key).URL() + "?" + params.Encode(), nil
}

// EnsureContainer creates the container, tolerating one that already exists
func (s *Storage) EnsureContainer(ctx context.Context) error {
	_, err := s.client.ServiceClient().NewContainerClient(s.container).Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
