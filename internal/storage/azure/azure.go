// Package azure is the Azure Blob Storage archive backend. It authenticates
// with the account's shared key and writes block blobs into one container.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.ArchiveConfig) (storage.Archive, error) {
		return New(&cfg.Azure)
	})
}

type AzureArchive struct {
	container *container.Client
}

func New(cfg *config.AzureArchiveConfig) (*AzureArchive, error) {
	var missing []string
	if cfg.AccountName == "" {
		missing = append(missing, "account_name")
	}
	if cfg.AccountKey == "" {
		missing = append(missing, "account_key")
	}
	if cfg.ContainerName == "" {
		missing = append(missing, "container_name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("azure archive: missing %s", strings.Join(missing, ", "))
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure archive: invalid shared key: %w", err)
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	containerURL := strings.TrimSuffix(serviceURL, "/") + "/" + cfg.ContainerName

	c, err := container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure archive: %w", err)
	}
	return &AzureArchive{container: c}, nil
}

func (a *AzureArchive) Put(ctx context.Context, key string, r io.Reader, _ int64) (*storage.PutResult, error) {
	obj, err := storage.ReadObject(key, r)
	if err != nil {
		return nil, err
	}
	_, err = a.container.NewBlockBlobClient(key).Upload(ctx, streaming.NopCloser(obj.Reader()), &blockblob.UploadOptions{
		Metadata:    map[string]*string{"sha256": to.Ptr(obj.Checksum)},
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(obj.ContentType)},
	})
	if err != nil {
		return nil, fmt.Errorf("azure archive: upload %s: %w", key, err)
	}
	return obj.Result(), nil
}

func (a *AzureArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.container.NewBlobClient(key).DownloadStream(ctx, nil)
	if notFound(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("azure archive: download %s: %w", key, err)
	}
	return resp.Body, nil
}

func (a *AzureArchive) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.container.NewBlobClient(key).GetProperties(ctx, nil)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("azure archive: stat %s: %w", key, err)
	}
	return true, nil
}

func (a *AzureArchive) Delete(ctx context.Context, key string) error {
	_, err := a.container.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && !notFound(err) {
		return fmt.Errorf("azure archive: delete %s: %w", key, err)
	}
	return nil
}

// notFound covers both coded errors and bare 404s, which HEAD responses
// produce since they carry no body.
func notFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
