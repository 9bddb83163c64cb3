// Package gcs implements the Google Cloud Storage archive backend. Credentials
// come from a service account key (file or inline JSON) or, when neither is
// set, Application Default Credentials.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/consortium-members/membership-backend/internal/config"
	appstorage "github.com/consortium-members/membership-backend/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.ArchiveConfig) (appstorage.Archive, error) {
		return New(&cfg.GCS)
	})
}

// GCSArchive stores archived messages as objects in one bucket
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// clientOptions translates the config into client options.
func clientOptions(cfg *appconfig.GCSArchiveConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsJSON != "" && cfg.CredentialsFile != "":
		return nil, fmt.Errorf("set only one of credentials_file and credentials_json")
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		// emulators accept unauthenticated requests
		opts = append(opts, option.WithoutAuthentication())
	}

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return opts, nil
}

// New creates the GCS backend
func New(cfg *appconfig.GCSArchiveConfig) (*GCSArchive, error) {
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

	return &GCSArchive{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

// Put writes the object with its SHA256 as custom metadata.
func (a *GCSArchive) Put(ctx context.Context, key string, r io.Reader, _ int64) (*appstorage.PutResult, error) {
	obj, err := appstorage.ReadObject(key, r)
	if err != nil {
		return nil, err
	}

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = map[string]string{"sha256": obj.Checksum}

	if _, err := w.Write(obj.Data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return obj.Result(), nil
}

// Get opens a reader on the object
func (a *GCSArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return rc, nil
}

// Exists fetches object attributes
func (a *GCSArchive) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.Bucket(a.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return true, nil
}

// Delete removes the object
func (a *GCSArchive) Delete(ctx context.Context, key string) error {
	err := a.client.Bucket(a.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}
