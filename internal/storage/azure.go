package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	appconfig "cryptoingest/config"
)

type azureAPI interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureStore writes block blobs. The container is the blob container name.
type AzureStore struct {
	client azureAPI
}

// NewAzureStore prefers the connection string and falls back to the account
// URL with the default Azure credential chain when managed identity is enabled.
func NewAzureStore(cfg appconfig.AzureConfig) (*AzureStore, error) {
	switch {
	case cfg.ConnectionString != "":
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, &ConfigError{Backend: appconfig.BackendAzure, Err: fmt.Errorf("parse connection string: %w", err)}
		}
		return &AzureStore{client: client}, nil
	case cfg.UseManagedIdentity && cfg.AccountURL != "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, &ConfigError{Backend: appconfig.BackendAzure, Err: fmt.Errorf("default credential: %w", err)}
		}
		client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
		if err != nil {
			return nil, &ConfigError{Backend: appconfig.BackendAzure, Err: fmt.Errorf("create client: %w", err)}
		}
		return &AzureStore{client: client}, nil
	default:
		return nil, &ConfigError{Backend: appconfig.BackendAzure, Err: ErrMissingCredential}
	}
}

func (s *AzureStore) Backend() string { return appconfig.BackendAzure }

func (s *AzureStore) Put(ctx context.Context, obj Object) error {
	headers := &blob.HTTPHeaders{BlobContentType: to.Ptr(obj.ContentType)}
	if obj.ContentEncoding != "" {
		headers.BlobContentEncoding = to.Ptr(obj.ContentEncoding)
	}

	opts := &azblob.UploadBufferOptions{HTTPHeaders: headers}
	if len(obj.Metadata) > 0 {
		opts.Metadata = make(map[string]*string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			opts.Metadata[k] = to.Ptr(v)
		}
	}

	if _, err := s.client.UploadBuffer(ctx, obj.Container, obj.Key, obj.Body, opts); err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", obj.Container, obj.Key, err)
	}
	return nil
}
