package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore holds document contents outside the core. The core only ever
// sees the opaque handle returned by Put.
type BlobStore interface {
	Put(ctx context.Context, handle string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, handle string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, handle string) error
}

// MinioBlobStore implements BlobStore for MinIO/S3 compatible storage.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobStore connects to MinIO and ensures the bucket exists.
func NewMinioBlobStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioBlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioBlobStore{client: client, bucket: bucket}, nil
}

// Put uploads a blob under the given handle.
func (m *MinioBlobStore) Put(ctx context.Context, handle string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, handle, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL for a blob.
func (m *MinioBlobStore) PresignGet(ctx context.Context, handle string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, handle, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign blob: %w", err)
	}
	return url.String(), nil
}

// Delete removes a blob. Handles are never reused, so deletion is safe even
// while the document record lives on soft-deleted.
func (m *MinioBlobStore) Delete(ctx context.Context, handle string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, handle, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// BlobHandle builds the storage key for a case document. The document ID
// makes the handle unique for the lifetime of the bucket.
func BlobHandle(caseID, docID, filename string) string {
	name := path.Base(filename)
	if name == "" || name == "." || name == "/" {
		name = "document"
	}
	return path.Join("cases", caseID, docID+"_"+name)
}
