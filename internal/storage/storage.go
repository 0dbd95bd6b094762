// Package storage keeps document and diagnostic attachments in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/fleeterr"
)

// Provider stores opaque files and hands back their public URL.
type Provider interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// S3Options configures the MinIO provider.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to the endpoint.
	PublicBaseURL string
}

// MinIO is a Provider on a MinIO or S3 bucket.
type MinIO struct {
	client     *minio.Client
	bucketName string
	baseURL    string
}

// NewMinIOProvider creates a Provider on an S3 endpoint.
func NewMinIOProvider(opts S3Options) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	base := opts.PublicBaseURL
	if base == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.BucketName)
	}
	return &MinIO{client: client, bucketName: opts.BucketName, baseURL: strings.TrimRight(base, "/")}, nil
}

// CheckBucket creates the bucket when it does not exist yet.
func (p *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.WithField("bucket", p.bucketName).Info("Bucket does not exist, creating")
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *MinIO) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := p.client.PutObject(ctx, p.bucketName, path, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fleeterr.Transient("upload "+path, err)
	}
	return p.baseURL + "/" + path, nil
}

func (p *MinIO) Delete(ctx context.Context, path string) error {
	if err := p.client.RemoveObject(ctx, p.bucketName, path, minio.RemoveObjectOptions{}); err != nil {
		return fleeterr.Transient("delete "+path, err)
	}
	return nil
}

// Memory is a Provider keeping objects in process, for tests and storage-less setups.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: strings.TrimRight(baseURL, "/"), objects: map[string][]byte{}}
}

func (m *Memory) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf.Bytes()
	return m.BaseURL + "/" + path, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Object returns a stored object.
func (m *Memory) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	return b, ok
}
