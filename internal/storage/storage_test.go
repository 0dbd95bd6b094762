package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_UploadDelete(t *testing.T) {
	m := NewMemory("http://files.local/")
	url, err := m.Upload(context.Background(), "documents/v1/assurance.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://files.local/documents/v1/assurance.pdf", url)

	b, ok := m.Object("documents/v1/assurance.pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", string(b))

	require.NoError(t, m.Delete(context.Background(), "documents/v1/assurance.pdf"))
	_, ok = m.Object("documents/v1/assurance.pdf")
	assert.False(t, ok)
}

func TestNewMinIOProvider_PublicURL(t *testing.T) {
	p, err := NewMinIOProvider(S3Options{
		Endpoint:        "minio:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "fleetops",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/fleetops", p.baseURL)

	p, err = NewMinIOProvider(S3Options{Endpoint: "s3.example.com", BucketName: "b", UseSSL: true, PublicBaseURL: "https://cdn.example.com/b/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/b", p.baseURL)
}
