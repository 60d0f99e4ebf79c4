package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicBaseURL(t *testing.T) {
	assert.Equal(t, "https://avatars.s3.eu-central-1.amazonaws.com",
		publicBaseURL(S3Config{Bucket: "avatars", Region: "eu-central-1"}))
	assert.Equal(t, "http://localhost:9000/avatars",
		publicBaseURL(S3Config{Bucket: "avatars", Endpoint: "http://localhost:9000/"}))
	assert.Equal(t, "https://cdn.example.com",
		publicBaseURL(S3Config{Bucket: "avatars", Endpoint: "http://minio:9000", PublicURL: "https://cdn.example.com/"}))
}

func TestURLRoundTrip(t *testing.T) {
	s := &S3Storage{publicURL: "https://cdn.example.com"}

	url := s.URL("avatars/alice/1.png")
	assert.Equal(t, "https://cdn.example.com/avatars/alice/1.png", url)

	path, ok := s.PathFromURL(url)
	assert.True(t, ok)
	assert.Equal(t, "avatars/alice/1.png", path)

	_, ok = s.PathFromURL("/static/default-avatar.png")
	assert.False(t, ok)
	_, ok = s.PathFromURL("https://cdn.example.com/")
	assert.False(t, ok)
}
