package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to bucket. Without a credentials file the client
// falls back to application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS bucket name is not configured")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads data and returns the object's public URL.
func (s *GCSStore) Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(p).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return s.publicURL(p), nil
}

// Delete removes objectPath. Missing objects are not an error.
func (s *GCSStore) Delete(ctx context.Context, objectPath string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(p).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PathOf extracts the object path from a public URL of this bucket.
func (s *GCSStore) PathOf(u string) (string, bool) {
	rest, ok := strings.CutPrefix(u, gcsPublicHost+"/"+s.bucket+"/")
	if !ok {
		return "", false
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return unescaped, unescaped != ""
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) publicURL(p string) string {
	return gcsPublicHost + "/" + s.bucket + "/" + (&url.URL{Path: p}).EscapedPath()
}
