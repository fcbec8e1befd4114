// Package objectstore stores binary attachments and returns retrievable URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ObjectStore accepts bytes at a path and hands back a URL for them.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error)
	Delete(ctx context.Context, objectPath string) error
	// PathOf maps a URL returned by Put back to its object path.
	PathOf(url string) (string, bool)
}

// Ensure implementations satisfy ObjectStore interface.
var (
	_ ObjectStore = (*LocalStore)(nil)
	_ ObjectStore = (*GCSStore)(nil)
)

// ErrInvalidPath is returned for empty or escaping object paths.
var ErrInvalidPath = errors.New("invalid object path")

// Backends selectable by name.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Options configures New.
type Options struct {
	Backend         string
	LocalDir        string
	LocalBaseURL    string
	GCSBucket       string
	CredentialsFile string
}

// New creates the object store named by opts.Backend.
func New(ctx context.Context, opts Options) (ObjectStore, error) {
	switch opts.Backend {
	case "", BackendLocal:
		return NewLocalStore(opts.LocalDir, opts.LocalBaseURL)
	case BackendGCS:
		return NewGCSStore(ctx, opts.GCSBucket, opts.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown object store %q", opts.Backend)
	}
}

// cleanPath normalises an object path and rejects traversal.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// ResponseAttachmentPath is where a reply attachment of a message is stored.
func ResponseAttachmentPath(chatID, messageID, filename string) string {
	return fmt.Sprintf("chat/%s/messages/%s/response_%s", chatID, messageID, path.Base(filename))
}

// FormPath is where an uploaded form PDF is stored.
func FormPath(ownerID, formID, filename string) string {
	return fmt.Sprintf("forms/%s/%s/%s", ownerID, formID, path.Base(filename))
}
