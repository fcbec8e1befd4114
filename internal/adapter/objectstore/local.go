package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem under a root directory.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the directory objects are written to.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes data to objectPath and returns its URL under baseURL.
func (s *LocalStore) Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	// Write to a temp file first so readers never see a partial object.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit object: %w", err)
	}
	return s.baseURL + "/" + (&url.URL{Path: p}).EscapedPath(), nil
}

// Delete removes objectPath. Missing objects are not an error.
func (s *LocalStore) Delete(ctx context.Context, objectPath string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(p)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PathOf strips the base URL from u.
func (s *LocalStore) PathOf(u string) (string, bool) {
	rest, ok := strings.CutPrefix(u, s.baseURL+"/")
	if !ok {
		return "", false
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	p, err := cleanPath(unescaped)
	if err != nil {
		return "", false
	}
	return p, true
}
