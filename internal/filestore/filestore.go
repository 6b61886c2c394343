package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"brightpath/internal/config"
	"brightpath/internal/pkg/httpclient"
)

// ErrNotFound reports that the referenced file no longer exists in the
// backing store. Workers treat it differently from transport failures.
var ErrNotFound = errors.New("filestore: file not found")

// Store fetches raw document bytes by their stored reference.
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type httpStore struct {
	client  *httpclient.Client
	baseURL string
	token   string
}

func (s *httpStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req := s.client.Request().SetContext(ctx)
	if s.token != "" {
		req.SetHeader("Authorization", "Bearer "+s.token)
	}

	resp, err := req.Get(s.baseURL + "/" + strings.TrimPrefix(ref, "/"))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode())
	}
	return resp.Body(), nil
}

type localStore struct {
	baseDir string
}

func (s *localStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.Clean("/"+ref)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// New picks the HTTP store when a base URL is configured, otherwise a
// local directory store.
func New(cfg config.FileStoreConfig) Store {
	if cfg.BaseURL != "" {
		return &httpStore{
			client:  httpclient.New().WithTimeout(30 * time.Second),
			baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
			token:   cfg.Token,
		}
	}
	return &localStore{baseDir: cfg.LocalDir}
}

// NewLocal returns a directory-backed store, used by tests.
func NewLocal(dir string) Store {
	return &localStore{baseDir: dir}
}
