package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/logger"
)

// FileStore keeps uploaded media on local disk and serves it under a public base URL
type FileStore struct {
	dir     string
	baseURL string
}

// NewFileStore creates the storage directory if needed
func NewFileStore(cfg *config.Config) (*FileStore, error) {
	if err := os.MkdirAll(cfg.MediaStorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FileStore{
		dir:     cfg.MediaStorageDir,
		baseURL: strings.TrimRight(cfg.MediaStorageBaseURL, "/"),
	}, nil
}

// Dir returns the storage directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Save stores r under a generated name keeping ext, and returns its public reference
func (s *FileStore) Save(r io.Reader, ext string, kind domain.MediaKind, contentType string) (domain.MediaRef, error) {
	name := uuid.New().String() + strings.ToLower(ext)
	file, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return domain.MediaRef{}, err
	}
	defer file.Close()

	if _, err := io.CopyBuffer(file, r, make([]byte, 1024*1024)); err != nil {
		_ = os.Remove(file.Name())
		return domain.MediaRef{}, err
	}
	return domain.MediaRef{URL: s.baseURL + "/" + name, Kind: kind, ContentType: contentType}, nil
}

// Owns reports whether ref points into this store
func (s *FileStore) Owns(ref domain.MediaRef) bool {
	_, ok := s.localPath(ref.URL)
	return ok
}

func (s *FileStore) localPath(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, s.baseURL+"/") {
		return "", false
	}
	name := strings.TrimPrefix(rawURL, s.baseURL+"/")
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return filepath.Join(s.dir, name), true
}

// Delete removes the file behind ref. References outside the store are ignored and a
// missing file is not an error.
func (s *FileStore) Delete(_ context.Context, ref domain.MediaRef) error {
	p, ok := s.localPath(ref.URL)
	if !ok {
		logger.WithFields(logger.Fields{"url": ref.URL}).Debug("media not in local store, skipping delete")
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", filepath.Base(p), err)
	}
	return nil
}

// Proxy streams media from allow-listed hosts so platforms can fetch it from our domain
type Proxy struct {
	httpClient *httpclient.HTTPClient
	allowed    map[string]bool
}

// ErrHostNotAllowed is returned for proxy sources outside the allow-list
var ErrHostNotAllowed = errors.New("media host is not allowed")

// NewProxy creates a proxy allowing the configured hosts and the host of the media store
func NewProxy(cfg *config.Config, httpClient *httpclient.HTTPClient) *Proxy {
	allowed := make(map[string]bool)
	for _, h := range cfg.MediaProxyAllowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	if u, err := url.Parse(cfg.MediaStorageBaseURL); err == nil && u.Host != "" {
		allowed[strings.ToLower(u.Host)] = true
	}
	return &Proxy{httpClient: httpClient, allowed: allowed}
}

// Open validates src against the allow-list and starts fetching it.
// The caller must close the response body.
func (p *Proxy) Open(ctx context.Context, src string) (*http.Response, error) {
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid source url: %q", src)
	}
	if !p.allowed[strings.ToLower(u.Host)] {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
