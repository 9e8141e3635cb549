// Package media turns caller media references into the form each adapter consumes and
// manages the files kept in the application's own storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/logger"
)

// ProxyPath is the route platforms fetch proxied media from
const ProxyPath = "/media/proxy"

// Preparer resolves media references for direct, proxied and binary adapters
type Preparer struct {
	httpClient    *httpclient.HTTPClient
	publicBaseURL string
	maxBytes      int64
	bufferSize    int
}

// NewPreparer creates a new media preparer
func NewPreparer(cfg *config.Config, httpClient *httpclient.HTTPClient) *Preparer {
	return &Preparer{
		httpClient:    httpClient,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBytes:      cfg.MaxMediaBytes,
		bufferSize:    1024 * 1024,
	}
}

// Prepare resolves refs according to mode. Binary media is downloaded and size-checked
// before any platform call is made.
func (p *Preparer) Prepare(ctx context.Context, mode domain.MediaMode, refs []domain.MediaRef) ([]domain.PreparedMedia, error) {
	if len(refs) == 0 || mode == domain.MediaModeNone {
		return nil, nil
	}

	prepared := make([]domain.PreparedMedia, 0, len(refs))
	for i, ref := range refs {
		if err := checkURL(ref.URL); err != nil {
			return nil, domain.WrapPublishError(domain.ErrorKindValidation, err, "media %d", i+1)
		}

		item := domain.PreparedMedia{Ref: ref, URL: ref.URL, ContentType: ref.ContentType}
		switch mode {
		case domain.MediaModeDirectURL:
		case domain.MediaModeProxiedURL:
			item.URL = p.ProxyURL(ref.URL)
		case domain.MediaModeBinary:
			data, contentType, err := p.Download(ctx, ref.URL)
			if err != nil {
				return nil, fmt.Errorf("media %d: %w", i+1, err)
			}
			item.Data = data
			if item.ContentType == "" {
				item.ContentType = contentType
			}
		default:
			return nil, domain.NewPublishError(domain.ErrorKindValidation, "", "unsupported media mode %q", mode)
		}
		prepared = append(prepared, item)
	}
	return prepared, nil
}

// ProxyURL rewrites src through the media proxy on our own domain
func (p *Preparer) ProxyURL(src string) string {
	return p.publicBaseURL + ProxyPath + "?src=" + url.QueryEscape(src)
}

// Download fetches src into memory. Payloads larger than the configured maximum are
// rejected with a validation error.
func (p *Preparer) Download(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", domain.WrapPublishError(domain.ErrorKindValidation, err, "invalid media url")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := domain.ErrorKindValidation
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = domain.ErrorKindUpstreamUnavailable
		}
		return nil, "", domain.NewPublishError(kind, "media_fetch_failed", "download failed with status: %d", resp.StatusCode)
	}
	if p.maxBytes > 0 && resp.ContentLength > p.maxBytes {
		return nil, "", tooLarge(resp.ContentLength, p.maxBytes)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	reader := io.Reader(resp.Body)
	if p.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, p.maxBytes+1)
	}
	if _, err := io.CopyBuffer(&buf, reader, make([]byte, p.bufferSize)); err != nil {
		return nil, "", fmt.Errorf("download %s: %w", req.URL.Host, err)
	}
	if p.maxBytes > 0 && int64(buf.Len()) > p.maxBytes {
		return nil, "", tooLarge(int64(buf.Len()), p.maxBytes)
	}

	logger.WithFields(logger.Fields{
		"host":  req.URL.Host,
		"bytes": buf.Len(),
	}).Debug("media downloaded")

	return buf.Bytes(), resp.Header.Get("Content-Type"), nil
}

func tooLarge(size, limit int64) *domain.PublishError {
	return domain.NewPublishError(domain.ErrorKindValidation, "media_too_large",
		"media is at least %d bytes, limit is %d", size, limit)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("media url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("media url %q has no host", raw)
	}
	return nil
}
