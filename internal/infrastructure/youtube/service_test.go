package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
)

const kib = 1024

type fakeYouTube struct {
	mu        sync.Mutex
	snippet   map[string]any
	uploadLen string
	ranges    []string
	received  int
	initCode  int
	initBody  string
}

func (f *fakeYouTube) server(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc(uploadPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			if f.initCode != 0 {
				w.WriteHeader(f.initCode)
				_, _ = w.Write([]byte(f.initBody))
				return
			}
			assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
			assert.Equal(t, "Bearer yt-token", r.Header.Get("Authorization"))
			f.uploadLen = r.Header.Get("X-Upload-Content-Length")
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.snippet, _ = body["snippet"].(map[string]any)
			w.Header().Set("Location", srv.URL+uploadPath+"?uploadType=resumable&upload_id=UP123")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			assert.Equal(t, "UP123", r.URL.Query().Get("upload_id"))
			body, _ := io.ReadAll(r.Body)
			f.received += len(body)
			contentRange := r.Header.Get("Content-Range")
			f.ranges = append(f.ranges, contentRange)
			if !strings.HasSuffix(contentRange, fmt.Sprintf("-%d/%d", f.received-1, f.received)) {
				w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", f.received-1))
				w.WriteHeader(http.StatusPermanentRedirect)
				return
			}
			_, _ = w.Write([]byte(`{"kind":"youtube#video","id":"dQw4w9WgXcQ","status":{"uploadStatus":"uploaded"}}`))
		}
	})
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "gid", r.PostForm.Get("client_id"))
		assert.Equal(t, "gsecret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
		_, _ = w.Write([]byte(`{"access_token":"ya29.new","expires_in":3599,"scope":"https://www.googleapis.com/auth/youtube.upload","token_type":"Bearer"}`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, fake *fakeYouTube) *Service {
	t.Helper()
	srv := fake.server(t)
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
publish:
  chunk_size: 262144
platforms:
  youtube:
    base_url: %[1]s
    auth_base_url: %[1]s
    client_id: gid
    client_secret: gsecret
`, srv.URL)))
	require.NoError(t, err)
	return NewService(cfg, httpclient.NewHTTPClient(cfg))
}

func videoRequest(size int, content string) domain.PublishRequest {
	return domain.PublishRequest{
		Account: &domain.Account{ID: "acc-yt", Platform: domain.PlatformYouTube, ExternalID: "UC1"},
		Token:   domain.Token{AccessToken: "yt-token"},
		Content: content,
		Media: []domain.PreparedMedia{{
			Ref:         domain.MediaRef{URL: "https://cdn.example.com/v.mp4", Kind: domain.MediaKindVideo},
			Data:        make([]byte, size),
			ContentType: "video/mp4",
		}},
	}
}

func TestPublishResumableUpload(t *testing.T) {
	fake := &fakeYouTube{}

	res := newTestService(t, fake).Publish(context.Background(), videoRequest(600*kib, "My trip\nFull description"))

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "dQw4w9WgXcQ", res.ExternalID)
	assert.Equal(t, "UP123", res.Metadata["upload_id"])
	assert.Equal(t, []string{"bytes 0-262143/614400", "bytes 262144-614399/614400"}, fake.ranges)
	assert.Equal(t, 600*kib, fake.received)
	assert.Equal(t, "614400", fake.uploadLen)
	assert.Equal(t, "My trip", fake.snippet["title"])
	assert.Equal(t, "My trip\nFull description", fake.snippet["description"])
}

func TestPublishQuotaExceeded(t *testing.T) {
	fake := &fakeYouTube{
		initCode: http.StatusForbidden,
		initBody: `{"error":{"code":403,"message":"The request cannot be completed because you have exceeded your quota.","errors":[{"reason":"quotaExceeded","domain":"youtube.quota"}]}}`,
	}

	res := newTestService(t, fake).Publish(context.Background(), videoRequest(10, "clip"))

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrorKindUpstreamRejected, res.Error.Kind)
	assert.Equal(t, httpclient.CodeRateLimitedUpstream, res.Error.Code)
}

func TestPublishInvalidCredentials(t *testing.T) {
	fake := &fakeYouTube{
		initCode: http.StatusUnauthorized,
		initBody: `{"error":{"code":401,"message":"Request had invalid authentication credentials.","errors":[{"reason":"authError"}]}}`,
	}

	res := newTestService(t, fake).Publish(context.Background(), videoRequest(10, "clip"))

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrorKindAuthExpired, res.Error.Kind)
}

func TestRefreshToken(t *testing.T) {
	token, err := newTestService(t, &fakeYouTube{}).RefreshToken(context.Background(), domain.Credential{RefreshToken: "1//refresh"})

	require.NoError(t, err)
	assert.Equal(t, "ya29.new", token.AccessToken)
	assert.Empty(t, token.RefreshToken)
	assert.Equal(t, int64(3599), token.ExpiresInSeconds)
}

func TestVideoTitle(t *testing.T) {
	assert.Equal(t, "Untitled", videoTitle("  "))
	assert.Equal(t, "first", videoTitle("first\nsecond"))
	assert.Len(t, []rune(videoTitle(strings.Repeat("é", 150))), maxTitleLength)
}

func TestAlignChunkSize(t *testing.T) {
	assert.Equal(t, int64(256*kib), alignChunkSize(0))
	assert.Equal(t, int64(256*kib), alignChunkSize(300*kib))
	assert.Equal(t, int64(10*1024*kib), alignChunkSize(10*1024*kib))
}
