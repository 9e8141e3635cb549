package threads

import (
	"context"
	"fmt"
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

// fakeThreads is an in-memory Threads Graph API
type fakeThreads struct {
	mu           sync.Mutex
	created      []string
	published    []string
	failPublish  string
	nextID       int
	createdTexts []string
}

func (f *fakeThreads) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user-1/threads", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		id := fmt.Sprintf("c%d", f.nextID)
		f.created = append(f.created, r.PostForm.Get("media_type")+":"+r.PostForm.Get("image_url"))
		f.createdTexts = append(f.createdTexts, r.PostForm.Get("text"))
		_, _ = fmt.Fprintf(w, `{"id":%q}`, id)
	})
	mux.HandleFunc("/user-1/threads_publish", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		id := r.PostForm.Get("creation_id")
		f.mu.Lock()
		defer f.mu.Unlock()
		if id == f.failPublish {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"Please retry your request later.","type":"THApiException","code":2}}`))
			return
		}
		f.published = append(f.published, id)
		_, _ = fmt.Fprintf(w, `{"id":"post-%s"}`, strings.TrimPrefix(id, "c"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// container status lookups
		assert.Equal(t, "status,error_message", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"status":"FINISHED"}`))
	})
	return mux
}

func newTestService(t *testing.T, fake *fakeThreads) *Service {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
publish:
  poll_interval: 1ms
  max_polls: 2
  inter_publish_delay: 0s
platforms:
  threads:
    base_url: %[1]s
    auth_base_url: %[1]s
`, srv.URL)))
	require.NoError(t, err)
	return NewService(cfg, httpclient.NewHTTPClient(cfg))
}

func threadRequest() domain.PublishRequest {
	return domain.PublishRequest{
		Account: &domain.Account{ID: "acc-th", Platform: domain.PlatformThreads, ExternalID: "user-1"},
		Token:   domain.Token{AccessToken: "th-token"},
		Content: "1/3 intro",
		Thread:  []string{"2/3 details", "3/3 wrap-up"},
		Media: []domain.PreparedMedia{{
			Ref: domain.MediaRef{URL: "https://storage.example.com/a.png", Kind: domain.MediaKindImage},
			URL: "https://app.example.com/media/proxy?src=https%3A%2F%2Fstorage.example.com%2Fa.png",
		}},
	}
}

func TestPublishThreadInOrder(t *testing.T) {
	fake := &fakeThreads{}

	res := newTestService(t, fake).Publish(context.Background(), threadRequest())

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "post-1", res.ExternalID)
	require.Len(t, res.Items, 3)
	for i, item := range res.Items {
		assert.Equal(t, i+1, item.Index)
		assert.Equal(t, fmt.Sprintf("post-%d", i+1), item.ExternalID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, fake.published)
	assert.Equal(t, []string{"1/3 intro", "2/3 details", "3/3 wrap-up"}, fake.createdTexts)
	assert.Equal(t, "IMAGE:https://app.example.com/media/proxy?src=https%3A%2F%2Fstorage.example.com%2Fa.png", fake.created[0])
	assert.Equal(t, "TEXT:", fake.created[1])
	assert.Equal(t, "c2", res.Metadata["container_id_2"])
}

func TestPublishThreadPartialFailure(t *testing.T) {
	fake := &fakeThreads{failPublish: "c2"}

	res := newTestService(t, fake).Publish(context.Background(), threadRequest())

	require.False(t, res.Success)
	assert.Equal(t, domain.ErrorKindPartialSuccess, res.Error.Kind)
	assert.Equal(t, domain.ErrorKindUpstreamUnavailable, res.Error.Cause)
	assert.Equal(t, 2, res.Error.FailedItem)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "post-1", res.Items[0].ExternalID)
	assert.Equal(t, []string{"c1"}, fake.published)
}

func TestRefreshToken(t *testing.T) {
	var lastToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh_access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "th_refresh_token", r.URL.Query().Get("grant_type"))
		lastToken = r.URL.Query().Get("access_token")
		_, _ = w.Write([]byte(`{"access_token":"th-2","token_type":"bearer","expires_in":5184000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cfg, err := config.Parse([]byte(fmt.Sprintf("platforms:\n  threads:\n    base_url: %[1]s\n    auth_base_url: %[1]s\n", srv.URL)))
	require.NoError(t, err)

	token, err := NewService(cfg, httpclient.NewHTTPClient(cfg)).RefreshToken(context.Background(), domain.Credential{RefreshToken: "th-1"})

	require.NoError(t, err)
	assert.Equal(t, "th-2", token.AccessToken)
	assert.Equal(t, "th-2", token.RefreshToken)

	_, err = NewService(cfg, httpclient.NewHTTPClient(cfg)).RefreshToken(context.Background(), domain.Credential{AccessToken: "th-only"})
	require.NoError(t, err)
	assert.Equal(t, "th-only", lastToken)
}

func TestCapabilitiesSupportThreads(t *testing.T) {
	caps := (&Service{}).Capabilities()
	assert.True(t, caps.SupportsThread)
	assert.True(t, caps.AsyncMediaProcessing)
	assert.Equal(t, domain.MediaModeProxiedURL, caps.MediaMode)
}
