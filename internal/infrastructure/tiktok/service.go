package tiktok

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

const (
	maxTitleLength = 2200

	initPath   = "/v2/post/publish/video/init/"
	statusPath = "/v2/post/publish/status/fetch/"
	tokenPath  = "/v2/oauth/token/"

	defaultPrivacyLevel = "PUBLIC_TO_EVERYONE"
)

// Service handles TikTok Content Posting API interactions
type Service struct {
	client       *httpclient.HTTPClient
	baseURL      string
	authBaseURL  string
	clientKey    string
	clientSecret string
	chunkSize    int64
	pollInterval time.Duration
	maxPolls     int

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a new TikTok service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformTikTok.String())
	return &Service{
		client:       httpClient,
		baseURL:      pc.BaseURL,
		authBaseURL:  pc.AuthBaseURL,
		clientKey:    pc.ClientID,
		clientSecret: pc.ClientSecret,
		chunkSize:    cfg.UploadChunkSize,
		pollInterval: cfg.ContainerPollInterval,
		maxPolls:     cfg.ContainerMaxPolls,
		sleep:        protocol.Sleep,
	}
}

// Platform returns tiktok
func (s *Service) Platform() domain.Platform {
	return domain.PlatformTikTok
}

// Capabilities returns chunked upload capabilities for one video
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:             domain.ProtocolChunkedUpload,
		MediaMode:            domain.MediaModeBinary,
		MaxMedia:             1,
		AllowedMedia:         []domain.MediaKind{domain.MediaKindVideo},
		RequiresMedia:        true,
		MaxTextLength:        maxTitleLength,
		AsyncMediaProcessing: true,
	}
}

// Publish uploads the video in chunks and waits for the publish to complete
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	return protocol.ChunkedUpload{Platform: domain.PlatformTikTok, API: s, ChunkSize: s.chunkSize}.Run(ctx, req)
}

// apiError is the error object present on every TikTok response; code "ok" means success
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e apiError) failed() bool {
	return e.Code != "" && e.Code != "ok"
}

func (e apiError) publishError(status int, body []byte) *domain.PublishError {
	perr := httpclient.StatusError(status, e.Code, e.Message, body)
	switch e.Code {
	case "access_token_invalid", "scope_not_authorized", "token_not_authorized_for_specified_deployment":
		perr.Kind = domain.ErrorKindAuthExpired
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_too_many_pending_share":
		perr.Kind = domain.ErrorKindUpstreamRejected
		perr.Code = httpclient.CodeRateLimitedUpstream
	case "internal_error":
		perr.Kind = domain.ErrorKindUpstreamUnavailable
	default:
		if status < http.StatusInternalServerError && perr.Kind == domain.ErrorKindUpstreamUnavailable {
			perr.Kind = domain.ErrorKindUpstreamRejected
		}
	}
	return perr
}

func (s *Service) postJSON(ctx context.Context, path string, payload any, accessToken string, out any) error {
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, httpclient.CombinePath(s.baseURL, path), payload, accessToken)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := s.client.Send(httpReq)
	if err != nil {
		return err
	}

	var envelope struct {
		Error apiError `json:"error"`
	}
	_ = resp.DecodeJSON(&envelope)
	if !resp.OK() || envelope.Error.failed() {
		return envelope.Error.publishError(resp.StatusCode, resp.Body)
	}
	return resp.DecodeJSON(out)
}

// InitUpload initializes a direct-post FILE_UPLOAD session
func (s *Service) InitUpload(ctx context.Context, req domain.PublishRequest, media domain.PreparedMedia, plan protocol.ChunkPlan) (*protocol.UploadSession, error) {
	payload := map[string]any{
		"post_info": map[string]any{
			"title":         req.Content,
			"privacy_level": defaultPrivacyLevel,
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        plan.TotalSize,
			"chunk_size":        plan.ChunkSize,
			"total_chunk_count": plan.TotalChunks,
		},
	}

	var result struct {
		Data struct {
			PublishID string `json:"publish_id"`
			UploadURL string `json:"upload_url"`
		} `json:"data"`
	}
	if err := s.postJSON(ctx, initPath, payload, req.Token.AccessToken, &result); err != nil {
		return nil, err
	}
	if result.Data.UploadURL == "" {
		return nil, domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "init response has no upload_url")
	}
	return &protocol.UploadSession{
		ID:        result.Data.PublishID,
		UploadURL: result.Data.UploadURL,
		Metadata:  map[string]string{"publish_id": result.Data.PublishID},
	}, nil
}

// UploadChunk PUTs one byte range to the upload URL
func (s *Service) UploadChunk(ctx context.Context, req domain.PublishRequest, session *protocol.UploadSession, chunk protocol.Chunk) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk.Data))
	if err != nil {
		return err
	}
	contentType := "video/mp4"
	if len(req.Media) > 0 && req.Media[0].ContentType != "" {
		contentType = req.Media[0].ContentType
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Content-Range", chunk.ContentRange())
	httpReq.ContentLength = int64(len(chunk.Data))

	resp, err := s.client.Send(httpReq)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return httpclient.StatusError(resp.StatusCode, "", "", resp.Body)
	}
	return nil
}

// FinalizeUpload polls the publish status until TikTok reports completion
func (s *Service) FinalizeUpload(ctx context.Context, req domain.PublishRequest, session *protocol.UploadSession) (string, error) {
	maxPolls := s.maxPolls
	if maxPolls <= 0 {
		maxPolls = 1
	}
	for poll := 0; poll < maxPolls; poll++ {
		if poll > 0 {
			if err := s.sleep(ctx, s.pollInterval); err != nil {
				return "", err
			}
		}

		var result struct {
			Data struct {
				Status                 string  `json:"status"`
				FailReason             string  `json:"fail_reason"`
				PublicallyAvailableIDs []int64 `json:"publicaly_available_post_id"`
			} `json:"data"`
		}
		payload := map[string]string{"publish_id": session.ID}
		if err := s.postJSON(ctx, statusPath, payload, req.Token.AccessToken, &result); err != nil {
			return "", err
		}

		switch result.Data.Status {
		case "PUBLISH_COMPLETE":
			if len(result.Data.PublicallyAvailableIDs) > 0 {
				return strconv.FormatInt(result.Data.PublicallyAvailableIDs[0], 10), nil
			}
			return session.ID, nil
		case "SEND_TO_USER_INBOX":
			return session.ID, nil
		case "FAILED":
			return "", domain.NewPublishError(domain.ErrorKindUpstreamRejected, result.Data.FailReason,
				"publish %s failed: %s", session.ID, result.Data.FailReason)
		}
	}
	return "", domain.NewPublishError(domain.ErrorKindUpstreamUnavailable, "publish_timeout",
		"publish %s not complete after %d polls", session.ID, maxPolls)
}

// RefreshToken refreshes an access token using the refresh token
func (s *Service) RefreshToken(ctx context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	form := url.Values{}
	form.Set("client_key", s.clientKey)
	form.Set("client_secret", s.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", credential.RefreshToken)

	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.authBaseURL, tokenPath), form, "")
	if err != nil {
		return nil, err
	}
	return s.client.ExchangeToken(httpReq)
}
