package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 5000

	uploadPath = "/upload/youtube/v3/videos"
	tokenPath  = "/token"

	// statusResumeIncomplete is returned for every non-final chunk of a resumable upload
	statusResumeIncomplete = http.StatusPermanentRedirect
)

// Service handles YouTube Data API uploads with the resumable protocol
type Service struct {
	client       *httpclient.HTTPClient
	baseURL      string
	authBaseURL  string
	clientID     string
	clientSecret string
	chunkSize    int64
}

// NewService creates a new YouTube service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformYouTube.String())
	return &Service{
		client:       httpClient,
		baseURL:      pc.BaseURL,
		authBaseURL:  pc.AuthBaseURL,
		clientID:     pc.ClientID,
		clientSecret: pc.ClientSecret,
		chunkSize:    alignChunkSize(cfg.UploadChunkSize),
	}
}

// alignChunkSize rounds down to a multiple of 256 KiB as required by resumable uploads
func alignChunkSize(size int64) int64 {
	const unit = 256 * 1024
	if size < unit {
		return unit
	}
	return size - size%unit
}

// Platform returns youtube
func (s *Service) Platform() domain.Platform {
	return domain.PlatformYouTube
}

// Capabilities returns chunked upload capabilities for one video
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:      domain.ProtocolChunkedUpload,
		MediaMode:     domain.MediaModeBinary,
		MaxMedia:      1,
		AllowedMedia:  []domain.MediaKind{domain.MediaKindVideo},
		RequiresMedia: true,
		MaxTextLength: maxDescriptionLength,
	}
}

// Publish uploads the video through a resumable session
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	return protocol.ChunkedUpload{Platform: domain.PlatformYouTube, API: s, ChunkSize: s.chunkSize}.Run(ctx, req)
}

// videoTitle uses the first line of the content, cut to the title limit
func videoTitle(content string) string {
	title := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}

// googleError is the error envelope of Google APIs
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func apiError(resp *httpclient.Response) *domain.PublishError {
	var body googleError
	_ = json.Unmarshal(resp.Body, &body)

	reason := ""
	if len(body.Error.Errors) > 0 {
		reason = body.Error.Errors[0].Reason
	}
	perr := httpclient.StatusError(resp.StatusCode, reason, body.Error.Message, resp.Body)
	switch reason {
	case "quotaExceeded", "uploadLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
		perr.Kind = domain.ErrorKindUpstreamRejected
		perr.Code = httpclient.CodeRateLimitedUpstream
	case "authError", "unauthorized":
		perr.Kind = domain.ErrorKindAuthExpired
	}
	return perr
}

// InitUpload opens a resumable session; the session URI is returned in the Location header
func (s *Service) InitUpload(ctx context.Context, req domain.PublishRequest, media domain.PreparedMedia, plan protocol.ChunkPlan) (*protocol.UploadSession, error) {
	params := url.Values{}
	params.Set("uploadType", "resumable")
	params.Set("part", "snippet,status")
	apiURL := httpclient.CombinePath(s.baseURL, uploadPath) + "?" + params.Encode()

	payload := map[string]any{
		"snippet": map[string]any{
			"title":       videoTitle(req.Content),
			"description": req.Content,
		},
		"status": map[string]any{
			"privacyStatus": "public",
		},
	}
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, apiURL, payload, req.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	contentType := media.ContentType
	if contentType == "" {
		contentType = "video/*"
	}
	httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(plan.TotalSize, 10))
	httpReq.Header.Set("X-Upload-Content-Type", contentType)

	resp, err := s.client.Send(httpReq)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "resumable session has no Location header")
	}

	uploadID := ""
	if u, err := url.Parse(location); err == nil {
		uploadID = u.Query().Get("upload_id")
	}
	return &protocol.UploadSession{ID: uploadID, UploadURL: location, Metadata: map[string]string{}}, nil
}

// UploadChunk PUTs one byte range. Non-final chunks are acknowledged with 308; the final
// chunk returns the created video resource.
func (s *Service) UploadChunk(ctx context.Context, req domain.PublishRequest, session *protocol.UploadSession, chunk protocol.Chunk) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk.Data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Token.AccessToken)
	httpReq.Header.Set("Content-Range", chunk.ContentRange())
	httpReq.ContentLength = int64(len(chunk.Data))

	resp, err := s.client.Send(httpReq)
	if err != nil {
		return err
	}

	last := chunk.End == chunk.Total-1
	switch {
	case resp.StatusCode == statusResumeIncomplete && !last:
		return nil
	case resp.OK() && last:
		var video struct {
			ID string `json:"id"`
		}
		if err := resp.DecodeJSON(&video); err != nil {
			return err
		}
		session.ExternalID = video.ID
		return nil
	case resp.StatusCode == statusResumeIncomplete:
		return domain.NewPublishError(domain.ErrorKindUpstreamUnavailable, "upload_incomplete",
			"upload not complete after final chunk (range %s)", resp.Header.Get("Range"))
	default:
		return apiError(resp)
	}
}

// FinalizeUpload returns the video id received with the final chunk
func (s *Service) FinalizeUpload(ctx context.Context, req domain.PublishRequest, session *protocol.UploadSession) (string, error) {
	if session.ExternalID == "" {
		return "", domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "upload finished without a video id")
	}
	return session.ExternalID, nil
}

// RefreshToken exchanges the Google refresh token for a new access token
func (s *Service) RefreshToken(ctx context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	form := url.Values{}
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", credential.RefreshToken)

	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.authBaseURL, tokenPath), form, "")
	if err != nil {
		return nil, err
	}
	return s.client.ExchangeToken(httpReq)
}
