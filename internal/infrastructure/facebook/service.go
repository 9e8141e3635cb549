package facebook

import (
	"context"
	"net/http"
	"net/url"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

const maxPostLength = 63206

// Service publishes to a Facebook page through the Graph API.
// Page access tokens are long-lived so the service is not a TokenRefresher.
type Service struct {
	client  *httpclient.HTTPClient
	baseURL string
}

// NewService creates a new Facebook service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformFacebook.String())
	return &Service{
		client:  httpClient,
		baseURL: pc.BaseURL,
	}
}

// Platform returns facebook
func (s *Service) Platform() domain.Platform {
	return domain.PlatformFacebook
}

// Capabilities returns single-call capabilities with at most one image URL
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:      domain.ProtocolSingleCall,
		MediaMode:     domain.MediaModeDirectURL,
		MaxMedia:      1,
		AllowedMedia:  []domain.MediaKind{domain.MediaKindImage},
		MaxTextLength: maxPostLength,
	}
}

// Publish creates a page post, or a photo post when an image is attached
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	return protocol.SingleCall{Platform: domain.PlatformFacebook, Call: s.createPost}.Run(ctx, req)
}

func (s *Service) createPost(ctx context.Context, req domain.PublishRequest) (string, map[string]string, error) {
	pageID := req.Account.ExternalID
	form := url.Values{}
	form.Set("access_token", req.Token.AccessToken)

	path := "/" + pageID + "/feed"
	if len(req.Media) > 0 {
		path = "/" + pageID + "/photos"
		form.Set("url", req.Media[0].URL)
		if req.Content != "" {
			form.Set("caption", req.Content)
		}
	} else {
		form.Set("message", req.Content)
	}

	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.baseURL, path), form, "")
	if err != nil {
		return "", nil, err
	}
	resp, err := s.client.Send(httpReq)
	if err != nil {
		return "", nil, err
	}
	if perr := httpclient.GraphError(resp); perr != nil {
		return "", nil, perr
	}

	var result struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return "", nil, err
	}

	metadata := map[string]string{}
	id := result.ID
	if result.PostID != "" {
		metadata["photo_id"] = result.ID
		id = result.PostID
	}
	if id == "" {
		return "", nil, domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "response has no id: %s", httpclient.PreviewBody(resp.Body))
	}
	return id, metadata, nil
}
