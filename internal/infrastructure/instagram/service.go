package instagram

import (
	"context"
	"net/http"
	"net/url"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

const maxCaptionLength = 2200

// Service publishes to an Instagram professional account with the container flow:
// create a media container, poll status_code until FINISHED, then media_publish.
type Service struct {
	client      *httpclient.HTTPClient
	baseURL     string
	authBaseURL string
	flow        protocol.ContainerFlow
}

// NewService creates a new Instagram service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformInstagram.String())
	s := &Service{
		client:      httpClient,
		baseURL:     pc.BaseURL,
		authBaseURL: pc.AuthBaseURL,
	}
	s.flow = protocol.ContainerFlow{
		Platform:     domain.PlatformInstagram,
		API:          s,
		PollInterval: cfg.ContainerPollInterval,
		MaxPolls:     cfg.ContainerMaxPolls,
	}
	return s
}

// Platform returns instagram
func (s *Service) Platform() domain.Platform {
	return domain.PlatformInstagram
}

// Capabilities returns container capabilities: exactly one image or video by URL
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:             domain.ProtocolContainer,
		MediaMode:            domain.MediaModeDirectURL,
		MaxMedia:             1,
		AllowedMedia:         []domain.MediaKind{domain.MediaKindImage, domain.MediaKindVideo},
		RequiresMedia:        true,
		MaxTextLength:        maxCaptionLength,
		AsyncMediaProcessing: true,
	}
}

// Publish runs the container flow for a single media post
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	item := protocol.ContainerItem{Index: 1, Text: req.Content, Media: req.Media}
	return s.flow.Run(ctx, req, []protocol.ContainerItem{item})
}

// CreateContainer creates an image or reels container
func (s *Service) CreateContainer(ctx context.Context, req domain.PublishRequest, item protocol.ContainerItem) (string, error) {
	if len(item.Media) == 0 {
		return "", domain.NewPublishError(domain.ErrorKindValidation, "", "media is required")
	}
	media := item.Media[0]

	form := url.Values{}
	form.Set("access_token", req.Token.AccessToken)
	form.Set("caption", item.Text)
	if media.Ref.Kind == domain.MediaKindVideo {
		form.Set("media_type", "REELS")
		form.Set("video_url", media.URL)
	} else {
		form.Set("image_url", media.URL)
	}

	var result idResponse
	if err := s.post(ctx, "/"+req.Account.ExternalID+"/media", form, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// ContainerStatus reads the status_code of a container
func (s *Service) ContainerStatus(ctx context.Context, req domain.PublishRequest, containerID string) (protocol.ContainerStatus, error) {
	params := url.Values{}
	params.Set("fields", "status_code,status")
	params.Set("access_token", req.Token.AccessToken)
	apiURL := httpclient.CombinePath(s.baseURL, "/"+containerID) + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return protocol.ContainerStatus{}, err
	}
	resp, err := s.client.Send(httpReq)
	if err != nil {
		return protocol.ContainerStatus{}, err
	}
	if perr := httpclient.GraphError(resp); perr != nil {
		return protocol.ContainerStatus{}, perr
	}

	var result struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return protocol.ContainerStatus{}, err
	}
	return protocol.ContainerStatus{
		State:   httpclient.GraphContainerState(result.StatusCode),
		Message: result.Status,
	}, nil
}

// PublishContainer publishes a finished container
func (s *Service) PublishContainer(ctx context.Context, req domain.PublishRequest, containerID string) (string, error) {
	form := url.Values{}
	form.Set("access_token", req.Token.AccessToken)
	form.Set("creation_id", containerID)

	var result idResponse
	if err := s.post(ctx, "/"+req.Account.ExternalID+"/media_publish", form, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

type idResponse struct {
	ID string `json:"id"`
}

func (s *Service) post(ctx context.Context, path string, form url.Values, out *idResponse) error {
	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.baseURL, path), form, "")
	if err != nil {
		return err
	}
	resp, err := s.client.Send(httpReq)
	if err != nil {
		return err
	}
	if perr := httpclient.GraphError(resp); perr != nil {
		return perr
	}
	if err := resp.DecodeJSON(out); err != nil {
		return err
	}
	if out.ID == "" {
		return domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "response has no id: %s", httpclient.PreviewBody(resp.Body))
	}
	return nil
}

// SelfRefreshing reports that a long-lived Instagram token is exchanged for a new one by itself
func (s *Service) SelfRefreshing() bool {
	return true
}

// RefreshToken extends a long-lived Instagram token. Long-lived tokens refresh
// themselves, so the stored refresh token is the previous long-lived token.
func (s *Service) RefreshToken(ctx context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	token := credential.RefreshToken
	if token == "" {
		token = credential.AccessToken
	}
	params.Set("access_token", token)
	apiURL := httpclient.CombinePath(s.authBaseURL, "/refresh_access_token") + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	refreshed, err := s.client.ExchangeToken(httpReq)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshed.AccessToken
	}
	return refreshed, nil
}
