package threads

import (
	"context"
	"net/http"
	"net/url"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

const maxPartLength = 500

// Service publishes single posts and threads to Threads. Each part gets its own
// container; containers are prepared in order and published in order with a delay
// between publishes. Media is fetched by Threads from our proxy URL.
type Service struct {
	client      *httpclient.HTTPClient
	baseURL     string
	authBaseURL string
	flow        protocol.ContainerFlow
}

// NewService creates a new Threads service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformThreads.String())
	s := &Service{
		client:      httpClient,
		baseURL:     pc.BaseURL,
		authBaseURL: pc.AuthBaseURL,
	}
	s.flow = protocol.ContainerFlow{
		Platform:          domain.PlatformThreads,
		API:               s,
		PollInterval:      cfg.ContainerPollInterval,
		MaxPolls:          cfg.ContainerMaxPolls,
		InterPublishDelay: cfg.InterPublishDelay,
	}
	return s
}

// Platform returns threads
func (s *Service) Platform() domain.Platform {
	return domain.PlatformThreads
}

// Capabilities returns container capabilities with thread support
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:             domain.ProtocolContainer,
		MediaMode:            domain.MediaModeProxiedURL,
		MaxMedia:             1,
		AllowedMedia:         []domain.MediaKind{domain.MediaKindImage, domain.MediaKindVideo},
		MaxTextLength:        maxPartLength,
		SupportsThread:       true,
		AsyncMediaProcessing: true,
	}
}

// Publish runs the container flow over every part. Media is attached to the first part.
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	parts := req.Parts()
	items := make([]protocol.ContainerItem, 0, len(parts))
	for i, text := range parts {
		item := protocol.ContainerItem{Index: i + 1, Text: text}
		if i == 0 {
			item.Media = req.Media
		}
		items = append(items, item)
	}
	return s.flow.Run(ctx, req, items)
}

// CreateContainer creates a TEXT, IMAGE or VIDEO container for one part
func (s *Service) CreateContainer(ctx context.Context, req domain.PublishRequest, item protocol.ContainerItem) (string, error) {
	form := url.Values{}
	form.Set("access_token", req.Token.AccessToken)
	if item.Text != "" {
		form.Set("text", item.Text)
	}
	switch {
	case len(item.Media) == 0:
		form.Set("media_type", "TEXT")
	case item.Media[0].Ref.Kind == domain.MediaKindVideo:
		form.Set("media_type", "VIDEO")
		form.Set("video_url", item.Media[0].URL)
	default:
		form.Set("media_type", "IMAGE")
		form.Set("image_url", item.Media[0].URL)
	}
	return s.postForID(ctx, "/"+req.Account.ExternalID+"/threads", form)
}

// ContainerStatus reads the processing status of a container
func (s *Service) ContainerStatus(ctx context.Context, req domain.PublishRequest, containerID string) (protocol.ContainerStatus, error) {
	params := url.Values{}
	params.Set("fields", "status,error_message")
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
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return protocol.ContainerStatus{}, err
	}
	return protocol.ContainerStatus{
		State:   httpclient.GraphContainerState(result.Status),
		Message: result.ErrorMessage,
	}, nil
}

// PublishContainer publishes a finished container
func (s *Service) PublishContainer(ctx context.Context, req domain.PublishRequest, containerID string) (string, error) {
	form := url.Values{}
	form.Set("access_token", req.Token.AccessToken)
	form.Set("creation_id", containerID)
	return s.postForID(ctx, "/"+req.Account.ExternalID+"/threads_publish", form)
}

func (s *Service) postForID(ctx context.Context, path string, form url.Values) (string, error) {
	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.baseURL, path), form, "")
	if err != nil {
		return "", err
	}
	resp, err := s.client.Send(httpReq)
	if err != nil {
		return "", err
	}
	if perr := httpclient.GraphError(resp); perr != nil {
		return "", perr
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "response has no id: %s", httpclient.PreviewBody(resp.Body))
	}
	return result.ID, nil
}

// SelfRefreshing reports that a long-lived Threads token is exchanged for a new one by itself
func (s *Service) SelfRefreshing() bool {
	return true
}

// RefreshToken extends a long-lived Threads token
func (s *Service) RefreshToken(ctx context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "th_refresh_token")
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
