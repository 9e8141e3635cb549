package twitter

import (
	"context"
	"net/http"
	"net/url"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/protocol"
)

// maxTweetLength is the character limit of a standard tweet
const maxTweetLength = 280

// Service publishes tweets through the X API v2
type Service struct {
	client       *httpclient.HTTPClient
	baseURL      string
	authBaseURL  string
	clientID     string
	clientSecret string
}

// NewService creates a new Twitter service
func NewService(cfg *config.Config, httpClient *httpclient.HTTPClient) *Service {
	pc, _ := cfg.Platform(domain.PlatformTwitter.String())
	return &Service{
		client:       httpClient,
		baseURL:      pc.BaseURL,
		authBaseURL:  pc.AuthBaseURL,
		clientID:     pc.ClientID,
		clientSecret: pc.ClientSecret,
	}
}

// Platform returns twitter
func (s *Service) Platform() domain.Platform {
	return domain.PlatformTwitter
}

// Capabilities returns the text-only single-call capabilities
func (s *Service) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Protocol:      domain.ProtocolSingleCall,
		MediaMode:     domain.MediaModeNone,
		MaxTextLength: maxTweetLength,
	}
}

// Publish posts a tweet
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	return protocol.SingleCall{Platform: domain.PlatformTwitter, Call: s.createTweet}.Run(ctx, req)
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *Service) createTweet(ctx context.Context, req domain.PublishRequest) (string, map[string]string, error) {
	apiURL := httpclient.CombinePath(s.baseURL, "/2/tweets")
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, apiURL, map[string]string{"text": req.Content}, req.Token.AccessToken)
	if err != nil {
		return "", nil, err
	}

	resp, err := s.client.Send(httpReq)
	if err != nil {
		return "", nil, err
	}

	var result tweetResponse
	if !resp.OK() {
		_ = resp.DecodeJSON(&result)
		return "", nil, tweetError(resp, result)
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return "", nil, err
	}
	if result.Data.ID == "" {
		return "", nil, tweetError(resp, result)
	}
	return result.Data.ID, nil, nil
}

func tweetError(resp *httpclient.Response, result tweetResponse) *domain.PublishError {
	code := result.Title
	msg := result.Detail
	if len(result.Errors) > 0 {
		msg = result.Errors[0].Message
	}
	status := resp.StatusCode
	if resp.OK() {
		status = http.StatusBadGateway
	}
	perr := httpclient.StatusError(status, code, msg, resp.Body)
	// 403 is a content policy refusal (duplicate, not permitted); token problems are 401
	if resp.OK() || status == http.StatusForbidden {
		perr.Kind = domain.ErrorKindUpstreamRejected
	}
	return perr
}

// RefreshToken exchanges the OAuth2 refresh token for a new access token
func (s *Service) RefreshToken(ctx context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", credential.RefreshToken)
	form.Set("client_id", s.clientID)

	httpReq, err := httpclient.NewFormRequest(ctx, http.MethodPost, httpclient.CombinePath(s.authBaseURL, "/2/oauth2/token"), form, "")
	if err != nil {
		return nil, err
	}
	if s.clientSecret != "" {
		httpReq.SetBasicAuth(s.clientID, s.clientSecret)
	}
	return s.client.ExchangeToken(httpReq)
}
