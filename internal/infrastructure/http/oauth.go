package infrastructure

import (
	"encoding/json"
	"net/http"

	"crosspost/internal/domain"
)

// TokenResponse is the standard OAuth2 token endpoint response
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeToken sends a token grant request and returns the refreshed token.
// invalid_grant and 400/401 responses are reported as auth_expired.
func (c *HTTPClient) ExchangeToken(req *http.Request) (*domain.RefreshedToken, error) {
	resp, err := c.Send(req)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	_ = json.Unmarshal(resp.Body, &token)

	if !resp.OK() || token.Error != "" {
		msg := token.ErrorDescription
		if msg == "" {
			msg = token.Error
		}
		perr := StatusError(resp.StatusCode, token.Error, msg, resp.Body)
		if token.Error == "invalid_grant" || resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			perr.Kind = domain.ErrorKindAuthExpired
		}
		return nil, perr
	}
	if token.AccessToken == "" {
		return nil, domain.NewPublishError(domain.ErrorKindUpstreamRejected, "", "token response has no access_token: %s", PreviewBody(resp.Body))
	}

	return &domain.RefreshedToken{
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		ExpiresInSeconds: token.ExpiresIn,
	}, nil
}
