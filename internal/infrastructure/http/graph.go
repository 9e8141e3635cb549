package infrastructure

import (
	"encoding/json"
	"strconv"

	"crosspost/internal/domain"
)

// GraphErrorBody is the error envelope returned by the Meta Graph APIs
type GraphErrorBody struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		UserMessage  string `json:"error_user_msg"`
	} `json:"error"`
}

// Graph error codes that mean the token can no longer be used
var graphAuthCodes = map[int]bool{
	102: true,
	190: true,
	463: true,
	467: true,
}

// Graph error codes that mean an application or user throttle was hit
var graphThrottleCodes = map[int]bool{
	4:   true,
	17:  true,
	32:  true,
	613: true,
}

// Graph error codes that are transient on Meta's side
var graphTransientCodes = map[int]bool{
	1: true,
	2: true,
}

// GraphError returns the PublishError carried by a Graph API response, or nil
// when the response is a 2xx without an error envelope.
func GraphError(resp *Response) *domain.PublishError {
	var body GraphErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	if body.Error == nil {
		if resp.OK() {
			return nil
		}
		return StatusError(resp.StatusCode, "", "", resp.Body)
	}

	code := strconv.Itoa(body.Error.Code)
	if body.Error.ErrorSubcode != 0 {
		code += "/" + strconv.Itoa(body.Error.ErrorSubcode)
	}
	msg := body.Error.Message
	if body.Error.UserMessage != "" {
		msg += " (" + body.Error.UserMessage + ")"
	}

	switch {
	case graphAuthCodes[body.Error.Code] || body.Error.Type == "OAuthException" && resp.StatusCode == 401:
		return domain.NewPublishError(domain.ErrorKindAuthExpired, code, "%s", msg)
	case graphThrottleCodes[body.Error.Code] || resp.StatusCode == 429:
		return domain.NewPublishError(domain.ErrorKindUpstreamRejected, CodeRateLimitedUpstream, "%s", msg)
	case graphTransientCodes[body.Error.Code] || resp.StatusCode >= 500:
		return domain.NewPublishError(domain.ErrorKindUpstreamUnavailable, code, "%s", msg)
	default:
		return domain.NewPublishError(domain.ErrorKindUpstreamRejected, code, "%s", msg)
	}
}

// GraphContainerState maps a Graph container status_code to a container state
func GraphContainerState(status string) domain.ContainerState {
	switch status {
	case "FINISHED", "PUBLISHED":
		return domain.ContainerReady
	case "ERROR", "EXPIRED":
		return domain.ContainerError
	default:
		return domain.ContainerProcessing
	}
}
