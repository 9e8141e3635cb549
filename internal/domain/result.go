package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrorKind is the shared error taxonomy every adapter normalizes into
type ErrorKind string

const (
	// ErrorKindAuthExpired means the credential is invalid or expired with no usable refresh
	ErrorKindAuthExpired ErrorKind = "auth_expired"

	// ErrorKindRateLimited means local admission was denied; no network call was made
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindValidation means caller content or media violates a platform constraint
	ErrorKindValidation ErrorKind = "validation_error"

	// ErrorKindUpstreamRejected means the platform returned a structured error
	ErrorKindUpstreamRejected ErrorKind = "upstream_rejected"

	// ErrorKindUpstreamUnavailable means a network failure, 5xx or open circuit
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// ErrorKindPartialSuccess means a multi-step sequence succeeded partially
	ErrorKindPartialSuccess ErrorKind = "partial_success"

	// ErrorKindTimeout means the call did not finish before the run deadline
	ErrorKindTimeout ErrorKind = "timeout"
)

// ResultKindSuccess is reported by PlatformResult.Kind for successful results
const ResultKindSuccess = "success"

// PublishError is a normalized adapter failure
type PublishError struct {
	// Kind is the taxonomy kind
	Kind ErrorKind

	// Code is the platform error code, if any
	Code string

	// Message is a human readable description
	Message string

	// Err is the underlying cause
	Err error
}

// NewPublishError creates a PublishError with a formatted message
func NewPublishError(kind ErrorKind, code string, format string, args ...any) *PublishError {
	return &PublishError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapPublishError creates a PublishError around an underlying error
func WrapPublishError(kind ErrorKind, err error, format string, args ...any) *PublishError {
	return &PublishError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *PublishError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ClassifyError maps any error into a PublishError.
// Unknown errors are treated as upstream unavailability.
func ClassifyError(err error) *PublishError {
	if err == nil {
		return nil
	}
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return pubErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &PublishError{Kind: ErrorKindTimeout, Message: "call abandoned at run deadline", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &PublishError{Kind: ErrorKindTimeout, Message: "network timeout", Err: err}
		}
		return &PublishError{Kind: ErrorKindUpstreamUnavailable, Message: "network error", Err: err}
	}
	return &PublishError{Kind: ErrorKindUpstreamUnavailable, Err: err}
}

// KindOf returns the taxonomy kind of err, or "" for nil
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return ClassifyError(err).Kind
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:access|refresh|input|fb_exchange)_token=)[^&\s"']+`),
	regexp.MustCompile(`(?i)(client_secret=)[^&\s"']+`),
	regexp.MustCompile(`(?i)("(?:access_token|refresh_token|client_secret)"\s*:\s*")[^"]*`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
}

const maxMessageLength = 512

// SanitizeMessage redacts token material and truncates the message
func SanitizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, "${1}[REDACTED]")
	}
	return Truncate(msg, maxMessageLength)
}

// Truncate cuts s to at most limit bytes on a rune boundary and marks the cut with "..."
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ResultError is the structured error stored on a PlatformResult
type ResultError struct {
	// Kind is the taxonomy kind
	Kind ErrorKind `json:"kind"`

	// Cause is the kind of the underlying failure for partial_success results
	Cause ErrorKind `json:"cause,omitempty"`

	// Code is the platform error code, if any
	Code string `json:"code,omitempty"`

	// Message is the sanitized error message
	Message string `json:"message"`

	// FailedItem is the 1-based index of the failed item in a multi-part sequence
	FailedItem int `json:"failed_item,omitempty"`
}

// NewResultError converts an error into a sanitized ResultError
func NewResultError(err error) *ResultError {
	pubErr := ClassifyError(err)
	if pubErr == nil {
		return nil
	}
	return &ResultError{
		Kind:    pubErr.Kind,
		Code:    pubErr.Code,
		Message: SanitizeMessage(pubErr.Error()),
	}
}

// PublishedItem is one successfully published part of a multi-part sequence
type PublishedItem struct {
	// Index is the 1-based position of the item in the sequence
	Index int `json:"index"`

	// ContainerID is the platform container id, if the protocol used one
	ContainerID string `json:"container_id,omitempty"`

	// ExternalID is the platform post id
	ExternalID string `json:"external_id"`
}

// MetricsSource labels where engagement numbers came from
type MetricsSource string

const (
	// MetricsSourceLive means the numbers were fetched from the platform API
	MetricsSourceLive MetricsSource = "live"

	// MetricsSourceSimulated means the numbers are placeholders and must not be shown as real
	MetricsSourceSimulated MetricsSource = "simulated"
)

// EngagementMetrics holds engagement numbers fetched after publishing
type EngagementMetrics struct {
	// Source labels how the numbers were obtained
	Source MetricsSource `json:"source"`

	// Views is the view or impression count
	Views int64 `json:"views"`

	// Likes is the like count
	Likes int64 `json:"likes"`

	// Comments is the comment or reply count
	Comments int64 `json:"comments"`

	// Shares is the share or repost count
	Shares int64 `json:"shares"`

	// FetchedAt is when the numbers were fetched
	FetchedAt time.Time `json:"fetched_at"`
}

// PlatformResult is the outcome of one platform within one publish attempt
type PlatformResult struct {
	// Platform is the target platform
	Platform Platform `json:"platform"`

	// AccountID is the account used for the attempt
	AccountID string `json:"account_id"`

	// Success is true when the content was published
	Success bool `json:"success"`

	// ExternalID is the platform post id (first item for threads)
	ExternalID string `json:"external_id,omitempty"`

	// Error is set when Success is false
	Error *ResultError `json:"error,omitempty"`

	// Items lists the published parts of a multi-part sequence, in order
	Items []PublishedItem `json:"items,omitempty"`

	// Metadata carries protocol-specific identifiers (container id, publish id, upload id)
	Metadata map[string]string `json:"metadata,omitempty"`

	// Metrics holds engagement numbers attached after publishing
	Metrics *EngagementMetrics `json:"metrics,omitempty"`

	// AttemptedAt is when the attempt finished
	AttemptedAt time.Time `json:"attempted_at"`
}

// Kind returns "success" or the error kind of the result
func (r PlatformResult) Kind() string {
	if r.Success {
		return ResultKindSuccess
	}
	if r.Error == nil {
		return string(ErrorKindUpstreamUnavailable)
	}
	return string(r.Error.Kind)
}

// AttachMetrics attaches engagement numbers to a successful result.
// Metrics without an explicit source are rejected so nothing is silently fabricated.
func (r *PlatformResult) AttachMetrics(m EngagementMetrics) error {
	if !r.Success {
		return fmt.Errorf("cannot attach metrics to a failed result")
	}
	if m.Source != MetricsSourceLive && m.Source != MetricsSourceSimulated {
		return fmt.Errorf("metrics source must be %q or %q", MetricsSourceLive, MetricsSourceSimulated)
	}
	r.Metrics = &m
	return nil
}

// FailedResult builds a failed PlatformResult from an error
func FailedResult(platform Platform, accountID string, err error, at time.Time) PlatformResult {
	return PlatformResult{
		Platform:    platform,
		AccountID:   accountID,
		Error:       NewResultError(err),
		AttemptedAt: at,
	}
}

// PostOutcome is the aggregated result of one publish attempt
type PostOutcome struct {
	// PostID is the published post
	PostID string `json:"post_id"`

	// Status is the overall post status
	Status PostStatus `json:"status"`

	// Results holds one entry per requested account, in request order
	Results []PlatformResult `json:"results"`

	// StartedAt is when the attempt started
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the attempt finished
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded returns the number of successful results
func (o *PostOutcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}
