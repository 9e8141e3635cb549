// Package protocol implements the three publish protocols platform adapters drive:
// single-call, container (create, poll, publish) and chunked binary upload.
package protocol

import (
	"context"
	"time"
	"unicode/utf8"

	"crosspost/internal/domain"
)

// Succeeded builds a successful result
func Succeeded(req domain.PublishRequest, platform domain.Platform, externalID string, items []domain.PublishedItem, metadata map[string]string) domain.PlatformResult {
	return domain.PlatformResult{
		Platform:   platform,
		AccountID:  accountID(req),
		Success:    true,
		ExternalID: externalID,
		Items:      items,
		Metadata:   metadata,
	}
}

// Failed builds a failed result from err
func Failed(req domain.PublishRequest, platform domain.Platform, err error, metadata map[string]string) domain.PlatformResult {
	return domain.PlatformResult{
		Platform:  platform,
		AccountID: accountID(req),
		Error:     domain.NewResultError(err),
		Metadata:  metadata,
	}
}

// FailedAt builds the result of a multi-part sequence that failed at item failedItem (1-based).
// With published items the result is a partial_success carrying the cause kind.
func FailedAt(req domain.PublishRequest, platform domain.Platform, err error, failedItem int, published []domain.PublishedItem, metadata map[string]string) domain.PlatformResult {
	res := Failed(req, platform, err, metadata)
	res.Error.FailedItem = failedItem
	if len(published) == 0 {
		return res
	}
	res.Error.Cause = res.Error.Kind
	res.Error.Kind = domain.ErrorKindPartialSuccess
	res.Items = published
	res.ExternalID = published[0].ExternalID
	return res
}

func accountID(req domain.PublishRequest) string {
	if req.Account == nil {
		return ""
	}
	return req.Account.ID
}

// Validate checks content and media against the adapter capabilities
func Validate(caps domain.Capabilities, content string, thread []string, media []domain.MediaRef) error {
	if len(thread) > 0 && !caps.SupportsThread {
		return domain.NewPublishError(domain.ErrorKindValidation, "", "threads are not supported")
	}
	if content == "" && len(media) == 0 {
		return domain.NewPublishError(domain.ErrorKindValidation, "", "content is empty")
	}
	if caps.MaxTextLength > 0 {
		parts := append([]string{content}, thread...)
		for i, part := range parts {
			if n := utf8.RuneCountInString(part); n > caps.MaxTextLength {
				return domain.NewPublishError(domain.ErrorKindValidation, "",
					"part %d is %d characters, limit is %d", i+1, n, caps.MaxTextLength)
			}
		}
	}
	if caps.RequiresMedia && len(media) == 0 {
		return domain.NewPublishError(domain.ErrorKindValidation, "", "media is required")
	}
	if len(media) > caps.MaxMedia {
		return domain.NewPublishError(domain.ErrorKindValidation, "",
			"%d media items attached, limit is %d", len(media), caps.MaxMedia)
	}
	for _, m := range media {
		if !caps.AcceptsMediaKind(m.Kind) {
			return domain.NewPublishError(domain.ErrorKindValidation, "", "media kind %q is not supported", m.Kind)
		}
	}
	return nil
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
