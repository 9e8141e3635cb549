package protocol

import (
	"context"

	"crosspost/internal/domain"
)

// SingleCallFunc performs the one authenticated request of a single-call platform
type SingleCallFunc func(ctx context.Context, req domain.PublishRequest) (externalID string, metadata map[string]string, err error)

// SingleCall publishes with one request. Any failure is terminal.
type SingleCall struct {
	Platform domain.Platform
	Call     SingleCallFunc
}

// Run executes the call and converts its outcome into a result
func (s SingleCall) Run(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	id, metadata, err := s.Call(ctx, req)
	if err != nil {
		return Failed(req, s.Platform, err, metadata)
	}
	return Succeeded(req, s.Platform, id, nil, metadata)
}
