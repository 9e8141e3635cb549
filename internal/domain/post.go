package domain

import (
	"context"
	"time"
)

// PostStatus represents the lifecycle status of a post
type PostStatus string

const (
	// PostStatusPending indicates the post is waiting to be published
	PostStatusPending PostStatus = "pending"

	// PostStatusPosting indicates a publish attempt is in progress
	PostStatusPosting PostStatus = "posting"

	// PostStatusPosted indicates the post reached at least the required platforms
	PostStatusPosted PostStatus = "posted"

	// PostStatusFailed indicates the publish attempt failed
	PostStatusFailed PostStatus = "failed"

	// PostStatusCancelled indicates the post was cancelled before publishing
	PostStatusCancelled PostStatus = "cancelled"
)

// IsTerminal reports whether no further publish attempt is running for the status
func (s PostStatus) IsTerminal() bool {
	return s == PostStatusPosted || s == PostStatusFailed || s == PostStatusCancelled
}

// CanPublish reports whether a publish attempt may start from the status.
// Failed posts may be retried by the external scheduler.
func (s PostStatus) CanPublish() bool {
	return s == PostStatusPending || s == PostStatusFailed
}

// MediaKind is the type of a media item
type MediaKind string

const (
	// MediaKindImage is a still image
	MediaKindImage MediaKind = "image"

	// MediaKindVideo is a video file
	MediaKindVideo MediaKind = "video"
)

// MediaRef references a media file in the application's own storage
type MediaRef struct {
	// URL is the storage URL of the media file
	URL string `json:"url"`

	// Kind is the media kind
	Kind MediaKind `json:"kind"`

	// ContentType is the optional MIME type
	ContentType string `json:"content_type,omitempty"`
}

// PlatformOverride replaces the post content for a single platform
type PlatformOverride struct {
	// Content replaces Post.Content when not empty
	Content string `json:"content,omitempty"`

	// Thread replaces Post.Thread when not nil
	Thread []string `json:"thread,omitempty"`
}

// Post is one logical piece of content to publish on several platforms
type Post struct {
	// ID is the unique identifier for the post
	ID string

	// UserID is the author of the post
	UserID string

	// Content is the default text for every platform
	Content string

	// Thread holds follow-up parts published after Content on platforms that support threads
	Thread []string

	// Overrides holds per-platform content overrides
	Overrides map[Platform]PlatformOverride

	// Platforms is the ordered list of target platforms
	Platforms []Platform

	// AccountIDs pins the accounts to publish with; empty selects the author's active
	// accounts on Platforms
	AccountIDs []string

	// Media lists the media attached to the post
	Media []MediaRef

	// PublishAt is the desired publish time (owned by the external scheduler)
	PublishAt *time.Time

	// RequireAllPlatforms makes the post fail unless every platform succeeds
	RequireAllPlatforms bool

	// Status is the lifecycle status
	Status PostStatus

	// Results holds one entry per platform per publish attempt
	Results []PlatformResult

	// CreatedAt is the timestamp when the post was created
	CreatedAt time.Time

	// UpdatedAt is the timestamp when the post was last updated
	UpdatedAt time.Time
}

// ContentFor returns the text and thread parts to publish on the given platform
func (p *Post) ContentFor(platform Platform) (string, []string) {
	content, thread := p.Content, p.Thread
	if override, ok := p.Overrides[platform]; ok {
		if override.Content != "" {
			content = override.Content
		}
		if override.Thread != nil {
			thread = override.Thread
		}
	}
	return content, thread
}

// TargetsPlatform reports whether the post lists the platform as a target
func (p *Post) TargetsPlatform(platform Platform) bool {
	for _, target := range p.Platforms {
		if target == platform {
			return true
		}
	}
	return false
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	// GetByID returns a post by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*Post, error)

	// Save creates or updates a post
	Save(ctx context.Context, post *Post) error

	// TransitionStatus moves a post from one of the allowed statuses to the target status.
	// It returns ErrPostNotPublishable when the current status is not in from.
	TransitionStatus(ctx context.Context, id string, from []PostStatus, to PostStatus) error

	// CompleteAttempt stores the final status and appends the results of one attempt
	CompleteAttempt(ctx context.Context, id string, status PostStatus, results []PlatformResult) error
}
