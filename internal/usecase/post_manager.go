package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crosspost/internal/domain"
)

// PostInput is the upstream request to publish content
type PostInput struct {
	UserID              string                                     `json:"user_id"`
	Content             string                                     `json:"content"`
	Thread              []string                                   `json:"thread,omitempty"`
	Overrides           map[domain.Platform]domain.PlatformOverride `json:"overrides,omitempty"`
	Platforms           []string                                   `json:"platforms"`
	AccountIDs          []string                                   `json:"account_ids,omitempty"`
	Media               []domain.MediaRef                          `json:"media,omitempty"`
	PublishAt           *time.Time                                 `json:"publish_at,omitempty"`
	RequireAllPlatforms bool                                       `json:"require_all_platforms"`
}

// PostManager creates, reads and cancels posts
type PostManager struct {
	postRepo domain.PostRepository
}

// NewPostManager creates a new post manager
func NewPostManager(postRepo domain.PostRepository) *PostManager {
	return &PostManager{postRepo: postRepo}
}

// CreatePost validates input and stores a pending post
func (m *PostManager) CreatePost(ctx context.Context, input PostInput) (*domain.Post, error) {
	if strings.TrimSpace(input.Content) == "" && len(input.Media) == 0 {
		return nil, fmt.Errorf("content or media is required")
	}
	if len(input.Platforms) == 0 {
		return nil, fmt.Errorf("at least one platform is required")
	}

	platforms := make([]domain.Platform, 0, len(input.Platforms))
	seen := make(map[domain.Platform]bool)
	for _, name := range input.Platforms {
		platform := domain.ParsePlatform(name)
		if platform == "" || seen[platform] {
			continue
		}
		seen[platform] = true
		platforms = append(platforms, platform)
	}
	for platform := range input.Overrides {
		if !seen[platform] {
			return nil, fmt.Errorf("override for %s which is not a target platform", platform)
		}
	}
	var accountIDs []string
	seenAccounts := make(map[string]bool, len(input.AccountIDs))
	for _, id := range input.AccountIDs {
		id = strings.TrimSpace(id)
		if id == "" || seenAccounts[id] {
			continue
		}
		seenAccounts[id] = true
		accountIDs = append(accountIDs, id)
	}
	for i, m := range input.Media {
		if m.URL == "" {
			return nil, fmt.Errorf("media %d has no url", i+1)
		}
		if m.Kind != domain.MediaKindImage && m.Kind != domain.MediaKindVideo {
			return nil, fmt.Errorf("media %d has unknown kind %q", i+1, m.Kind)
		}
	}

	post := &domain.Post{
		UserID:              input.UserID,
		Content:             input.Content,
		Thread:              input.Thread,
		Overrides:           input.Overrides,
		Platforms:           platforms,
		AccountIDs:          accountIDs,
		Media:               input.Media,
		PublishAt:           input.PublishAt,
		RequireAllPlatforms: input.RequireAllPlatforms,
		Status:              domain.PostStatusPending,
	}
	if err := m.postRepo.Save(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	return post, nil
}

// GetPost returns a post with its results
func (m *PostManager) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	post, err := m.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if post == nil {
		return nil, domain.ErrPostNotFound
	}
	return post, nil
}

// CancelPost cancels a post that is not being published
func (m *PostManager) CancelPost(ctx context.Context, postID string) error {
	return m.postRepo.TransitionStatus(ctx, postID, publishableStatuses, domain.PostStatusCancelled)
}
