package memory

import (
	"context"
	"sync"
	"time"

	"crosspost/internal/domain"
)

// PostRepository is an in-memory implementation of PostRepository
type PostRepository struct {
	mu    sync.RWMutex
	posts map[string]*domain.Post
}

// NewPostRepository creates a new in-memory post repository
func NewPostRepository() *PostRepository {
	return &PostRepository{
		posts: make(map[string]*domain.Post),
	}
}

// GetByID returns a post by its ID
func (r *PostRepository) GetByID(_ context.Context, id string) (*domain.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, exists := r.posts[id]
	if !exists {
		return nil, nil
	}

	return copyPost(post), nil
}

// Save creates or updates a post. Stored results are kept.
func (r *PostRepository) Save(_ context.Context, post *domain.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if post.ID == "" {
		post.ID = generateID()
		post.CreatedAt = time.Now()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if post.Status == "" {
		post.Status = domain.PostStatusPending
	}
	post.UpdatedAt = time.Now()

	stored := copyPost(post)
	if existing, ok := r.posts[post.ID]; ok {
		stored.Results = existing.Results
	} else {
		stored.Results = nil
	}
	r.posts[post.ID] = stored
	return nil
}

// TransitionStatus moves a post to the target status if its status is one of from
func (r *PostRepository) TransitionStatus(_ context.Context, id string, from []domain.PostStatus, to domain.PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, exists := r.posts[id]
	if !exists {
		return domain.ErrPostNotFound
	}
	for _, status := range from {
		if post.Status == status {
			post.Status = to
			post.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrPostNotPublishable
}

// CompleteAttempt stores the final status and appends the attempt results
func (r *PostRepository) CompleteAttempt(_ context.Context, id string, status domain.PostStatus, results []domain.PlatformResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, exists := r.posts[id]
	if !exists {
		return domain.ErrPostNotFound
	}
	post.Status = status
	post.Results = append(post.Results, results...)
	post.UpdatedAt = time.Now()
	return nil
}

func copyPost(post *domain.Post) *domain.Post {
	clone := *post
	clone.Thread = append([]string(nil), post.Thread...)
	clone.Platforms = append([]domain.Platform(nil), post.Platforms...)
	clone.AccountIDs = append([]string(nil), post.AccountIDs...)
	clone.Media = append([]domain.MediaRef(nil), post.Media...)
	clone.Results = append([]domain.PlatformResult(nil), post.Results...)
	if post.Overrides != nil {
		clone.Overrides = make(map[domain.Platform]domain.PlatformOverride, len(post.Overrides))
		for k, v := range post.Overrides {
			clone.Overrides[k] = v
		}
	}
	return &clone
}
