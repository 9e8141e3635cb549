package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/domain"
	"crosspost/internal/repository/memory"
)

func TestCreatePost(t *testing.T) {
	manager := NewPostManager(memory.NewPostRepository())
	ctx := context.Background()

	post, err := manager.CreatePost(ctx, PostInput{
		UserID:    "u-1",
		Content:   "launch day",
		Platforms: []string{"Twitter", "threads", "twitter"},
		Overrides: map[domain.Platform]domain.PlatformOverride{domain.PlatformThreads: {Content: "launch day!"}},
		Media:     []domain.MediaRef{{URL: "https://cdn.example.com/a.jpg", Kind: domain.MediaKindImage}},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Platform{domain.PlatformTwitter, domain.PlatformThreads}, post.Platforms)
	assert.Equal(t, domain.PostStatusPending, post.Status)

	stored, err := manager.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "launch day", stored.Content)

	_, err = manager.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestCreatePostDropsRepeatedAccounts(t *testing.T) {
	manager := NewPostManager(memory.NewPostRepository())

	post, err := manager.CreatePost(context.Background(), PostInput{
		Content:    "launch day",
		Platforms:  []string{"twitter"},
		AccountIDs: []string{"acc-1", "acc-2", "acc-1", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-1", "acc-2"}, post.AccountIDs)
}

func TestCreatePostValidation(t *testing.T) {
	manager := NewPostManager(memory.NewPostRepository())

	tests := []struct {
		name  string
		input PostInput
	}{
		{"empty", PostInput{Platforms: []string{"twitter"}}},
		{"no platforms", PostInput{Content: "x"}},
		{"override for untargeted platform", PostInput{Content: "x", Platforms: []string{"twitter"},
			Overrides: map[domain.Platform]domain.PlatformOverride{domain.PlatformThreads: {Content: "y"}}}},
		{"media without url", PostInput{Platforms: []string{"twitter"},
			Media: []domain.MediaRef{{Kind: domain.MediaKindImage}}}},
		{"media with unknown kind", PostInput{Platforms: []string{"twitter"},
			Media: []domain.MediaRef{{URL: "https://x/a.gif", Kind: "gif"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreatePost(context.Background(), tt.input)
			assert.Error(t, err)
		})
	}
}

func TestCancelPost(t *testing.T) {
	repo := memory.NewPostRepository()
	manager := NewPostManager(repo)
	ctx := context.Background()

	post, err := manager.CreatePost(ctx, PostInput{Content: "x", Platforms: []string{"twitter"}})
	require.NoError(t, err)
	require.NoError(t, manager.CancelPost(ctx, post.ID))

	stored, err := manager.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostStatusCancelled, stored.Status)

	assert.ErrorIs(t, manager.CancelPost(ctx, post.ID), domain.ErrPostNotPublishable)
	assert.ErrorIs(t, manager.CancelPost(ctx, "missing"), domain.ErrPostNotFound)

	inFlight, err := manager.CreatePost(ctx, PostInput{Content: "y", Platforms: []string{"twitter"}})
	require.NoError(t, err)
	require.NoError(t, repo.TransitionStatus(ctx, inFlight.ID,
		[]domain.PostStatus{domain.PostStatusPending}, domain.PostStatusPosting))
	assert.ErrorIs(t, manager.CancelPost(ctx, inFlight.ID), domain.ErrPostNotPublishable)
}
