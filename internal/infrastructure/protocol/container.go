package protocol

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"crosspost/internal/domain"
)

// ContainerItem is one part of a container publish sequence
type ContainerItem struct {
	// Index is the 1-based position in the sequence
	Index int

	// Text is the caption or thread part text
	Text string

	// Media holds the media attached to this part
	Media []domain.PreparedMedia
}

// ContainerStatus is the platform-reported state of a container
type ContainerStatus struct {
	State   domain.ContainerState
	Message string
}

// ContainerAPI is the platform side of the container protocol
type ContainerAPI interface {
	CreateContainer(ctx context.Context, req domain.PublishRequest, item ContainerItem) (string, error)
	ContainerStatus(ctx context.Context, req domain.PublishRequest, containerID string) (ContainerStatus, error)
	PublishContainer(ctx context.Context, req domain.PublishRequest, containerID string) (string, error)
}

// ContainerFlow drives create → poll → publish for an ordered list of items.
// Containers are created and polled one at a time in order, then published one at a
// time in order with InterPublishDelay between publishes.
type ContainerFlow struct {
	Platform          domain.Platform
	API               ContainerAPI
	PollInterval      time.Duration
	MaxPolls          int
	InterPublishDelay time.Duration

	// Sleep waits between polls and publishes; nil uses Sleep
	Sleep func(ctx context.Context, d time.Duration) error

	// Now stamps container creation; nil uses time.Now
	Now func() time.Time
}

func (f ContainerFlow) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (f ContainerFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Run executes the sequence. A failure at item k stops the run, reports the k-1
// published items and never touches items after k.
func (f ContainerFlow) Run(ctx context.Context, req domain.PublishRequest, items []ContainerItem) domain.PlatformResult {
	metadata := make(map[string]string)
	containers := make([]*domain.PublishContainer, 0, len(items))

	for _, item := range items {
		container, err := f.prepare(ctx, req, item)
		if container != nil {
			metadata[containerKey(item.Index, len(items))] = container.ID
		}
		if err != nil {
			return FailedAt(req, f.Platform, fmt.Errorf("item %d: %w", item.Index, err), item.Index, nil, metadata)
		}
		containers = append(containers, container)
	}

	published := make([]domain.PublishedItem, 0, len(items))
	for i, container := range containers {
		if i > 0 {
			if err := f.sleep(ctx, f.InterPublishDelay); err != nil {
				return FailedAt(req, f.Platform, err, items[i].Index, published, metadata)
			}
		}
		id, err := f.API.PublishContainer(ctx, req, container.ID)
		if err != nil {
			return FailedAt(req, f.Platform, fmt.Errorf("publish item %d: %w", items[i].Index, err), items[i].Index, published, metadata)
		}
		if err := container.Transition(domain.ContainerPublished); err != nil {
			return FailedAt(req, f.Platform, err, items[i].Index, published, metadata)
		}
		container.ExternalID = id
		published = append(published, domain.PublishedItem{
			Index:       items[i].Index,
			ContainerID: container.ID,
			ExternalID:  id,
		})
	}

	if len(published) == 0 {
		return Failed(req, f.Platform, domain.NewPublishError(domain.ErrorKindValidation, "", "nothing to publish"), metadata)
	}
	if len(published) == 1 {
		published = nil
	}
	return Succeeded(req, f.Platform, containers[0].ExternalID, published, metadata)
}

// prepare creates one container and polls it until it is ready
func (f ContainerFlow) prepare(ctx context.Context, req domain.PublishRequest, item ContainerItem) (*domain.PublishContainer, error) {
	id, err := f.API.CreateContainer(ctx, req, item)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	container := domain.NewPublishContainer(id, f.now())

	maxPolls := f.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 1
	}
	for container.Polls < maxPolls {
		if container.Polls > 0 {
			if err := f.sleep(ctx, f.PollInterval); err != nil {
				return container, err
			}
		}
		container.Polls++

		status, err := f.API.ContainerStatus(ctx, req, id)
		if err != nil {
			return container, fmt.Errorf("poll container %s: %w", id, err)
		}
		if err := container.Transition(status.State); err != nil {
			return container, domain.WrapPublishError(domain.ErrorKindUpstreamRejected, err, "container %s", id)
		}
		switch container.State {
		case domain.ContainerReady:
			return container, nil
		case domain.ContainerError:
			return container, domain.NewPublishError(domain.ErrorKindUpstreamRejected, "container_error",
				"container %s failed processing: %s", id, status.Message)
		}
	}

	return container, domain.NewPublishError(domain.ErrorKindUpstreamUnavailable, "container_timeout",
		"container %s not ready after %d polls", id, container.Polls)
}

func containerKey(index, total int) string {
	if total == 1 {
		return "container_id"
	}
	return "container_id_" + strconv.Itoa(index)
}
