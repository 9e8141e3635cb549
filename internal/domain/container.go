package domain

import (
	"fmt"
	"time"
)

// ContainerState is the lifecycle state of a platform publish container
type ContainerState string

const (
	// ContainerCreated means the platform accepted the container
	ContainerCreated ContainerState = "created"

	// ContainerProcessing means the platform is still fetching or transcoding media
	ContainerProcessing ContainerState = "processing"

	// ContainerReady means the container can be published
	ContainerReady ContainerState = "ready"

	// ContainerError means the platform failed to process the container
	ContainerError ContainerState = "error"

	// ContainerPublished means the container was published
	ContainerPublished ContainerState = "published"
)

var containerTransitions = map[ContainerState][]ContainerState{
	ContainerCreated:    {ContainerProcessing, ContainerReady, ContainerError},
	ContainerProcessing: {ContainerProcessing, ContainerReady, ContainerError},
	ContainerReady:      {ContainerPublished},
}

// PublishContainer tracks one container through create, poll and publish
type PublishContainer struct {
	// ID is the platform container id
	ID string

	// CreatedAt is when the container was created
	CreatedAt time.Time

	// State is the current state
	State ContainerState

	// Polls is the number of status polls performed
	Polls int

	// ExternalID is the published post id once State is published
	ExternalID string
}

// NewPublishContainer creates a container in the created state
func NewPublishContainer(id string, now time.Time) *PublishContainer {
	return &PublishContainer{ID: id, CreatedAt: now, State: ContainerCreated}
}

// Transition moves the container to the next state
func (c *PublishContainer) Transition(to ContainerState) error {
	for _, allowed := range containerTransitions[c.State] {
		if allowed == to {
			c.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid container transition %s -> %s", c.State, to)
}
