package domain

import "errors"

var (
	// ErrAccountNotFound is returned when an account does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrPostNotFound is returned when a post does not exist
	ErrPostNotFound = errors.New("post not found")

	// ErrPostNotPublishable is returned when a post is not in a publishable status
	ErrPostNotPublishable = errors.New("post is not publishable")

	// ErrPostNotTerminal is returned when cleanup runs for a post that is still in flight
	ErrPostNotTerminal = errors.New("post is not in a terminal status")

	// ErrCleanupJobNotFound is returned when a cleanup job does not exist
	ErrCleanupJobNotFound = errors.New("cleanup job not found")

	// ErrInvalidCallback is returned when a cleanup callback fails verification
	ErrInvalidCallback = errors.New("invalid cleanup callback")
)
