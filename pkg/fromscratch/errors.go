package fromscratch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrEventValidation indicates a tracking request is missing required fields
	ErrEventValidation = errors.New("event type and session id are required")

	// ErrTrackingDisabled indicates analytics capture is disabled outside production
	ErrTrackingDisabled = errors.New("analytics tracking is disabled")

	// ErrAdminExcluded indicates the caller is the site admin, whose visits are not tracked
	ErrAdminExcluded = errors.New("admin visits are not tracked")

	// ErrRateLimited indicates the session exceeded its event budget for the current window
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPostNotFound indicates a post was not found
	ErrPostNotFound = errors.New("post not found")

	// ErrSlugTaken indicates another post or project already uses the slug
	ErrSlugTaken = errors.New("slug already in use")

	// ErrProjectNotFound indicates a project was not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrPreviewTokenNotFound indicates no post holds the given preview token
	ErrPreviewTokenNotFound = errors.New("invalid preview token")

	// ErrPreviewTokenExpired indicates the token exists but is past its expiry
	ErrPreviewTokenExpired = errors.New("preview token expired")

	// ErrPostAlreadyPublished indicates a preview token was requested for a published post
	ErrPostAlreadyPublished = errors.New("post is already published")

	// ErrPreviewSuperseded indicates the owning post was published after issuance
	ErrPreviewSuperseded = errors.New("preview no longer needed: post is published")

	// ErrInvalidCategory indicates a post category outside the closed vocabulary
	ErrInvalidCategory = errors.New("invalid post category")

	// ErrMediaNotFound indicates no stored object matches the given key
	ErrMediaNotFound = errors.New("media not found")
)

// EventError represents an error related to analytics event operations
type EventError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("analytics operation %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// PostError represents an error related to post operations
type PostError struct {
	PostID uuid.UUID
	Op     string
	Err    error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("post operation %s failed for post %s: %v", e.Op, e.PostID, e.Err)
}

func (e *PostError) Unwrap() error {
	return e.Err
}
