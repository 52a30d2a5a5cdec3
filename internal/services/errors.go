// Package services defines the business logic for subscriptions and
// newsletter publishing. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Subscription-related errors.
var (
	// ErrInvalidEmail is returned when a signup email fails validation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidName is returned when a signup name is empty or too long.
	ErrInvalidName = errors.New("invalid subscriber name")

	// ErrAlreadySubscribed is returned when the email is already registered.
	ErrAlreadySubscribed = errors.New("email already subscribed")

	// ErrTokenNotFound is returned when a confirmation token does not match
	// any pending subscription.
	ErrTokenNotFound = errors.New("subscription token not found")
)

// Publishing-related errors.
var (
	// ErrInvalidIdempotencyKey is returned when the client-supplied key is
	// empty, too long, or contains characters outside [A-Za-z0-9_-].
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrEmptyTitle is returned when a publish request has no title.
	ErrEmptyTitle = errors.New("issue title is empty")

	// ErrPublishInFlight indicates an idempotency record in an impossible
	// state: claimed but never completed and too fresh to take over. It maps
	// to a server error, not a retryable client condition.
	ErrPublishInFlight = errors.New("publish already in flight for this key")
)
