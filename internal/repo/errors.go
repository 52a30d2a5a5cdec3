// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes the sentinel errors shared by the
// repository functions.
package repo

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a row already exists for a unique key
	// (e.g. a subscriber email).
	ErrDuplicate = errors.New("duplicate")

	// ErrEmptyQueue indicates no claimable delivery task is available.
	ErrEmptyQueue = errors.New("delivery queue is empty")

	// ErrClaimInFlight indicates an idempotency claim exists for the key but
	// has no stored response and is not old enough to take over. With the
	// claim held inside the publish transaction this state should never be
	// observed on a committed row; it signals a protocol violation.
	ErrClaimInFlight = errors.New("idempotency claim in flight")

	// ErrLeaseLost indicates a delivery task could not be retired because the
	// caller no longer holds its lease.
	ErrLeaseLost = errors.New("delivery task lease lost")
)
