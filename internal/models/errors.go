package models

import "errors"

// Sentinel errors shared by the storage layer and the services that sit on
// top of it. Stores translate backend-specific failures into these so the
// coordination code never imports a storage driver.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates an insert collided with an existing
	// deduplication key. The submitter resolves it by re-reading.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStaleVersion indicates an optimistic save lost the race: the row
	// changed since it was read. Callers treat the job as handled elsewhere.
	ErrStaleVersion = errors.New("stale version")
)
