package store

import "errors"

// ErrNotFound is returned when an artifact, version, or manifest entry
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrIntegrity is returned when referential integrity is violated (a
// foreign-key target is missing) or when stored content fails hash
// verification. Integrity violations are fatal to the operation that
// detected them; callers should not retry.
var ErrIntegrity = errors.New("integrity violation")
