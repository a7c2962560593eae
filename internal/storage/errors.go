package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned when an update's expected version does not
// match the stored version — another writer intervened. The caller must
// re-fetch and retry; the engine never auto-merges conflicting edits.
var ErrVersionConflict = errors.New("storage: version conflict")
