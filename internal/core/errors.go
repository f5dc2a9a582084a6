package core

import "errors"

var (
	// ErrStoreUnavailable means the durable store could not be reached.
	ErrStoreUnavailable = errors.New("durable store unavailable")
	// ErrStoreCorrupt means the fallback file could not be read or parsed.
	ErrStoreCorrupt = errors.New("fallback store corrupt")
	// ErrGenerationTimeout means the text-generation call exceeded its deadline.
	ErrGenerationTimeout = errors.New("narrative generation timed out")
	// ErrGenerationFailure means the text-generation call failed.
	ErrGenerationFailure = errors.New("narrative generation failed")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means submitted criteria were missing or out of range.
	ErrValidation = errors.New("validation failed")
	// ErrStaleReport means a report append did not advance the stored student count.
	ErrStaleReport = errors.New("report does not advance student count")
)
