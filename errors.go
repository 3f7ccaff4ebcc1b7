package offlinecache

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidTransition is returned when a lifecycle event arrives in a
	// state that cannot accept it, eg. activate before install.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrRedundant is returned by a worker that has been superseded or unregistered.
	ErrRedundant = errors.New("worker is redundant")

	// ErrMessageTimeout is returned by SendMessage when no reply arrives in time.
	ErrMessageTimeout = errors.New("worker did not reply in time")

	// ErrNotCached is returned by cache first strategies when both the
	// network and the fallbacks fail.
	ErrNotCached = errors.New("resource unavailable offline")

	ErrPrecacheFailed = errors.New("static pre-cache failed")
)
