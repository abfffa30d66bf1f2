package ledger

import "errors"

var (
	// ErrLocked is returned when another process holds the ledger lock
	// past the caller's deadline.
	ErrLocked = errors.New("ledger is locked by another process")

	// ErrCorrupt is returned for ledger files that cannot be trusted.
	ErrCorrupt = errors.New("ledger is corrupt")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("ledger is closed")
)
