package history

import "errors"

var (
	// ErrInvalidArgument marks requests rejected before touching storage
	// (empty session id, empty content, unknown role).
	ErrInvalidArgument = errors.New("history: invalid argument")

	// ErrStorage marks a failure of the underlying storage engine.
	ErrStorage = errors.New("history: storage failure")

	// ErrUnknownDriver is returned by NewStore for driver names it does not recognize.
	ErrUnknownDriver = errors.New("history: unknown store driver")
)
